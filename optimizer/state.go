package optimizer

import "github.com/rushteam/frecency/pipeline"

// State 是优化器状态机的状态。
type State int32

const (
	StateIdle      State = iota // 等待事件
	StateObserving              // 收到一次交互事件
	StateComputing              // 特征抽取、打分、损失
	StateUpdating               // 更新权重、提交遥测
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObserving:
		return "observing"
	case StateComputing:
		return "computing"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

func stateFor(kind pipeline.Kind) State {
	switch kind {
	case pipeline.KindObserve:
		return StateObserving
	case pipeline.KindExtract, pipeline.KindScore, pipeline.KindLoss:
		return StateComputing
	case pipeline.KindUpdate, pipeline.KindReport:
		return StateUpdating
	default:
		return StateObserving
	}
}
