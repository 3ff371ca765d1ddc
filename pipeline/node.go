package pipeline

import "context"

// Kind 用于标记 Stage 所处阶段，方便观测/治理/编排（例如按阶段打点、驱动状态机）。
type Kind string

const (
	KindObserve Kind = "observe" // 接收并规范化一次交互事件
	KindExtract Kind = "extract" // 特征抽取
	KindScore   Kind = "score"   // 对候选打分
	KindLoss    Kind = "loss"    // 计算损失与梯度
	KindUpdate  Kind = "update"  // 更新权重
	KindReport  Kind = "report"  // 构造并提交遥测
)

// Stage 是 Pipeline 的最小可扩展单元。
// 所有 Stage 读写同一个会话状态 T，按顺序执行，任何一个返回错误则中止。
type Stage[T any] interface {
	Name() string
	Kind() Kind

	Process(ctx context.Context, state T) error
}

// StageFunc 把普通函数包装成 Stage。
type StageFunc[T any] struct {
	StageName string
	StageKind Kind
	Fn        func(ctx context.Context, state T) error
}

func (s StageFunc[T]) Name() string { return s.StageName }
func (s StageFunc[T]) Kind() Kind   { return s.StageKind }

func (s StageFunc[T]) Process(ctx context.Context, state T) error {
	if s.Fn == nil {
		return nil
	}
	return s.Fn(ctx, state)
}
