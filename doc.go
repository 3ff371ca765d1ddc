// Package frecency 是地址栏 frecency 个性化实验的在线学习工具包。
//
// 设计要点：
// - Step-first: 每次搜索会话经过 observe → extract → score → loss → update → report 六个 Stage
// - 定长权重：特征、权重与梯度都是 core.Vector（22 维），长度不变量由类型保证
// - 遥测门控：隐私窗口、schema 校验、表达式过滤依次把关，不合法的载荷永不发送
package frecency

import (
	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/observer"
	"github.com/rushteam/frecency/study"
)

// 轻量 facade：便于用户直接 import "frecency" 使用核心抽象。
type Vector = core.Vector
type Candidate = core.Candidate
type InteractionEvent = core.InteractionEvent
type HistorySearch = observer.HistorySearch
type Study = study.Study
type StudyInfo = study.Info

const (
	Dim         = core.Dim
	NoSelection = core.NoSelection
)

// NewStudy 见 study.New
var NewStudy = study.New
