package feature

import "github.com/rushteam/frecency/core"

// 特征槽位。布局固定，权重向量的第 i 维与特征的第 i 维一一对应，
// 宿主 pref 名称也由 Names[i] 派生，因此调整顺序等于换了一个模型。
const (
	SlotBias = iota
	SlotRank
	SlotRankNormalized
	SlotRankReciprocal
	SlotFrecencyLog
	SlotFrecencyShare
	SlotURLPrefixMatch
	SlotHostPrefixMatch
	SlotURLContainsSearch
	SlotSearchCoverage
	SlotHTTPS
	SlotPathDepth
	SlotHasQuery
	SlotSignalTyped
	SlotSignalLink
	SlotSignalBookmark
	SlotSignalDownload
	SlotSignalRedirectPermanent
	SlotSignalRedirectTemporary
	SlotSignalReload
	SlotSignalEmbed
	SlotSignalFramedLink

	slotCount
)

// 编译期断言：槽位数量必须等于 core.Dim。
var _ [core.Dim - slotCount]struct{}
var _ [slotCount - core.Dim]struct{}

// Signal* 是 Candidate.Signals 中识别的访问类型 key。
const (
	SignalTyped             = "typed"
	SignalLink              = "link"
	SignalBookmark          = "bookmark"
	SignalDownload          = "download"
	SignalRedirectPermanent = "redirect_permanent"
	SignalRedirectTemporary = "redirect_temporary"
	SignalReload            = "reload"
	SignalEmbed             = "embed"
	SignalFramedLink        = "framed_link"
)

// signalSlots 按槽位顺序列出宿主信号，保证抽取顺序确定。
var signalSlots = [...]struct {
	slot int
	key  string
}{
	{SlotSignalTyped, SignalTyped},
	{SlotSignalLink, SignalLink},
	{SlotSignalBookmark, SignalBookmark},
	{SlotSignalDownload, SignalDownload},
	{SlotSignalRedirectPermanent, SignalRedirectPermanent},
	{SlotSignalRedirectTemporary, SignalRedirectTemporary},
	{SlotSignalReload, SignalReload},
	{SlotSignalEmbed, SignalEmbed},
	{SlotSignalFramedLink, SignalFramedLink},
}

// Names 是每个槽位的特征名（用于日志、pref 名称与调试输出）。
var Names = [core.Dim]string{
	SlotBias:                    "bias",
	SlotRank:                    "rank",
	SlotRankNormalized:          "rank_normalized",
	SlotRankReciprocal:          "rank_reciprocal",
	SlotFrecencyLog:             "frecency_log",
	SlotFrecencyShare:           "frecency_share",
	SlotURLPrefixMatch:          "url_prefix_match",
	SlotHostPrefixMatch:         "host_prefix_match",
	SlotURLContainsSearch:       "url_contains_search",
	SlotSearchCoverage:          "search_coverage",
	SlotHTTPS:                   "https",
	SlotPathDepth:               "path_depth",
	SlotHasQuery:                "has_query",
	SlotSignalTyped:             "signal_" + SignalTyped,
	SlotSignalLink:              "signal_" + SignalLink,
	SlotSignalBookmark:          "signal_" + SignalBookmark,
	SlotSignalDownload:          "signal_" + SignalDownload,
	SlotSignalRedirectPermanent: "signal_" + SignalRedirectPermanent,
	SlotSignalRedirectTemporary: "signal_" + SignalRedirectTemporary,
	SlotSignalReload:            "signal_" + SignalReload,
	SlotSignalEmbed:             "signal_" + SignalEmbed,
	SlotSignalFramedLink:        "signal_" + SignalFramedLink,
}

// DefaultWeights 是某个实验分组还没有持久化记录时的初始权重：
// 主要依赖宿主 frecency，排名倒数与前缀匹配作为次要信号。
func DefaultWeights() core.Vector {
	var w core.Vector
	w[SlotFrecencyShare] = 1
	w[SlotFrecencyLog] = 0.1
	w[SlotRankReciprocal] = 0.5
	w[SlotURLPrefixMatch] = 0.5
	return w
}

// ToMap 把向量按特征名展开，便于日志输出。
func ToMap(v core.Vector) map[string]float64 {
	out := make(map[string]float64, core.Dim)
	for i, name := range Names {
		out[name] = v[i]
	}
	return out
}
