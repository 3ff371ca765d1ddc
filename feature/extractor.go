// Package feature 把一次地址栏搜索会话转换为每个候选的定长特征向量。
package feature

import (
	"math"
	"net/url"
	"strings"

	"github.com/rushteam/frecency/core"
)

// Extractor 是特征抽取器的统一接口，采用策略模式。
// 实现必须是纯函数：相同的 InteractionEvent 总是得到相同的特征。
type Extractor interface {
	// Extract 为每个候选返回一个特征向量，顺序与 ev.Candidates 一致；
	// 没有候选时返回空 slice，不返回错误。
	Extract(ev *core.InteractionEvent) []core.Vector

	// Name 返回抽取器名称（用于日志/监控）
	Name() string
}

// FrecencyExtractor 是默认的特征抽取器。
//
// 抽取内容（见 Names）：
//  1. 位置：rank、归一化 rank、rank 倒数
//  2. 宿主相关度：log1p(frecency)、frecency 在列表内的占比
//  3. 文本匹配：URL/host 前缀匹配、包含、覆盖率（忽略大小写、协议与 www.）
//  4. URL 结构：https、路径深度、是否带 query
//  5. 宿主 frecency 分解信号：log1p(signal)
type FrecencyExtractor struct {
	// MaxPathDepth 路径深度上限（0 表示不限制）
	MaxPathDepth int
}

// NewFrecencyExtractor 创建默认特征抽取器
func NewFrecencyExtractor(opts ...FrecencyExtractorOption) *FrecencyExtractor {
	e := &FrecencyExtractor{MaxPathDepth: 8}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FrecencyExtractorOption 抽取器配置选项
type FrecencyExtractorOption func(*FrecencyExtractor)

// WithMaxPathDepth 设置路径深度上限
func WithMaxPathDepth(depth int) FrecencyExtractorOption {
	return func(e *FrecencyExtractor) {
		e.MaxPathDepth = depth
	}
}

func (e *FrecencyExtractor) Name() string { return "frecency" }

func (e *FrecencyExtractor) Extract(ev *core.InteractionEvent) []core.Vector {
	if ev == nil || len(ev.Candidates) == 0 {
		return []core.Vector{}
	}

	n := len(ev.Candidates)
	maxFrecency := 0.0
	for _, c := range ev.Candidates {
		if c.Frecency > maxFrecency {
			maxFrecency = c.Frecency
		}
	}
	search := strings.ToLower(strings.TrimSpace(ev.SearchString))

	out := make([]core.Vector, n)
	for rank, c := range ev.Candidates {
		var f core.Vector
		f[SlotBias] = 1
		f[SlotRank] = float64(rank)
		if n > 1 {
			f[SlotRankNormalized] = float64(rank) / float64(n-1)
		}
		f[SlotRankReciprocal] = 1 / float64(rank+1)

		f[SlotFrecencyLog] = log1pPositive(c.Frecency)
		if maxFrecency > 0 && c.Frecency > 0 {
			f[SlotFrecencyShare] = c.Frecency / maxFrecency
		}

		e.urlFeatures(&f, c.URL, search)

		for _, s := range signalSlots {
			f[s.slot] = log1pPositive(c.Signals[s.key])
		}
		out[rank] = f
	}
	return out
}

func (e *FrecencyExtractor) urlFeatures(f *core.Vector, raw, search string) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	stripped := StripURL(lower)

	var host string
	u, err := url.Parse(lower)
	if err == nil {
		host = strings.TrimPrefix(u.Hostname(), "www.")
		if u.Scheme == "https" {
			f[SlotHTTPS] = 1
		}
		f[SlotPathDepth] = float64(e.pathDepth(u.Path))
		if u.RawQuery != "" || u.ForceQuery {
			f[SlotHasQuery] = 1
		}
	} else if strings.Contains(lower, "?") {
		f[SlotHasQuery] = 1
	}

	if search == "" {
		return
	}
	if strings.HasPrefix(stripped, search) {
		f[SlotURLPrefixMatch] = 1
	}
	if host != "" && strings.HasPrefix(host, search) {
		f[SlotHostPrefixMatch] = 1
	}
	if strings.Contains(lower, search) {
		f[SlotURLContainsSearch] = 1
	}
	if l := len([]rune(stripped)); l > 0 {
		f[SlotSearchCoverage] = math.Min(1, float64(len([]rune(search)))/float64(l))
	}
}

func (e *FrecencyExtractor) pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	if e.MaxPathDepth > 0 && depth > e.MaxPathDepth {
		return e.MaxPathDepth
	}
	return depth
}

// StripURL 去掉协议与 "www." 前缀，得到用户通常会键入的形式。
func StripURL(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	return strings.TrimPrefix(u, "www.")
}

func log1pPositive(x float64) float64 {
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Log1p(x)
}
