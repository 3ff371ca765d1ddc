// Package metrics 定义学习循环与遥测提交的 Prometheus 指标。
//
// 所有方法都允许 nil 接收者，未配置指标的组件可以直接持有 nil。
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/frecency/pipeline"
)

const namespace = "frecency"

// Ping 提交结果
const (
	PingSent     = "sent"
	PingFailed   = "failed"
	PingInvalid  = "invalid"
	PingPrivate  = "private"
	PingFiltered = "filtered"
)

// Step 结果
const (
	StepApplied = "applied" // 计算并应用了更新
	StepSkipped = "skipped" // 分组不提交更新或梯度为 0
	StepFailed  = "failed"
)

// Collectors 汇总全部指标。
type Collectors struct {
	Steps         *prometheus.CounterVec
	Loss          *prometheus.HistogramVec
	Updates       *prometheus.CounterVec
	Pings         *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New 创建并注册指标；reg 为 nil 时使用 prometheus.DefaultRegisterer。
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Optimizer steps by study variation and outcome.",
		}, []string{"variation", "outcome"}),
		Loss: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loss",
			Help:      "Hinge loss observed per search session.",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"variation"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_updates_total",
			Help:      "Gradient updates applied to the weight vector.",
		}, []string{"variation"}),
		Pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_total",
			Help:      "Telemetry pings by topic and result.",
		}, []string{"topic", "result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each optimizer stage.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"stage", "kind"}),
	}
	for _, col := range []prometheus.Collector{c.Steps, c.Loss, c.Updates, c.Pings, c.StageDuration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) ObserveStep(variation, outcome string, loss float64) {
	if c == nil {
		return
	}
	c.Steps.WithLabelValues(variation, outcome).Inc()
	if outcome != StepFailed {
		c.Loss.WithLabelValues(variation).Observe(loss)
	}
	if outcome == StepApplied {
		c.Updates.WithLabelValues(variation).Inc()
	}
}

func (c *Collectors) ObservePing(topic, result string) {
	if c == nil {
		return
	}
	c.Pings.WithLabelValues(topic, result).Inc()
}

// StageHook 把每个 Stage 的耗时写入 StageDuration。
func (c *Collectors) StageHook() pipeline.Hook {
	return stageHook{c: c}
}

type stageHook struct {
	c *Collectors
}

func (h stageHook) BeforeStage(context.Context, pipeline.Kind, string) {}

func (h stageHook) AfterStage(_ context.Context, kind pipeline.Kind, name string, elapsed time.Duration, _ error) {
	if h.c == nil {
		return
	}
	h.c.StageDuration.WithLabelValues(name, string(kind)).Observe(elapsed.Seconds())
}
