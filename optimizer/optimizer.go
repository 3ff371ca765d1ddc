// Package optimizer 实现在线学习的单步流程：每次搜索会话抽取特征、打分、
// 计算 hinge 损失与梯度、按分组配置更新权重，并提交遥测。
package optimizer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
	"github.com/rushteam/frecency/metrics"
	"github.com/rushteam/frecency/model"
	"github.com/rushteam/frecency/pipeline"
	"github.com/rushteam/frecency/telemetry"
)

// ErrStepInProgress 表示上一个 Step 尚未结束；事件应由宿主串行投递。
var ErrStepInProgress = core.NewDomainError(core.ModuleOptimizer, core.ErrorCodeBusy, "optimizer: step already in progress")

// Reporter 是遥测提交协作方，telemetry.Submitter 实现此接口。
type Reporter interface {
	Submit(ctx context.Context, p *telemetry.Payload, submitFrecencyUpdate bool) (bool, error)
}

// Config 是单个分组的优化配置。
type Config struct {
	Variation    string
	AddonVersion string

	// SubmitFrecencyUpdate 为 true 时应用梯度更新并发送 frecency-update ping
	SubmitFrecencyUpdate bool

	// LearningRate 梯度步长
	LearningRate float64
}

// Result 是一次 Step 的全部产出。
type Result struct {
	Features []core.Vector
	Scores   []float64
	Selected int
	Loss     float64
	Gradient core.Vector

	// Applied 表示权重已被更新
	Applied bool
	// ModelVersion 是打分时使用的模型版本（更新前）
	ModelVersion int

	Payload *telemetry.Payload
	Sent    bool
	// TelemetryErr 记录遥测失败（校验/传输），不影响本次 Step 的其他结果
	TelemetryErr error
}

// session 是在 Stage 之间传递的会话状态。
type session struct {
	event *core.InteractionEvent
	res   *Result
}

// Optimizer 持有模型并驱动每一步学习。
//
// 状态机：idle → observing → computing → updating → idle。
// 同一时刻只允许一个 Step，重入返回 ErrStepInProgress。
type Optimizer struct {
	cfg       Config
	model     *model.Linear
	extractor feature.Extractor
	loss      model.Loss
	reporter  Reporter
	metrics   *metrics.Collectors
	logger    zerolog.Logger
	hooks     []pipeline.Hook

	pipeline *pipeline.Pipeline[*session]
	state    atomic.Int32
	version  int
}

// Option 配置选项
type Option func(*Optimizer)

// WithExtractor 替换特征抽取器
func WithExtractor(e feature.Extractor) Option {
	return func(o *Optimizer) { o.extractor = e }
}

// WithLoss 替换损失函数
func WithLoss(l model.Loss) Option {
	return func(o *Optimizer) { o.loss = l }
}

// WithMetrics 设置指标，同时挂上 Stage 耗时 Hook
func WithMetrics(c *metrics.Collectors) Option {
	return func(o *Optimizer) {
		o.metrics = c
		if c != nil {
			o.hooks = append(o.hooks, c.StageHook())
		}
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithHooks 追加 Stage Hook
func WithHooks(hooks ...pipeline.Hook) Option {
	return func(o *Optimizer) { o.hooks = append(o.hooks, hooks...) }
}

// WithVersion 设置起始模型版本（通常来自持久化记录）
func WithVersion(v int) Option {
	return func(o *Optimizer) { o.version = v }
}

// New 创建优化器。reporter 为 nil 时不提交遥测。
func New(cfg Config, m *model.Linear, reporter Reporter, opts ...Option) (*Optimizer, error) {
	if m == nil {
		return nil, fmt.Errorf("optimizer: nil model")
	}
	if cfg.SubmitFrecencyUpdate && !(cfg.LearningRate > 0) {
		return nil, fmt.Errorf("optimizer: learning rate must be positive, got %v", cfg.LearningRate)
	}
	o := &Optimizer{
		cfg:       cfg,
		model:     m,
		extractor: feature.NewFrecencyExtractor(),
		loss:      model.HingeLoss{},
		reporter:  reporter,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.pipeline = pipeline.New[*session](
		stage("observe", pipeline.KindObserve, o.observe),
		stage("extract", pipeline.KindExtract, o.extract),
		stage("score", pipeline.KindScore, o.score),
		stage("loss", pipeline.KindLoss, o.computeLoss),
		stage("update", pipeline.KindUpdate, o.update),
		stage("report", pipeline.KindReport, o.report),
	).Use(stateHook{o: o}).Use(o.hooks...)
	return o, nil
}

func stage(name string, kind pipeline.Kind, fn func(context.Context, *session) error) pipeline.Stage[*session] {
	return pipeline.StageFunc[*session]{StageName: name, StageKind: kind, Fn: fn}
}

// Step 处理一次搜索会话。
//
// 遥测失败只记录在 Result.TelemetryErr 中，Step 仍然返回 nil error；
// 返回非 nil error 的情况只有重入与内部错误，此时权重不会被修改。
func (o *Optimizer) Step(ctx context.Context, ev core.InteractionEvent) (*Result, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateObserving)) {
		return nil, ErrStepInProgress
	}
	defer o.state.Store(int32(StateIdle))

	s := &session{event: &ev, res: &Result{}}
	if err := o.pipeline.Run(ctx, s); err != nil {
		o.metrics.ObserveStep(o.cfg.Variation, metrics.StepFailed, 0)
		o.logger.Error().Err(err).Str("variation", o.cfg.Variation).Msg("Optimizer step failed")
		return nil, err
	}

	outcome := metrics.StepSkipped
	if s.res.Applied {
		outcome = metrics.StepApplied
	}
	o.metrics.ObserveStep(o.cfg.Variation, outcome, s.res.Loss)
	return s.res, nil
}

// State 返回当前状态。
func (o *Optimizer) State() State {
	return State(o.state.Load())
}

// Version 返回已应用的更新次数（模型版本）。
func (o *Optimizer) Version() int { return o.version }

// Weights 返回当前权重副本。
func (o *Optimizer) Weights() core.Vector { return o.model.Weights() }

// Config 返回分组配置。
func (o *Optimizer) Config() Config { return o.cfg }

// Restore 用持久化记录覆盖当前模型，只能在两次 Step 之间调用。
func (o *Optimizer) Restore(version int, weights core.Vector) {
	o.model.SetWeights(weights)
	o.version = version
}

func (o *Optimizer) observe(_ context.Context, s *session) error {
	s.res.Selected = s.event.Selected()
	s.res.ModelVersion = o.version
	return nil
}

func (o *Optimizer) extract(_ context.Context, s *session) error {
	s.res.Features = o.extractor.Extract(s.event)
	if len(s.res.Features) != len(s.event.Candidates) {
		return fmt.Errorf("extractor %s returned %d vectors for %d candidates",
			o.extractor.Name(), len(s.res.Features), len(s.event.Candidates))
	}
	return nil
}

func (o *Optimizer) score(_ context.Context, s *session) error {
	s.res.Scores = make([]float64, len(s.res.Features))
	for i, f := range s.res.Features {
		s.res.Scores[i] = o.model.Score(f)
	}
	return nil
}

func (o *Optimizer) computeLoss(_ context.Context, s *session) error {
	s.res.Loss, s.res.Gradient = o.loss.Compute(s.res.Features, s.res.Scores, s.res.Selected)
	return nil
}

func (o *Optimizer) update(_ context.Context, s *session) error {
	if !o.cfg.SubmitFrecencyUpdate || s.res.Gradient.IsZero() {
		return nil
	}
	if err := o.model.ApplyUpdate(s.res.Gradient, o.cfg.LearningRate); err != nil {
		// 非有限梯度：跳过本次更新，权重保持不变
		o.logger.Warn().Err(err).Str("variation", o.cfg.Variation).Msg("Skipping weight update")
		return nil
	}
	o.version++
	s.res.Applied = true
	return nil
}

func (o *Optimizer) report(ctx context.Context, s *session) error {
	s.res.Payload = BuildPayload(s.event, s.res, o.cfg)
	if o.reporter == nil {
		return nil
	}
	sent, err := o.reporter.Submit(ctx, s.res.Payload, o.cfg.SubmitFrecencyUpdate)
	if err != nil {
		o.logger.Warn().Err(err).Str("variation", o.cfg.Variation).Msg("Telemetry dropped")
		s.res.TelemetryErr = err
		return nil
	}
	s.res.Sent = sent
	return nil
}

// stateHook 按 Stage 类型推进状态机。
type stateHook struct {
	o *Optimizer
}

func (h stateHook) BeforeStage(_ context.Context, kind pipeline.Kind, _ string) {
	h.o.state.Store(int32(stateFor(kind)))
}

func (h stateHook) AfterStage(context.Context, pipeline.Kind, string, time.Duration, error) {}
