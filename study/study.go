// Package study 是实验生命周期：按分组装配模型、优化器与观察者，
// 在实验结束时清理宿主状态。
package study

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
	"github.com/rushteam/frecency/metrics"
	"github.com/rushteam/frecency/model"
	"github.com/rushteam/frecency/modelsync"
	"github.com/rushteam/frecency/observer"
	"github.com/rushteam/frecency/optimizer"
	"github.com/rushteam/frecency/prefs"
)

var (
	ErrAlreadyStarted = core.NewDomainError(core.ModuleStudy, core.ErrorCodeBusy, "study: already started")
	ErrNotStarted     = core.NewDomainError(core.ModuleStudy, core.ErrorCodeUnavailable, "study: not started")
)

// Info 是宿主在 study-ready 时提供的实验信息。
type Info struct {
	Variation string `json:"variation"`

	// AddonVersion 非空时覆盖配置中的 addon_version
	AddonVersion string `json:"addon_version,omitempty"`
}

// Study 持有一次实验运行的全部组件。
type Study struct {
	cfg      *Config
	store    core.Store
	reporter optimizer.Reporter
	bridge   prefs.Bridge
	metrics  *metrics.Collectors
	logger   zerolog.Logger

	mu     sync.Mutex
	branch Branch
	opt    *optimizer.Optimizer
	syncer *modelsync.Synchronizer
	obs    *observer.Observer
}

// Option 配置选项
type Option func(*Study)

// WithPrefs 设置宿主 pref 桥接
func WithPrefs(b prefs.Bridge) Option {
	return func(s *Study) { s.bridge = b }
}

// WithMetrics 设置指标
func WithMetrics(c *metrics.Collectors) Option {
	return func(s *Study) { s.metrics = c }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(s *Study) { s.logger = l }
}

// New 创建实验。cfg 为 nil 时使用 Defaults()；reporter 为 nil 时不提交遥测。
func New(cfg *Config, store core.Store, reporter optimizer.Reporter, opts ...Option) *Study {
	if cfg == nil {
		cfg = Defaults()
	}
	s := &Study{
		cfg:      cfg,
		store:    store,
		reporter: reporter,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 处理 study-ready：解析分组，加载持久化模型，镜像 pref 并启动观察者。
func (s *Study) Start(ctx context.Context, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obs != nil {
		return ErrAlreadyStarted
	}

	branch, err := LookupBranch(info.Variation)
	if err != nil {
		return err
	}
	addonVersion := s.cfg.AddonVersion
	if info.AddonVersion != "" {
		addonVersion = info.AddonVersion
	}
	if addonVersion == "" {
		addonVersion = DefaultAddonVersion
	}
	logger := s.logger.With().Str("variation", branch.Name).Logger()

	syncer := modelsync.New(s.store, branch.Name,
		modelsync.WithKeyPrefix(s.cfg.Store.KeyPrefix),
		modelsync.WithModelNumber(branch.ModelNumber),
		modelsync.WithInitialWeights(feature.DefaultWeights),
		modelsync.WithLogger(logger),
	)
	rec, err := syncer.Load(ctx)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	opt, err := optimizer.New(optimizer.Config{
		Variation:            branch.Name,
		AddonVersion:         addonVersion,
		SubmitFrecencyUpdate: branch.SubmitFrecencyUpdate,
		LearningRate:         s.cfg.LearningRateFor(branch.Name),
	}, model.NewLinear(rec.Weights), s.reporter,
		optimizer.WithLoss(model.HingeLoss{Margin: s.cfg.Margin}),
		optimizer.WithMetrics(s.metrics),
		optimizer.WithLogger(logger),
		optimizer.WithVersion(rec.Version),
	)
	if err != nil {
		return err
	}

	obsOpts := []observer.Option{observer.WithSaver(syncer), observer.WithLogger(logger)}
	if s.bridge != nil {
		if err := prefs.Mirror(ctx, s.bridge, s.cfg.PrefBranch, rec.Weights); err != nil {
			return err
		}
		obsOpts = append(obsOpts, observer.WithPrefs(s.bridge, s.cfg.PrefBranch))
	}
	obs := observer.New(opt, obsOpts...)
	if err := obs.Start(); err != nil {
		return err
	}

	s.branch, s.opt, s.syncer, s.obs = branch, opt, syncer, obs
	logger.Info().
		Int("model_number", branch.ModelNumber).
		Bool("submit_frecency_update", branch.SubmitFrecencyUpdate).
		Int("version", rec.Version).
		Msg("Study started")
	return nil
}

// HandleHistorySearch 处理一条 onHistorySearch 消息。
func (s *Study) HandleHistorySearch(ctx context.Context, msg *observer.HistorySearch) (*optimizer.Result, error) {
	obs := s.current()
	if obs == nil {
		return nil, ErrNotStarted
	}
	return obs.Dispatch(ctx, msg)
}

// Flush 立即持久化当前模型。
func (s *Study) Flush(ctx context.Context) error {
	obs := s.current()
	if obs == nil {
		return ErrNotStarted
	}
	return obs.Flush(ctx)
}

// Stop 停止观察者（保存一次模型）并清理宿主 pref。
func (s *Study) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// End 处理 study-end：在 Stop 的基础上删除持久化模型。
func (s *Study) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	syncer := s.syncer
	if err := s.stopLocked(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	if syncer == nil {
		return ErrNotStarted
	}
	if err := syncer.Reset(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("variation", s.branch.Name).Msg("Study ended")
	return nil
}

func (s *Study) stopLocked(ctx context.Context) error {
	if s.obs == nil {
		return ErrNotStarted
	}
	stopErr := s.obs.Stop(ctx)
	if stopErr != nil {
		s.logger.Error().Err(stopErr).Msg("Failed to persist model on stop")
	}
	s.obs = nil

	var clearErr error
	if s.bridge != nil {
		clearErr = prefs.Clear(ctx, s.bridge, s.cfg.PrefBranch)
	}
	return errors.Join(stopErr, clearErr)
}

func (s *Study) current() *observer.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

// Branch 返回当前分组。
func (s *Study) Branch() Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branch
}

// Optimizer 返回当前优化器，未启动时为 nil。
func (s *Study) Optimizer() *optimizer.Optimizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opt
}
