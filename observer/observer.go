// Package observer 接收宿主的 onHistorySearch 消息，在单个 goroutine 中串行驱动优化器，
// 并在权重更新后持久化模型。
package observer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/optimizer"
	"github.com/rushteam/frecency/prefs"
)

// ErrNotRunning 表示观察者尚未启动或已经停止。
var ErrNotRunning = core.NewDomainError(core.ModuleObserver, core.ErrorCodeUnavailable, "observer: not running")

// HistorySearch 是宿主在每次地址栏历史搜索结束后发送的消息。
type HistorySearch struct {
	URLs          []core.Candidate  `json:"urls"`
	SelectedIndex int               `json:"selectedIndex"`
	NumTypedChars int               `json:"numTypedChars"`
	SearchString  string            `json:"searchString,omitempty"`
	Interaction   *core.Interaction `json:"interaction,omitempty"`
}

// Event 转换为优化器消费的 InteractionEvent。
func (m *HistorySearch) Event() core.InteractionEvent {
	return core.InteractionEvent{
		Candidates:    m.URLs,
		SelectedIndex: m.SelectedIndex,
		NumTypedChars: m.NumTypedChars,
		SearchString:  m.SearchString,
		Interaction:   m.Interaction,
	}
}

// Learner 是观察者驱动的优化器，optimizer.Optimizer 实现此接口。
type Learner interface {
	Step(ctx context.Context, ev core.InteractionEvent) (*optimizer.Result, error)
	Version() int
	Weights() core.Vector
}

// Saver 持久化模型，modelsync.Synchronizer 实现此接口。
type Saver interface {
	Save(ctx context.Context, version int, weights core.Vector) error
}

type requestKind int

const (
	kindStep requestKind = iota
	kindFlush
	kindStop
)

type request struct {
	ctx   context.Context
	kind  requestKind
	msg   *HistorySearch
	reply chan reply
}

type reply struct {
	res *optimizer.Result
	err error
}

// Observer 把所有事件与保存请求排进同一个队列，由一个 goroutine 逐个处理完毕，
// 因此保存永远不会与权重更新并发。
type Observer struct {
	learner Learner
	saver   Saver
	bridge  prefs.Bridge
	branch  string
	logger  zerolog.Logger

	reqs    chan request
	done    chan struct{}
	started atomic.Bool
}

// Option 配置选项
type Option func(*Observer)

// WithSaver 设置权重更新后的持久化目标
func WithSaver(s Saver) Option {
	return func(o *Observer) { o.saver = s }
}

// WithPrefs 在每次持久化后把权重镜像到宿主 pref
func WithPrefs(b prefs.Bridge, branch string) Option {
	return func(o *Observer) {
		o.bridge = b
		o.branch = branch
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// New 创建观察者，需调用 Start 后才接收消息。
func New(learner Learner, opts ...Option) *Observer {
	o := &Observer{
		learner: learner,
		logger:  zerolog.Nop(),
		reqs:    make(chan request),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start 启动事件循环，只能调用一次。
func (o *Observer) Start() error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("observer: already started")
	}
	go o.loop()
	o.logger.Debug().Msg("Observer started")
	return nil
}

// Dispatch 投递一条消息并等待处理结果。
// 权重已更新但持久化失败时，同时返回 Result 与错误。
// ctx 取消只放弃等待，已入队的 Step 仍会执行完毕。
func (o *Observer) Dispatch(ctx context.Context, msg *HistorySearch) (*optimizer.Result, error) {
	if msg == nil {
		return nil, fmt.Errorf("observer: nil message")
	}
	return o.call(ctx, kindStep, msg)
}

// Flush 立即保存当前模型。
func (o *Observer) Flush(ctx context.Context) error {
	_, err := o.call(ctx, kindFlush, nil)
	return err
}

// Stop 等待之前入队的请求处理完，保存一次后结束事件循环。
func (o *Observer) Stop(ctx context.Context) error {
	_, err := o.call(ctx, kindStop, nil)
	return err
}

// Done 在事件循环结束后关闭。
func (o *Observer) Done() <-chan struct{} { return o.done }

func (o *Observer) call(ctx context.Context, kind requestKind, msg *HistorySearch) (*optimizer.Result, error) {
	if !o.started.Load() {
		return nil, ErrNotRunning
	}
	req := request{ctx: context.WithoutCancel(ctx), kind: kind, msg: msg, reply: make(chan reply, 1)}
	select {
	case o.reqs <- req:
	case <-o.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Observer) loop() {
	defer close(o.done)
	for req := range o.reqs {
		r := o.handle(req)
		req.reply <- r
		if req.kind == kindStop {
			o.logger.Debug().Err(r.err).Msg("Observer stopped")
			return
		}
	}
}

func (o *Observer) handle(req request) reply {
	switch req.kind {
	case kindFlush, kindStop:
		return reply{err: o.persist(req.ctx)}
	}

	res, err := o.learner.Step(req.ctx, req.msg.Event())
	if err != nil {
		return reply{err: err}
	}
	if res.Applied {
		if err := o.persist(req.ctx); err != nil {
			o.logger.Error().Err(err).Int("version", o.learner.Version()).Msg("Failed to persist model")
			return reply{res: res, err: err}
		}
	}
	return reply{res: res}
}

func (o *Observer) persist(ctx context.Context) error {
	version, weights := o.learner.Version(), o.learner.Weights()
	if o.saver != nil {
		if err := o.saver.Save(ctx, version, weights); err != nil {
			return err
		}
	}
	if o.bridge != nil {
		if err := prefs.Mirror(ctx, o.bridge, o.branch, weights); err != nil {
			return fmt.Errorf("mirror prefs: %w", err)
		}
	}
	return nil
}
