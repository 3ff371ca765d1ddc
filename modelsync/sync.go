// Package modelsync 在内存权重与持久化副本之间同步，记录按实验分组（variation）区分。
package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/core"
)

// DefaultKeyPrefix 是存储 key 的默认前缀。
const DefaultKeyPrefix = "frecency:model:"

// ErrSyncFailed 表示读写持久化记录失败，调用方（实验生命周期）决定是否重试或结束实验。
var ErrSyncFailed = core.NewDomainError(core.ModuleSync, core.ErrorCodeUnavailable, "sync: model record unavailable")

// ErrCorruptRecord 表示记录存在但无法解析。
var ErrCorruptRecord = core.NewDomainError(core.ModuleSync, core.ErrorCodeInvalidInput, "sync: corrupt model record")

// Record 是某个分组的模型持久化记录。
type Record struct {
	Variation   string      `json:"variation"`
	ModelNumber int         `json:"model_number"`
	Version     int         `json:"version"`
	Weights     core.Vector `json:"weights"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Synchronizer 通过 core.Store 读写某个分组的 Record。
type Synchronizer struct {
	store       core.Store
	keyPrefix   string
	variation   string
	modelNumber int
	initial     func() core.Vector
	logger      zerolog.Logger
	now         func() time.Time
}

// Option 配置选项
type Option func(*Synchronizer)

// WithKeyPrefix 设置 key 前缀
func WithKeyPrefix(prefix string) Option {
	return func(s *Synchronizer) { s.keyPrefix = prefix }
}

// WithModelNumber 设置写入记录的模型编号
func WithModelNumber(n int) Option {
	return func(s *Synchronizer) { s.modelNumber = n }
}

// WithInitialWeights 设置没有记录时使用的初始权重
func WithInitialWeights(fn func() core.Vector) Option {
	return func(s *Synchronizer) { s.initial = fn }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New 创建某个分组的同步器
func New(store core.Store, variation string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		keyPrefix: DefaultKeyPrefix,
		variation: variation,
		initial:   func() core.Vector { return core.Vector{} },
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key 返回该分组记录的存储 key。
func (s *Synchronizer) Key() string {
	return s.keyPrefix + s.variation
}

// Load 读取记录；记录不存在时返回 Version 为 0 的初始记录（不写回存储）。
func (s *Synchronizer) Load(ctx context.Context) (*Record, error) {
	data, err := s.store.Get(ctx, s.Key())
	if core.IsStoreNotFound(err) {
		s.logger.Info().Str("variation", s.variation).Msg("No stored model, starting from initial weights")
		return &Record{
			Variation:   s.variation,
			ModelNumber: s.modelNumber,
			Weights:     s.initial(),
			UpdatedAt:   s.now(),
		}, nil
	}
	if err != nil {
		return nil, ErrSyncFailed.Wrap(fmt.Errorf("get %s from %s: %w", s.Key(), s.store.Name(), err))
	}

	// weights 先解码为 slice，数组解码会把长度不符的记录静默补零或截断
	var stored struct {
		Record
		Weights []float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, ErrCorruptRecord.Wrap(err)
	}
	rec := stored.Record
	if rec.Variation != s.variation {
		return nil, ErrCorruptRecord.Wrap(fmt.Errorf("record variation %q, want %q", rec.Variation, s.variation))
	}
	var ok bool
	if rec.Weights, ok = core.VectorFromSlice(stored.Weights); !ok {
		return nil, ErrCorruptRecord.Wrap(fmt.Errorf("record has %d weights, want %d", len(stored.Weights), core.Dim))
	}
	if !rec.Weights.IsFinite() {
		return nil, ErrCorruptRecord.Wrap(core.ErrNonFinite)
	}
	s.logger.Debug().Str("variation", s.variation).Int("version", rec.Version).Msg("Loaded stored model")
	return &rec, nil
}

// Save 写入当前权重与版本。
func (s *Synchronizer) Save(ctx context.Context, version int, weights core.Vector) error {
	rec := Record{
		Variation:   s.variation,
		ModelNumber: s.modelNumber,
		Version:     version,
		Weights:     weights,
		UpdatedAt:   s.now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ErrSyncFailed.Wrap(err)
	}
	if err := s.store.Set(ctx, s.Key(), data); err != nil {
		return ErrSyncFailed.Wrap(fmt.Errorf("set %s in %s: %w", s.Key(), s.store.Name(), err))
	}
	s.logger.Debug().Str("variation", s.variation).Int("version", version).Msg("Saved model")
	return nil
}

// Reset 删除该分组的记录（实验结束时调用）。
func (s *Synchronizer) Reset(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.Key()); err != nil {
		return ErrSyncFailed.Wrap(err)
	}
	return nil
}
