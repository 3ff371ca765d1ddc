package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Hook 在每个 Stage 执行前后被调用，用于日志、打点与状态机切换。
type Hook interface {
	BeforeStage(ctx context.Context, kind Kind, name string)
	AfterStage(ctx context.Context, kind Kind, name string, elapsed time.Duration, err error)
}

// Pipeline 把一次学习步骤拆成可组合的 Stage 链。
type Pipeline[T any] struct {
	Stages []Stage[T]
	Hooks  []Hook
}

// New 按顺序组装 Stage。
func New[T any](stages ...Stage[T]) *Pipeline[T] {
	return &Pipeline[T]{Stages: stages}
}

// Use 追加 Hook，返回自身便于链式调用。
func (p *Pipeline[T]) Use(hooks ...Hook) *Pipeline[T] {
	p.Hooks = append(p.Hooks, hooks...)
	return p
}

// Run 依次执行所有 Stage，第一个错误会被包装上 Stage 名称后返回。
func (p *Pipeline[T]) Run(ctx context.Context, state T) error {
	for _, stage := range p.Stages {
		kind, name := stage.Kind(), stage.Name()
		for _, h := range p.Hooks {
			h.BeforeStage(ctx, kind, name)
		}

		start := time.Now()
		err := stage.Process(ctx, state)
		elapsed := time.Since(start)

		for _, h := range p.Hooks {
			h.AfterStage(ctx, kind, name, elapsed, err)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return nil
}
