// Package prefs 是宿主偏好设置（pref）桥接：把权重镜像成宿主可读的 pref，
// 并在实验结束时清理。
package prefs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
)

// DefaultBranch 是实验写入的 pref 前缀。
const DefaultBranch = "browser.urlbar.personalization.weight."

// Bridge 是宿主 pref 服务的最小接口。
type Bridge interface {
	SetFloat(ctx context.Context, name string, value float64) error
	ClearUserPref(ctx context.Context, name string) error
}

// Names 返回 branch 下全部 core.Dim 个 pref 名称，第 i 个对应权重第 i 维。
func Names(branch string) []string {
	if branch == "" {
		branch = DefaultBranch
	}
	out := make([]string, core.Dim)
	for i, name := range feature.Names {
		out[i] = branch + name
	}
	return out
}

// Mirror 把权重逐维写入宿主 pref，遇到第一个错误即返回。
func Mirror(ctx context.Context, b Bridge, branch string, weights core.Vector) error {
	for i, name := range Names(branch) {
		if err := b.SetFloat(ctx, name, weights[i]); err != nil {
			return fmt.Errorf("set pref %s: %w", name, err)
		}
	}
	return nil
}

// Clear 并发清理 branch 下所有 pref，返回第一个错误。
func Clear(ctx context.Context, b Bridge, branch string) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range Names(branch) {
		name := name
		eg.Go(func() error {
			if err := b.ClearUserPref(ctx, name); err != nil {
				return fmt.Errorf("clear pref %s: %w", name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// MemoryBridge 是内存实现，用于测试与本地回放。
type MemoryBridge struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{values: make(map[string]float64)}
}

func (m *MemoryBridge) SetFloat(_ context.Context, name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *MemoryBridge) ClearUserPref(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}

// Get 读取 pref，未设置时 ok 为 false。
func (m *MemoryBridge) Get(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

// Len 返回已设置的 pref 数量。
func (m *MemoryBridge) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

var _ Bridge = (*MemoryBridge)(nil)
