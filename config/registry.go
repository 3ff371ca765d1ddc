package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/telemetry"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/frecency/config/builders"
// 以触发内置后端（memory、redis、log、kafka）的 init 注册。

// StoreBuilder 根据配置构建 Store。
type StoreBuilder func(ctx context.Context, cfg StoreConfig) (core.Store, error)

// TransportBuilder 根据配置构建遥测传输。
type TransportBuilder func(ctx context.Context, cfg TelemetryConfig, logger zerolog.Logger) (telemetry.Transport, error)

var (
	mu         sync.RWMutex
	stores     = make(map[string]StoreBuilder)
	transports = make(map[string]TransportBuilder)
)

// RegisterStore 注册一种存储后端，建议在 init 中调用。
func RegisterStore(typeName string, builder StoreBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	stores[typeName] = builder
}

// RegisterTransport 注册一种遥测传输，建议在 init 中调用。
func RegisterTransport(typeName string, builder TransportBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	transports[typeName] = builder
}

// SupportedStores 返回已注册的存储类型（排序），用于错误提示与校验。
func SupportedStores() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(stores)
}

// SupportedTransports 返回已注册的传输类型（排序）。
func SupportedTransports() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(transports)
}

// BuildStore 按 cfg.Type 构建存储，空类型取 DefaultStoreType。
func BuildStore(ctx context.Context, cfg StoreConfig) (core.Store, error) {
	if cfg.Type == "" {
		cfg.Type = DefaultStoreType
	}
	mu.RLock()
	b, ok := stores[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type %q (supported: %v)", cfg.Type, SupportedStores())
	}
	s, err := b(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build store %s: %w", cfg.Type, err)
	}
	return s, nil
}

// BuildTransport 按 cfg.Transport 构建遥测传输，空类型取 DefaultTransportType。
func BuildTransport(ctx context.Context, cfg TelemetryConfig, logger zerolog.Logger) (telemetry.Transport, error) {
	if cfg.Transport == "" {
		cfg.Transport = DefaultTransportType
	}
	mu.RLock()
	b, ok := transports[cfg.Transport]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported transport %q (supported: %v)", cfg.Transport, SupportedTransports())
	}
	t, err := b(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build transport %s: %w", cfg.Transport, err)
	}
	return t, nil
}

// Validate 校验配置中的后端类型均已注册；空类型视为默认值。
func Validate(s StoreConfig, t TelemetryConfig) error {
	mu.RLock()
	defer mu.RUnlock()
	if s.Type != "" {
		if _, ok := stores[s.Type]; !ok {
			return fmt.Errorf("unsupported store type %q (supported: %v)", s.Type, sortedKeys(stores))
		}
	}
	if t.Transport != "" {
		if _, ok := transports[t.Transport]; !ok {
			return fmt.Errorf("unsupported transport %q (supported: %v)", t.Transport, sortedKeys(transports))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
