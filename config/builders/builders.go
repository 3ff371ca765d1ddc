// Package builders 注册内置的存储与遥测后端。
package builders

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/config"
	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/store"
	"github.com/rushteam/frecency/telemetry"
)

func init() {
	config.RegisterStore("memory", BuildMemoryStore)
	config.RegisterStore("redis", BuildRedisStore)
	config.RegisterTransport("memory", BuildMemoryTransport)
	config.RegisterTransport("log", BuildLogTransport)
	config.RegisterTransport("kafka", BuildKafkaTransport)
}

func BuildMemoryStore(context.Context, config.StoreConfig) (core.Store, error) {
	return store.NewMemoryStore(), nil
}

func BuildRedisStore(ctx context.Context, cfg config.StoreConfig) (core.Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr not found")
	}
	s, err := store.NewRedisStore(ctx, cfg.Addr, cfg.DB)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func BuildMemoryTransport(context.Context, config.TelemetryConfig, zerolog.Logger) (telemetry.Transport, error) {
	return telemetry.NewMemoryTransport(), nil
}

func BuildLogTransport(_ context.Context, _ config.TelemetryConfig, logger zerolog.Logger) (telemetry.Transport, error) {
	return telemetry.NewLogTransport(logger), nil
}

func BuildKafkaTransport(_ context.Context, cfg config.TelemetryConfig, _ zerolog.Logger) (telemetry.Transport, error) {
	t, err := telemetry.NewKafkaTransport(kafkaConfig(cfg.Kafka))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// kafkaConfig 只取 kafka 配置段；遥测 client_id 属于信封，不作为生产者 client id。
func kafkaConfig(cfg config.KafkaConfig) telemetry.KafkaConfig {
	return telemetry.KafkaConfig{
		Brokers:      cfg.Brokers,
		TopicPrefix:  cfg.TopicPrefix,
		ClientID:     cfg.ClientID,
		RequiredAcks: cfg.RequiredAcks,
		Compression:  cfg.Compression,
		MaxRetries:   cfg.MaxRetries,
	}
}
