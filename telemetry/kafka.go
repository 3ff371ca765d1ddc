package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaTransport 把信封同步写入 Kafka（生产环境推荐）。
// 每个遥测 topic 映射到 TopicPrefix + topic。
type KafkaTransport struct {
	client      *kgo.Client
	topicPrefix string
}

// KafkaConfig Kafka 传输配置
type KafkaConfig struct {
	Brokers     []string // Kafka Broker 地址列表
	TopicPrefix string   // Kafka Topic 前缀，如 "telemetry."

	ClientID     string // 客户端 ID
	RequiredAcks int16  // 需要的 ACK 数量（1=leader, -1=all，默认 1）
	Compression  string // 压缩类型（gzip, snappy, lz4, zstd）
	MaxRetries   int    // 最大重试次数（客户端内部重试，不影响本层至多一次的语义）
}

// NewKafkaTransport 创建 Kafka 传输
func NewKafkaTransport(config KafkaConfig) (*KafkaTransport, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if config.ClientID == "" {
		config.ClientID = "frecency-telemetry"
	}
	if config.RequiredAcks == 0 {
		config.RequiredAcks = 1
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ClientID(config.ClientID),
	}

	switch config.RequiredAcks {
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	default:
		// 幂等写要求 AllISRAcks，其他 ACK 级别需关闭
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}

	if config.MaxRetries > 0 {
		opts = append(opts, kgo.RecordRetries(config.MaxRetries))
	}

	switch config.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &KafkaTransport{client: client, topicPrefix: config.TopicPrefix}, nil
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Send(ctx context.Context, env *Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: t.topicPrefix + env.Topic,
		Key:   []byte(env.ID.String()),
		Value: value,
	}
	return t.client.ProduceSync(ctx, record).FirstErr()
}

// Close 等待缓冲数据发送完成后关闭客户端。
func (t *KafkaTransport) Close() {
	t.client.Close()
}

var _ Transport = (*KafkaTransport)(nil)
