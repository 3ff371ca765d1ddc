// Package config 描述存储与遥测后端的配置段，并按类型名构建实例。
package config

// StoreConfig 选择模型记录的存储后端。
type StoreConfig struct {
	Type      string `yaml:"type" json:"type"` // memory / redis
	Addr      string `yaml:"addr" json:"addr"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// KafkaConfig 是 kafka 传输的配置段。
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" json:"brokers"`
	TopicPrefix  string   `yaml:"topic_prefix" json:"topic_prefix"`
	ClientID     string   `yaml:"client_id" json:"client_id"` // Kafka 生产者 client id，空时取 frecency-telemetry
	RequiredAcks int16    `yaml:"required_acks" json:"required_acks"`
	Compression  string   `yaml:"compression" json:"compression"`
	MaxRetries   int      `yaml:"max_retries" json:"max_retries"`
}

// TelemetryConfig 选择遥测传输并设置提交参数。
type TelemetryConfig struct {
	Transport string      `yaml:"transport" json:"transport"` // memory / log / kafka
	ClientID  string      `yaml:"client_id" json:"client_id"` // 宿主遥测 client id，随信封上报
	Filter    string      `yaml:"filter" json:"filter"`       // CEL 表达式，空表示全部发送
	Kafka     KafkaConfig `yaml:"kafka" json:"kafka"`
}

// 默认后端
const (
	DefaultStoreType     = "memory"
	DefaultTransportType = "log"
)
