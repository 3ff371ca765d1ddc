package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// 遥测 topic
const (
	// TopicFrecencyUpdate 由流式 ETL 任务消费，仅在分组提交更新时发送
	TopicFrecencyUpdate = "frecency-update"
	// TopicStudyAddon 是全字符串形式的 study ping，所有分组都发送
	TopicStudyAddon = "shield-study-addon"
)

// Envelope 是一次发送的外层信封。
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Body      any       `json:"payload"`
}

// Transport 是遥测传输协作方（宿主 telemetry 服务、Kafka、日志……）。
// 本层不重试：每个 step 至多发送一次。
type Transport interface {
	Name() string
	Send(ctx context.Context, env *Envelope) error
}

// MemoryTransport 把信封保存在内存中，用于测试与本地回放。
type MemoryTransport struct {
	mu        sync.Mutex
	envelopes []*Envelope
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (t *MemoryTransport) Name() string { return "memory" }

func (t *MemoryTransport) Send(_ context.Context, env *Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envelopes = append(t.envelopes, env)
	return nil
}

// Envelopes 返回已发送信封的快照。
func (t *MemoryTransport) Envelopes() []*Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Envelope, len(t.envelopes))
	copy(out, t.envelopes)
	return out
}

// ByTopic 返回某个 topic 下的信封。
func (t *MemoryTransport) ByTopic(topic string) []*Envelope {
	var out []*Envelope
	for _, env := range t.Envelopes() {
		if env.Topic == topic {
			out = append(out, env)
		}
	}
	return out
}

// LogTransport 只把信封写进日志，不做真实投递。
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(_ context.Context, env *Envelope) error {
	body, err := json.Marshal(env.Body)
	if err != nil {
		return err
	}
	t.logger.Info().
		Str("ping_id", env.ID.String()).
		Str("topic", env.Topic).
		RawJSON("payload", body).
		Msg("Submitted ping")
	return nil
}

var (
	_ Transport = (*MemoryTransport)(nil)
	_ Transport = (*LogTransport)(nil)
)
