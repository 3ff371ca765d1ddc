package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/frecency/metrics"
	"github.com/rushteam/frecency/pkg/dsl"
)

// PrivacyContext 报告宿主是否打开了隐私浏览窗口。
type PrivacyContext interface {
	PrivateBrowsingOpen(ctx context.Context) (bool, error)
}

// PrivacyFunc 把函数适配为 PrivacyContext。
type PrivacyFunc func(ctx context.Context) (bool, error)

func (f PrivacyFunc) PrivateBrowsingOpen(ctx context.Context) (bool, error) { return f(ctx) }

// NoPrivateWindows 总是报告没有隐私窗口。
var NoPrivateWindows PrivacyContext = PrivacyFunc(func(context.Context) (bool, error) { return false, nil })

// Submitter 负责一次 ping 的完整提交链路：
//  1. 隐私门控：有隐私窗口时静默丢弃（不是错误）
//  2. schema 校验：不通过则记录错误日志并返回 ErrInvalidPayload，不发送
//  3. 表达式过滤（可选）：为 false 时静默丢弃
//  4. 分组提交更新时发送 frecency-update（带 client id）
//  5. 总是发送 study-addon 字符串 ping
type Submitter struct {
	transport Transport
	privacy   PrivacyContext
	filter    *dsl.Expr
	clientID  string
	metrics   *metrics.Collectors
	logger    zerolog.Logger
	now       func() time.Time
}

// SubmitterOption 提交器配置选项
type SubmitterOption func(*Submitter) error

// WithPrivacyContext 设置隐私门控
func WithPrivacyContext(p PrivacyContext) SubmitterOption {
	return func(s *Submitter) error {
		s.privacy = p
		return nil
	}
}

// WithFilter 设置 CEL 过滤表达式（构造时编译）
func WithFilter(expr string) SubmitterOption {
	return func(s *Submitter) error {
		e, err := dsl.Compile(expr)
		if err != nil {
			return fmt.Errorf("telemetry filter: %w", err)
		}
		s.filter = e
		return nil
	}
}

// WithClientID 设置 frecency-update ping 附带的 client id
func WithClientID(id string) SubmitterOption {
	return func(s *Submitter) error {
		s.clientID = id
		return nil
	}
}

// WithMetrics 设置指标
func WithMetrics(c *metrics.Collectors) SubmitterOption {
	return func(s *Submitter) error {
		s.metrics = c
		return nil
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) SubmitterOption {
	return func(s *Submitter) error {
		s.logger = l
		return nil
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) SubmitterOption {
	return func(s *Submitter) error {
		s.now = now
		return nil
	}
}

// NewSubmitter 创建提交器
func NewSubmitter(transport Transport, opts ...SubmitterOption) (*Submitter, error) {
	if transport == nil {
		return nil, fmt.Errorf("telemetry: nil transport")
	}
	s := &Submitter{
		transport: transport,
		privacy:   NoPrivateWindows,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Submit 提交一次 ping。返回值 sent 表示 ping 是否被发送；
// 隐私门控与过滤导致的丢弃返回 (false, nil)。
func (s *Submitter) Submit(ctx context.Context, p *Payload, submitFrecencyUpdate bool) (bool, error) {
	private, err := s.privacy.PrivateBrowsingOpen(ctx)
	if err != nil {
		s.metrics.ObservePing(TopicStudyAddon, metrics.PingFailed)
		return false, fmt.Errorf("privacy context: %w", err)
	}
	if private {
		// 有隐私窗口：不发送任何遥测
		s.logger.Debug().Msg("Private browsing window open, dropping ping")
		s.metrics.ObservePing(TopicStudyAddon, metrics.PingPrivate)
		return false, nil
	}

	s.logger.Debug().Interface("payload", p).Msg("Telemetry about to be validated")
	if err := p.Validate(); err != nil {
		s.logger.Error().Err(err).Interface("payload", p).Msg("Invalid telemetry payload")
		s.metrics.ObservePing(TopicStudyAddon, metrics.PingInvalid)
		return false, err
	}

	if s.filter != nil {
		ok, err := s.evalFilter(p, submitFrecencyUpdate)
		if err != nil {
			s.logger.Warn().Err(err).Str("filter", s.filter.String()).Msg("Telemetry filter failed, dropping ping")
			s.metrics.ObservePing(TopicStudyAddon, metrics.PingFiltered)
			return false, err
		}
		if !ok {
			s.metrics.ObservePing(TopicStudyAddon, metrics.PingFiltered)
			return false, nil
		}
	}

	if submitFrecencyUpdate {
		if err := s.send(ctx, TopicFrecencyUpdate, s.clientID, p); err != nil {
			return false, err
		}
	}
	if err := s.send(ctx, TopicStudyAddon, "", p.StudyFields()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Submitter) send(ctx context.Context, topic, clientID string, body any) error {
	env := &Envelope{
		ID:        uuid.New(),
		Topic:     topic,
		ClientID:  clientID,
		CreatedAt: s.now(),
		Body:      body,
	}
	if err := s.transport.Send(ctx, env); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Str("transport", s.transport.Name()).Msg("Failed to submit ping")
		s.metrics.ObservePing(topic, metrics.PingFailed)
		return fmt.Errorf("submit %s ping: %w", topic, err)
	}
	s.logger.Debug().Str("topic", topic).Str("ping_id", env.ID.String()).Msg("Submitted ping")
	s.metrics.ObservePing(topic, metrics.PingSent)
	return nil
}

func (s *Submitter) evalFilter(p *Payload, submitFrecencyUpdate bool) (bool, error) {
	m, err := p.Map()
	if err != nil {
		return false, err
	}
	return s.filter.Evaluate(m, map[string]any{
		"variation":              p.StudyVariation,
		"addon_version":          p.StudyAddonVersion,
		"submit_frecency_update": submitFrecencyUpdate,
	})
}
