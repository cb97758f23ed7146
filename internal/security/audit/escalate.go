// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
)

// =============================================================================
// ALERTS
// =============================================================================

// Alert describes an audit write that could not be made durable.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"`
	Error     string    `json:"error"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action,omitempty"`
	Category  string    `json:"category,omitempty"`
}

// Escalator raises an operational alert for a failed audit write.
type Escalator interface {
	Escalate(ctx context.Context, alert Alert) error
}

// =============================================================================
// LOG ESCALATOR
// =============================================================================

// LogEscalator writes alerts as error-level log entries.
type LogEscalator struct {
	logger *zap.Logger
}

// NewLogEscalator returns an escalator writing to logger.
func NewLogEscalator(logger *zap.Logger) *LogEscalator {
	return &LogEscalator{logger: logging.OrNop(logger)}
}

func (e *LogEscalator) Escalate(_ context.Context, a Alert) error {
	e.logger.Error("AU-5: audit write failed",
		zap.String("op", a.Op),
		zap.String("error", a.Error),
		zap.String("actor_id", a.ActorID),
		zap.String("action", a.Action),
		zap.String("category", a.Category),
		zap.Time("at", a.Timestamp),
	)
	return nil
}

// =============================================================================
// REDIS ESCALATOR
// =============================================================================

// Publisher is the subset of *redis.Client used for alerts.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// DefaultAlertChannel is the pub/sub channel alerts are published on.
const DefaultAlertChannel = "lexguard:audit:alerts"

// RedisEscalator publishes alerts as JSON on a pub/sub channel. A token
// bucket bounds the publish rate; suppressed alerts are counted.
type RedisEscalator struct {
	client  Publisher
	channel string
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// RedisOption configures a RedisEscalator.
type RedisOption func(*RedisEscalator)

// WithChannel overrides DefaultAlertChannel.
func WithChannel(channel string) RedisOption {
	return func(e *RedisEscalator) {
		if channel != "" {
			e.channel = channel
		}
	}
}

// WithRateLimit sets the sustained alert rate and burst.
func WithRateLimit(perSecond float64, burst int) RedisOption {
	return func(e *RedisEscalator) {
		if perSecond > 0 && burst > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithEscalatorMetrics records published and suppressed alerts.
func WithEscalatorMetrics(m *metrics.Metrics) RedisOption {
	return func(e *RedisEscalator) {
		e.metrics = m
	}
}

// NewRedisEscalator returns an escalator publishing through client.
// Defaults: DefaultAlertChannel, 1 alert/s with a burst of 10.
func NewRedisEscalator(client Publisher, opts ...RedisOption) *RedisEscalator {
	e := &RedisEscalator{
		client:  client,
		channel: DefaultAlertChannel,
		limiter: rate.NewLimiter(rate.Limit(1), 10),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RedisEscalator) Escalate(ctx context.Context, a Alert) error {
	if !e.limiter.Allow() {
		e.metrics.Escalation(true)
		return nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := e.client.Publish(ctx, e.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert to %s: %w", e.channel, err)
	}
	e.metrics.Escalation(false)
	return nil
}

// =============================================================================
// MULTI ESCALATOR
// =============================================================================

// MultiEscalator delivers every alert to each escalator in order.
type MultiEscalator []Escalator

func (m MultiEscalator) Escalate(ctx context.Context, a Alert) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Escalate(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
