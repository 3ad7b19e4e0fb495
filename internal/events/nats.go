package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds configuration for the NATS sink and listener.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables events entirely.
	URL string `koanf:"url"`

	// Name identifies the connection to the server.
	Name string `koanf:"name"`
}

// ApplyDefaults fills in default values.
func (c *NATSConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "recalld"
	}
}

// NATSSink publishes events as JSON to NATS subjects.
type NATSSink struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSSink connects to NATS and returns a sink.
func NewNATSSink(cfg NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: NATS URL required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return &NATSSink{conn: conn, logger: logger}, nil
}

// Emit publishes the JSON-encoded event.
func (s *NATSSink) Emit(ctx context.Context, subject string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.conn.Publish(subject, raw); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so in-flight publishes complete.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// ReindexHandler processes one dispatched reindex request.
type ReindexHandler func(ctx context.Context, req ReindexRequested) error

// Listener consumes dispatched reindex requests and runs them through
// the handler. Handler failures are logged, not retried; the next
// upstream mutation or reindex request converges the index.
type Listener struct {
	conn    *nats.Conn
	logger  *zap.Logger
	handler ReindexHandler
	sub     *nats.Subscription
}

// NewListener connects a reindex request consumer.
func NewListener(cfg NATSConfig, handler ReindexHandler, logger *zap.Logger) (*Listener, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: NATS URL required", ErrInvalidConfig)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name+"-listener"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	return &Listener{conn: conn, logger: logger, handler: handler}, nil
}

// Start subscribes to the reindex subject.
func (l *Listener) Start(ctx context.Context) error {
	sub, err := l.conn.Subscribe(SubjectReindexEntity, func(msg *nats.Msg) {
		var req ReindexRequested
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			l.logger.Warn("dropping malformed reindex request", zap.Error(err))
			return
		}

		l.logger.Info("reindex request received",
			zap.String("entity", req.EntityID),
			zap.String("tenant", req.TenantID))

		if err := l.handler(ctx, req); err != nil {
			l.logger.Error("reindex request failed",
				zap.String("entity", req.EntityID),
				zap.String("tenant", req.TenantID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectReindexEntity, err)
	}

	l.sub = sub
	return nil
}

// Close unsubscribes and drains the connection.
func (l *Listener) Close() error {
	if l.sub != nil {
		if err := l.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribing: %w", err)
		}
	}
	return l.conn.Drain()
}
