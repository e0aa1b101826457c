// Package messaging provides a NATS client wrapper for the moderation
// service. The chat gateway publishes inbound messages for review; the
// service answers with results, emits moderation events for the executor,
// and publishes offender notices.
package messaging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subject patterns.
const (
	SubjectModerationCheck  = "moderation.check"
	SubjectModerationResult = "moderation.result" // + .<guild_id>
	SubjectModEvent         = "modevent"          // + .<kind>
	SubjectNotice           = "notice"            // + .<guild_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "modguard",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// QueueSubscribe registers a handler in a queue group, so that replicas
// sharing the group split the subject's messages between them.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject+"#"+queue] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeModerationCheck subscribes to moderation check requests within
// the given queue group.
func (c *NATSClient) SubscribeModerationCheck(queue string, handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectModerationCheck, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishModerationRequest publishes a moderation check request.
func (c *NATSClient) PublishModerationRequest(data []byte) error {
	return c.Publish(SubjectModerationCheck, data)
}

// PublishModerationResult publishes a moderation result for a guild.
func (c *NATSClient) PublishModerationResult(guildID string, data []byte) error {
	return c.Publish(SubjectModerationResult+"."+guildID, data)
}

// ModEventSubject returns the subject a moderation event of kind is
// published on.
func ModEventSubject(kind string) string {
	return SubjectModEvent + "." + strings.ToLower(kind)
}

// PublishModEvent publishes a moderation event for the executor and flushes
// so that a lost connection surfaces as an error.
func (c *NATSClient) PublishModEvent(kind string, data []byte) error {
	if err := c.Publish(ModEventSubject(kind), data); err != nil {
		return fmt.Errorf("nats publish modevent: %w", err)
	}
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("nats flush modevent: %w", err)
	}
	return nil
}

// SubscribeModEvents subscribes to every moderation event.
func (c *NATSClient) SubscribeModEvents(handler func(data []byte)) error {
	return c.Subscribe(SubjectModEvent+".>", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishNotice publishes an offender notice for a guild.
func (c *NATSClient) PublishNotice(guildID string, data []byte) error {
	return c.Publish(SubjectNotice+"."+guildID, data)
}

// Connected reports whether the connection is currently up.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", zap.Error(err))
	}

	c.logger.Info("client closed")
}

// Unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
