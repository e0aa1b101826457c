// Package dispatch hands moderation events to the escalation executor, the
// bot-side component that actually deletes, mutes, warns, kicks or bans.
// Handing the event over is the only step whose failure is reported to the
// caller; archiving and modlog webhooks are best effort.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
	"github.com/whisper/modguard/internal/modlog"
)

// Executor performs the consequence described by an event.
type Executor interface {
	Execute(ctx context.Context, ev modlog.Event) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, ev modlog.Event) error

func (f ExecutorFunc) Execute(ctx context.Context, ev modlog.Event) error {
	return f(ctx, ev)
}

// Archive persists events for later review.
type Archive interface {
	Record(ctx context.Context, ev modlog.Event) error
}

// Webhook announces events to moderators.
type Webhook interface {
	Send(ctx context.Context, ev modlog.Event) error
}

// Publisher is the subset of the NATS client used by BusExecutor.
type Publisher interface {
	PublishModEvent(kind string, data []byte) error
}

// BusExecutor publishes events on modevent.<kind> for the bot to execute.
type BusExecutor struct {
	pub Publisher
}

var _ Executor = (*BusExecutor)(nil)

func NewBusExecutor(pub Publisher) *BusExecutor {
	return &BusExecutor{pub: pub}
}

func (e *BusExecutor) Execute(_ context.Context, ev modlog.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dispatch: marshal event: %w", err)
	}
	return e.pub.PublishModEvent(string(ev.Kind), data)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithArchive records every executed event in a.
func WithArchive(a Archive) Option {
	return func(d *Dispatcher) { d.archive = a }
}

// WithWebhook announces every executed event through w.
func WithWebhook(w Webhook) Option {
	return func(d *Dispatcher) { d.webhook = w }
}

// Dispatcher fans an event out to the executor and the optional sinks.
type Dispatcher struct {
	exec    Executor
	archive Archive
	webhook Webhook
	logger  *zap.Logger
}

func New(exec Executor, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{exec: exec, logger: logger.Named("dispatch")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes ev and then archives and announces it. If the executor
// rejects the event nothing else happens and the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev modlog.Event) error {
	if err := d.exec.Execute(ctx, ev); err != nil {
		metrics.DeliveryFailures.WithLabelValues("executor").Inc()
		return fmt.Errorf("dispatch: execute %s %s: %w", ev.Kind, ev.ID, err)
	}
	metrics.ModEventsTotal.WithLabelValues(string(ev.Kind), string(ev.Source)).Inc()

	if d.archive != nil {
		if err := d.archive.Record(ctx, ev); err != nil {
			metrics.DeliveryFailures.WithLabelValues("archive").Inc()
			d.logger.Warn("archive event", zap.String("event", ev.ID), zap.Error(err))
		}
	}
	if d.webhook != nil {
		if err := d.webhook.Send(ctx, ev); err != nil {
			metrics.DeliveryFailures.WithLabelValues("webhook").Inc()
			d.logger.Warn("modlog webhook", zap.String("event", ev.ID), zap.Error(err))
		}
	}

	d.logger.Info("event dispatched",
		zap.String("event", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("source", string(ev.Source)),
		zap.String("guild", ev.GuildID),
		zap.String("target", ev.TargetUserID))
	return nil
}
