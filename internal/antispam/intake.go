package antispam

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/history"
	"github.com/whisper/modguard/internal/moderation"
	"github.com/whisper/modguard/internal/modlog"
)

// Subscriber delivers moderation check requests.
type Subscriber interface {
	SubscribeModerationCheck(queue string, handler func(data []byte)) error
}

// ResultPublisher sends moderation results back to the gateway.
type ResultPublisher interface {
	PublishModerationResult(guildID string, data []byte) error
}

// Dispatcher hands events to the escalation executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev modlog.Event) error
}

// IntakeConfig holds tunables for the request intake.
type IntakeConfig struct {
	Queue   string        // NATS queue group shared by replicas
	Workers int           // max concurrently processed requests
	Timeout time.Duration // per request deadline
}

// DefaultIntakeConfig returns sensible defaults.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		Queue:   "modguard",
		Workers: 64,
		Timeout: 5 * time.Second,
	}
}

// Intake consumes moderation requests from the bus, runs them through the
// Service and dispatches the resulting events.
type Intake struct {
	svc        *Service
	dispatcher Dispatcher
	results    ResultPublisher
	history    *history.Buffer
	config     IntakeConfig
	workerPool chan struct{} // semaphore limiting concurrent requests
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewIntake creates an Intake. hist may be nil when report context is not
// needed.
func NewIntake(svc *Service, dispatcher Dispatcher, results ResultPublisher, hist *history.Buffer, config IntakeConfig, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Intake{
		svc:        svc,
		dispatcher: dispatcher,
		results:    results,
		history:    hist,
		config:     config,
		workerPool: make(chan struct{}, config.Workers),
		logger:     logger.Named("intake"),
	}
}

// Run subscribes to moderation requests and blocks until ctx is done, then
// waits for in-flight requests to finish.
func (in *Intake) Run(ctx context.Context, sub Subscriber) error {
	err := sub.SubscribeModerationCheck(in.config.Queue, func(data []byte) {
		in.Handle(ctx, data)
	})
	if err != nil {
		return err
	}
	in.logger.Info("intake started",
		zap.String("queue", in.config.Queue),
		zap.Int("workers", in.config.Workers))

	<-ctx.Done()
	in.wg.Wait()
	in.logger.Info("intake stopped")
	return nil
}

// Handle schedules one raw request. It blocks while every worker is busy.
func (in *Intake) Handle(ctx context.Context, data []byte) {
	select {
	case in.workerPool <- struct{}{}:
	case <-ctx.Done():
		return
	}

	in.wg.Add(1)
	go func() {
		defer func() {
			<-in.workerPool
			in.wg.Done()
		}()
		in.process(ctx, data)
	}()
}

// Wait blocks until every scheduled request has been processed.
func (in *Intake) Wait() {
	in.wg.Wait()
}

func (in *Intake) process(ctx context.Context, data []byte) {
	var req moderation.ModerationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		in.logger.Warn("invalid moderation request", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.config.Timeout)
	defer cancel()

	m := FromRequest(req)
	d, err := in.svc.Premoderate(ctx, m)
	if err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			in.logger.Debug("message rejected", zap.String("message", m.ID), zap.Error(err))
		} else {
			in.logger.Error("premoderate", zap.String("message", m.ID), zap.Error(err))
		}
		return
	}

	if in.history != nil {
		in.history.Add(m.ChannelID, history.Entry{
			MessageID: m.ID,
			AuthorID:  m.Author.ID,
			Text:      m.Content,
			Ts:        req.Ts,
		})
	}

	if d.Event == nil {
		return
	}
	if err := in.dispatcher.Dispatch(ctx, *d.Event); err != nil {
		in.logger.Error("dispatch event", zap.String("message", m.ID), zap.Error(err))
		return
	}

	out, err := json.Marshal(d.Result(m))
	if err != nil {
		in.logger.Error("marshal result", zap.Error(err))
		return
	}
	if err := in.results.PublishModerationResult(m.GuildID, out); err != nil {
		in.logger.Warn("publish result", zap.String("message", m.ID), zap.Error(err))
	}
}
