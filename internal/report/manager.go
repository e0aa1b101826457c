package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
	"github.com/whisper/modguard/internal/modlog"
)

// ErrNotFound is returned for unknown or already reaped sessions.
var ErrNotFound = errors.New("report: session not found")

// ErrInvalidSnapshot is returned when a report is opened on a message
// without the identifiers an event needs.
var ErrInvalidSnapshot = errors.New("report: snapshot needs message and author ids")

// ManagerConfig holds report session tuning.
type ManagerConfig struct {
	// IdleTimeout is how long an open session may go without activity, and
	// how long a finished session is kept to reject late interactions.
	IdleTimeout time.Duration
	Policy      CombinePolicy
}

// DefaultManagerConfig matches the lifetime of an ephemeral interaction
// message.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout: 15 * time.Minute,
		Policy:      FirstListed,
	}
}

// Manager owns the live sessions, keyed by session id.
type Manager struct {
	sessions *xsync.Map[string, *Session]
	config   ManagerConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager returns an empty Manager. A nil clock uses time.Now.
func NewManager(config ManagerConfig, now func() time.Time, logger *zap.Logger) *Manager {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultManagerConfig().IdleTimeout
	}
	if config.Policy == nil {
		config.Policy = FirstListed
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: xsync.NewMap[string, *Session](),
		config:   config,
		now:      now,
		logger:   logger.Named("report"),
	}
}

// Open starts a session for reporterID on the snapshot.
func (m *Manager) Open(snap Snapshot, reporterID string) (*Session, error) {
	if snap.MessageID == "" || snap.AuthorID == "" {
		return nil, ErrInvalidSnapshot
	}
	if reporterID == "" {
		return nil, fmt.Errorf("report: open: reporter id is required")
	}

	s := NewSession(uuid.NewString(), snap, reporterID, m.now())
	m.sessions.Store(s.ID, s)
	metrics.ActiveReports.Inc()
	m.logger.Info("report opened",
		zap.String("session", s.ID),
		zap.String("reporter", reporterID),
		zap.String("message", snap.MessageID))
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// SelectReasons replaces the reason selection of a session.
func (m *Manager) SelectReasons(id, actor string, codes []string) (View, error) {
	s, err := m.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := s.SelectReasons(actor, codes, m.now()); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// SelectActions replaces the action selection of a session.
func (m *Manager) SelectActions(id, actor string, codes []string) (View, error) {
	s, err := m.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := s.SelectActions(actor, codes, m.now()); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// Submit submits a session and returns its event. The finished session is
// kept until reaped so that a second submit is rejected rather than unknown.
func (m *Manager) Submit(id, actor string) (modlog.Event, error) {
	s, err := m.Get(id)
	if err != nil {
		return modlog.Event{}, err
	}
	ev, err := s.Submit(actor, m.config.Policy, m.now())
	if err != nil {
		return modlog.Event{}, err
	}
	metrics.ActiveReports.Dec()
	metrics.ReportsTotal.WithLabelValues("submitted").Inc()
	m.logger.Info("report submitted",
		zap.String("session", id),
		zap.String("event", ev.ID),
		zap.String("kind", string(ev.Kind)))
	return ev, nil
}

// Cancel cancels a session on behalf of its owner.
func (m *Manager) Cancel(id, actor string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(actor, m.now()); err != nil {
		return err
	}
	metrics.ActiveReports.Dec()
	metrics.ReportsTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// AbandonOwnedBy cancels every open session of reporterID, e.g. when the
// moderator's console disconnects. It returns the abandoned session ids.
func (m *Manager) AbandonOwnedBy(reporterID string) []string {
	now := m.now()
	var ids []string
	m.sessions.Range(func(id string, s *Session) bool {
		if s.ReporterID == reporterID && s.Abandon(now) {
			ids = append(ids, id)
		}
		return true
	})
	for range ids {
		metrics.ActiveReports.Dec()
		metrics.ReportsTotal.WithLabelValues("cancelled").Inc()
	}
	return ids
}

// Reap abandons open sessions that went idle and forgets finished sessions
// older than the idle timeout. It returns the sessions that expired while
// still open so the caller can tell their owners.
func (m *Manager) Reap() []*Session {
	now := m.now()
	idle := m.config.IdleTimeout

	var expired []*Session
	m.sessions.Range(func(id string, s *Session) bool {
		switch gone, stale := s.expireIfIdle(now, idle); {
		case gone:
			expired = append(expired, s)
			metrics.ActiveReports.Dec()
			metrics.ReportsTotal.WithLabelValues("expired").Inc()
			// Keep the tombstone for one more idle period.
		case stale:
			m.sessions.Delete(id)
		}
		return true
	})
	if len(expired) > 0 {
		m.logger.Info("report sessions expired", zap.Int("count", len(expired)))
	}
	return expired
}

// Len returns the number of tracked sessions, including finished ones not
// yet reaped.
func (m *Manager) Len() int {
	return m.sessions.Size()
}
