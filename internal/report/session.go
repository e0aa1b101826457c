// Package report implements the interactive report flow: a moderator opens a
// report on a message, picks reasons and actions, and submits exactly one
// moderation event. Each report is an explicit state machine advanced by
// discrete select, submit and cancel calls.
package report

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/whisper/modguard/internal/history"
	"github.com/whisper/modguard/internal/modlog"
)

// ErrNotAllowed is wrapped by every rejected interaction. The session is
// left untouched when it is returned.
var ErrNotAllowed = errors.New("report: not allowed")

var (
	ErrNotOwner         = fmt.Errorf("%w: not your session", ErrNotAllowed)
	ErrAlreadySubmitted = fmt.Errorf("%w: already submitted", ErrNotAllowed)
	ErrCancelled        = fmt.Errorf("%w: session cancelled", ErrNotAllowed)
	ErrNotReady         = fmt.Errorf("%w: pick at least one reason and one action", ErrNotAllowed)
)

// ErrUnknownCode is returned for selections outside the vocabulary.
var ErrUnknownCode = errors.New("report: unknown code")

// State is the position of a session in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StatePartial
	StateReady
	StateSubmitted
	StateCancelled
)

var stateNames = [...]string{"EMPTY", "PARTIAL", "READY", "SUBMITTED", "CANCELLED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateCancelled
}

// Snapshot is the reported message as it looked when the report was opened.
type Snapshot struct {
	MessageID  string          `json:"message_id"`
	ChannelID  string          `json:"channel_id"`
	GuildID    string          `json:"guild_id"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name"`
	Content    string          `json:"content"`
	Context    []history.Entry `json:"context,omitempty"`
}

// Session is one report interaction. All methods are safe for concurrent
// use; mutations are applied in arrival order.
type Session struct {
	ID         string
	Snapshot   Snapshot
	ReporterID string
	CreatedAt  time.Time

	mu           sync.Mutex
	reasons      []ReasonCode
	actions      []ActionCode
	state        State
	lastActivity time.Time
}

// NewSession opens a session owned by reporterID.
func NewSession(id string, snap Snapshot, reporterID string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Snapshot:     snap,
		ReporterID:   reporterID,
		CreatedAt:    now,
		lastActivity: now,
	}
}

// checkMutable must be called with mu held.
func (s *Session) checkMutable(actor string) error {
	if actor != s.ReporterID {
		return ErrNotOwner
	}
	switch s.state {
	case StateSubmitted:
		return ErrAlreadySubmitted
	case StateCancelled:
		return ErrCancelled
	}
	return nil
}

// recompute must be called with mu held.
func (s *Session) recompute() {
	switch {
	case len(s.reasons) > 0 && len(s.actions) > 0:
		s.state = StateReady
	case len(s.reasons) > 0 || len(s.actions) > 0:
		s.state = StatePartial
	default:
		s.state = StateEmpty
	}
}

// SelectReasons replaces the selected reasons. Duplicates are dropped and
// selection order is kept.
func (s *Session) SelectReasons(actor string, codes []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable(actor); err != nil {
		return err
	}
	picked, err := dedupe(codes, func(c string) bool {
		_, ok := LookupReason(ReasonCode(c))
		return ok
	})
	if err != nil {
		return err
	}
	s.reasons = make([]ReasonCode, len(picked))
	for i, c := range picked {
		s.reasons[i] = ReasonCode(c)
	}
	s.lastActivity = now
	s.recompute()
	return nil
}

// SelectActions replaces the selected actions. Duplicates are dropped and
// selection order is kept.
func (s *Session) SelectActions(actor string, codes []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable(actor); err != nil {
		return err
	}
	picked, err := dedupe(codes, func(c string) bool {
		_, ok := LookupAction(ActionCode(c))
		return ok
	})
	if err != nil {
		return err
	}
	s.actions = make([]ActionCode, len(picked))
	for i, c := range picked {
		s.actions[i] = ActionCode(c)
	}
	s.lastActivity = now
	s.recompute()
	return nil
}

// Submit moves a READY session to SUBMITTED and returns its event. It
// succeeds at most once.
func (s *Session) Submit(actor string, policy CombinePolicy, now time.Time) (modlog.Event, error) {
	if policy == nil {
		policy = FirstListed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable(actor); err != nil {
		return modlog.Event{}, err
	}
	if s.state != StateReady {
		return modlog.Event{}, ErrNotReady
	}

	reason, action := policy(s.reasons, s.actions)
	opts := []modlog.Option{
		modlog.WithSource(modlog.SourceReport),
		modlog.WithReporter(s.ReporterID),
		modlog.WithTime(now),
	}
	if action.Duration > 0 {
		opts = append(opts, modlog.WithDuration(action.Duration))
	}
	ev := modlog.Build(modlog.Target{
		GuildID:   s.Snapshot.GuildID,
		ChannelID: s.Snapshot.ChannelID,
		MessageID: s.Snapshot.MessageID,
		UserID:    s.Snapshot.AuthorID,
		Content:   s.Snapshot.Content,
	}, action.Kind, reason, opts...)

	s.state = StateSubmitted
	s.lastActivity = now
	return ev, nil
}

// Cancel discards the session without producing an event.
func (s *Session) Cancel(actor string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable(actor); err != nil {
		return err
	}
	s.state = StateCancelled
	s.lastActivity = now
	return nil
}

// Abandon cancels the session on behalf of the surrounding layer (UI
// dismissed, connection lost, idle timeout). It reports whether the session
// was still open.
func (s *Session) Abandon(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = StateCancelled
	s.lastActivity = now
	return true
}

// expireIfIdle abandons an open session that has seen no activity for
// idle. stale reports a finished session idle for as long. The check and the
// transition happen under one lock so a selection arriving meanwhile keeps
// the session alive.
func (s *Session) expireIfIdle(now time.Time, idle time.Duration) (expired, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastActivity) < idle {
		return false, false
	}
	if s.state.Terminal() {
		return false, true
	}
	s.state = StateCancelled
	s.lastActivity = now
	return true, false
}

// IsExpired reports whether the session has seen no activity for idle.
func (s *Session) IsExpired(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) >= idle
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OptionView is one menu entry.
type OptionView struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// View is the render model of a session: both menus with their selected
// entries marked, and whether the submit button is enabled.
type View struct {
	SessionID string       `json:"session_id"`
	State     State        `json:"state"`
	Snapshot  Snapshot     `json:"snapshot"`
	Reasons   []OptionView `json:"reasons"`
	Actions   []OptionView `json:"actions"`
	CanSubmit bool         `json:"can_submit"`
}

// View renders the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID: s.ID,
		State:     s.state,
		Snapshot:  s.Snapshot,
		Reasons:   make([]OptionView, len(Reasons)),
		Actions:   make([]OptionView, len(Actions)),
		CanSubmit: s.state == StateReady,
	}
	for i, r := range Reasons {
		v.Reasons[i] = OptionView{Code: string(r.Code), Label: r.Label, Selected: slices.Contains(s.reasons, r.Code)}
	}
	for i, a := range Actions {
		v.Actions[i] = OptionView{Code: string(a.Code), Label: a.Label, Selected: slices.Contains(s.actions, a.Code)}
	}
	return v
}

func dedupe(codes []string, valid func(string) bool) ([]string, error) {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !valid(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCode, c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
