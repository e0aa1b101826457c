package strike

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
	"github.com/whisper/modguard/internal/modlog"
)

// RepeatPolicy decides what happens on the third and later violations
// inside one cooldown window.
type RepeatPolicy string

const (
	// PolicyRepeat mutes again and leaves the window alone.
	PolicyRepeat RepeatPolicy = "repeat"
	// PolicyExtend mutes again and restarts the window.
	PolicyExtend RepeatPolicy = "extend"
	// PolicyEscalate kicks from the EscalateAt-th violation on.
	PolicyEscalate RepeatPolicy = "escalate"
)

// ParseRepeatPolicy validates a policy name.
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch p := RepeatPolicy(s); p {
	case PolicyRepeat, PolicyExtend, PolicyEscalate:
		return p, nil
	}
	return "", fmt.Errorf("strike: unknown repeat policy %q", s)
}

// Config holds tracker tuning.
type Config struct {
	Window     time.Duration // cooldown after the first violation
	Policy     RepeatPolicy
	EscalateAt int // violation count that triggers KICK under PolicyEscalate
}

// DefaultConfig returns a 24h cooldown with repeated mutes.
func DefaultConfig() Config {
	return Config{
		Window:     24 * time.Hour,
		Policy:     PolicyRepeat,
		EscalateAt: 3,
	}
}

// Outcome is the consequence of one recorded violation.
type Outcome struct {
	Offense   int
	Kind      modlog.Kind
	Notify    bool // send the one-time explanatory notice
	ExpiresAt time.Time
	Degraded  bool // the store failed; severity fell back to first offense
}

// Tracker maps violations to consequences.
type Tracker struct {
	store  Store
	config Config
	logger *zap.Logger
}

// NewTracker returns a Tracker over store.
func NewTracker(store Store, config Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Policy == "" {
		config.Policy = PolicyRepeat
	}
	if config.EscalateAt < 2 {
		config.EscalateAt = 3
	}
	return &Tracker{store: store, config: config, logger: logger.Named("strike")}
}

// Record registers a violation for the member identified by key and returns
// the consequence. Store failures never block: the violation is reported at
// first-offense severity and flagged as degraded.
func (t *Tracker) Record(ctx context.Context, key string) Outcome {
	extend := t.config.Policy == PolicyExtend
	st, err := t.store.Trip(ctx, key, t.config.Window, extend)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("strike").Inc()
		t.logger.Error("strike store failed, using first offense severity",
			zap.String("member", key), zap.Error(err))
		return Outcome{Offense: 1, Kind: modlog.KindDelete, Notify: true, Degraded: true}
	}

	out := Outcome{Offense: st.Count, ExpiresAt: st.ExpiresAt}
	switch {
	case st.Count <= 1:
		out.Kind = modlog.KindDelete
		out.Notify = true
	case t.config.Policy == PolicyEscalate && st.Count >= t.config.EscalateAt:
		out.Kind = modlog.KindKick
	default:
		out.Kind = modlog.KindMute
	}
	return out
}

// State returns the member's current strike.
func (t *Tracker) State(ctx context.Context, key string) (Strike, error) {
	return t.store.State(ctx, key)
}

// Pardon clears the member's strike so the next violation is a first
// offense again.
func (t *Tracker) Pardon(ctx context.Context, key string) error {
	return t.store.Clear(ctx, key)
}
