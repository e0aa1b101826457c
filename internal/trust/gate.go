// Package trust decides which members are exempt from the gated link rules.
// Bots and moderators are always exempt; everyone else is asked of a
// Provider, which may perform I/O.
package trust

import (
	"context"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
)

// Actor is the set of member attributes the moderation core consumes.
type Actor struct {
	ID           string   `json:"id"`
	GuildID      string   `json:"guild_id"`
	Username     string   `json:"username"`
	IsBot        bool     `json:"is_bot"`
	IsModerator  bool     `json:"is_moderator"`
	CanPostLinks bool     `json:"can_post_links"`
	Roles        []string `json:"roles,omitempty"`
}

// Key identifies the member within its guild.
func (a Actor) Key() string {
	return a.GuildID + ":" + a.ID
}

// Provider answers whether a member is trusted.
type Provider interface {
	IsTrusted(ctx context.Context, a Actor) (bool, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, a Actor) (bool, error)

func (f ProviderFunc) IsTrusted(ctx context.Context, a Actor) (bool, error) {
	return f(ctx, a)
}

// Gate combines the static exemptions with a trust Provider.
type Gate struct {
	provider Provider
	logger   *zap.Logger
}

// NewGate returns a Gate. A nil provider trusts nobody.
func NewGate(provider Provider, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{provider: provider, logger: logger.Named("trust")}
}

// IsExempt reports whether a is exempt from gated rules. Provider errors
// are logged and treated as "not trusted".
func (g *Gate) IsExempt(ctx context.Context, a Actor) bool {
	if a.IsBot || a.IsModerator {
		return true
	}
	if g.provider == nil {
		return false
	}

	trusted, err := g.provider.IsTrusted(ctx, a)
	if err != nil {
		metrics.TrustErrors.Inc()
		g.logger.Warn("trust lookup failed, treating member as untrusted",
			zap.String("guild", a.GuildID),
			zap.String("user", a.ID),
			zap.Error(err))
		return false
	}
	return trusted
}
