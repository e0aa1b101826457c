package trust

import (
	"context"
	"fmt"
	"slices"

	"github.com/whisper/modguard/internal/tagbag"
)

// RoleSource lists the roles whose members are trusted in a guild.
type RoleSource interface {
	TrustedRoles(ctx context.Context, guildID string) ([]string, error)
}

// RoleStore keeps a guild's trusted roles in its "trustedroles" tag.
type RoleStore struct {
	roles tagbag.Tag[[]string]
}

var _ RoleSource = (*RoleStore)(nil)

func NewRoleStore(store tagbag.Store) *RoleStore {
	return &RoleStore{roles: tagbag.NewTag[[]string](store, tagbag.TagTrustedRoles)}
}

// TrustedRoles lists the trusted role ids of a guild.
func (s *RoleStore) TrustedRoles(ctx context.Context, guildID string) ([]string, error) {
	roles, err := s.roles.Get(ctx, guildID, nil)
	if err != nil {
		return nil, fmt.Errorf("trust: trusted roles: %w", err)
	}
	return roles, nil
}

// AddTrustedRole marks role as trusted in the guild. Adding an existing
// role is a no-op.
func (s *RoleStore) AddTrustedRole(ctx context.Context, guildID, role string) error {
	roles, err := s.TrustedRoles(ctx, guildID)
	if err != nil {
		return err
	}
	if slices.Contains(roles, role) {
		return nil
	}
	return s.roles.Set(ctx, guildID, append(roles, role))
}

// RemoveTrustedRole removes role from the guild's trusted roles.
func (s *RoleStore) RemoveTrustedRole(ctx context.Context, guildID, role string) error {
	roles, err := s.TrustedRoles(ctx, guildID)
	if err != nil {
		return err
	}
	idx := slices.Index(roles, role)
	if idx < 0 {
		return nil
	}
	roles = slices.Delete(roles, idx, idx+1)
	if len(roles) == 0 {
		return s.roles.Delete(ctx, guildID)
	}
	return s.roles.Set(ctx, guildID, roles)
}

// RoleProvider trusts members holding any of their guild's trusted roles.
// The member's roles come from each request, so losing a role takes effect
// on the next message.
type RoleProvider struct {
	source RoleSource
}

var _ Provider = (*RoleProvider)(nil)

func NewRoleProvider(source RoleSource) *RoleProvider {
	return &RoleProvider{source: source}
}

func (p *RoleProvider) IsTrusted(ctx context.Context, a Actor) (bool, error) {
	if len(a.Roles) == 0 {
		return false, nil
	}
	trusted, err := p.source.TrustedRoles(ctx, a.GuildID)
	if err != nil {
		return false, err
	}
	for _, r := range a.Roles {
		if slices.Contains(trusted, r) {
			return true, nil
		}
	}
	return false, nil
}
