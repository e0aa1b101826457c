package tagbag

import (
	"context"
	"encoding/json"
	"fmt"
)

// TagTrustedRoles holds the roles whose members bypass the gated rules.
const TagTrustedRoles = "trustedroles"

// Modlog webhook kinds. Each kind is stored under "webhook:<kind>mod".
const (
	WebhookDefault  = "default"
	WebhookSensible = "sensible"
	WebhookDelete   = "delete"
	WebhookPublic   = "public"
)

// WebhookTag returns the tag name holding the modlog webhook of kind.
func WebhookTag(kind string) string {
	return "webhook:" + kind + "mod"
}

// Tag is a typed view over a single tag name. Values are stored as JSON.
type Tag[T any] struct {
	store Store
	name  string
}

// NewTag binds name to store.
func NewTag[T any](store Store, name string) Tag[T] {
	return Tag[T]{store: store, name: name}
}

// Name returns the tag name.
func (t Tag[T]) Name() string { return t.name }

// Get returns the value stored in scope, or def when the tag is unset.
func (t Tag[T]) Get(ctx context.Context, scope string, def T) (T, error) {
	raw, ok, err := t.store.Get(ctx, scope, t.name)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def, fmt.Errorf("tagbag: decode %s/%s: %w", scope, t.name, err)
	}
	return v, nil
}

// Set stores v in scope.
func (t Tag[T]) Set(ctx context.Context, scope string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tagbag: encode %s/%s: %w", scope, t.name, err)
	}
	return t.store.Set(ctx, scope, t.name, string(data))
}

// Delete removes the tag from scope.
func (t Tag[T]) Delete(ctx context.Context, scope string) error {
	return t.store.Delete(ctx, scope, t.name)
}
