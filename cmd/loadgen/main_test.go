package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/modguard/internal/moderation"
)

func TestGeneratorTexts(t *testing.T) {
	rules := moderation.DefaultRules()
	for _, text := range spamTexts {
		_, ok := rules.Gated.Classify(text)
		assert.True(t, ok, text)
	}
	for _, text := range cleanTexts {
		_, ok := rules.Gated.Classify(text)
		assert.False(t, ok, text)
	}
}

func TestGeneratorRequests(t *testing.T) {
	g := &generator{guilds: 2, users: 3, spamRatio: 1}
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		req := g.next()
		require.NoError(t, moderation.ValidateMessage(req.Text))
		assert.Contains(t, []string{"g0", "g1"}, req.GuildID)
		assert.Contains(t, spamTexts, req.Text)
		assert.False(t, seen[req.MessageID])
		seen[req.MessageID] = true
	}
}
