package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whisper/modguard/internal/modlog"
)

func TestActionVocabulary(t *testing.T) {
	tests := []struct {
		code     ActionCode
		kind     modlog.Kind
		duration time.Duration
	}{
		{ActionRemind, modlog.KindRemind, 0},
		{ActionWarnHour, modlog.KindWarn, time.Hour},
		{ActionWarnDay, modlog.KindWarn, 24 * time.Hour},
		{ActionWarnWeek, modlog.KindWarn, 7 * 24 * time.Hour},
		{ActionKick, modlog.KindKick, 0},
		{ActionBan, modlog.KindBan, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			a, ok := LookupAction(tt.code)
			assert.True(t, ok)
			assert.Equal(t, tt.kind, a.Kind)
			assert.Equal(t, tt.duration, a.Duration)
		})
	}

	_, ok := LookupAction("warn.year")
	assert.False(t, ok)
}

func TestReasonVocabulary(t *testing.T) {
	codes := []ReasonCode{ReasonSpam, ReasonTOS, ReasonUnrespectful, ReasonCopypaste, ReasonLowQuality, ReasonNSFW}
	assert.Len(t, Reasons, len(codes))
	for i, c := range codes {
		r, ok := LookupReason(c)
		assert.True(t, ok)
		assert.NotEmpty(t, r.Label)
		assert.Equal(t, c, Reasons[i].Code)
	}
}

func TestCombinePolicies(t *testing.T) {
	reasons := []ReasonCode{ReasonTOS, ReasonSpam}
	actions := []ActionCode{ActionWarnHour, ActionBan, ActionKick}

	label, action := FirstListed(reasons, actions)
	assert.Equal(t, "Goes against the Discord terms of service", label)
	assert.Equal(t, ActionWarnHour, action.Code)

	label, action = AllReasonsHarshest(reasons, actions)
	assert.Equal(t, "Goes against the Discord terms of service; Contains spam and is outside an acceptable channel", label)
	assert.Equal(t, ActionBan, action.Code)

	p, ok := ParseCombinePolicy("harshest")
	assert.True(t, ok)
	assert.NotNil(t, p)
	_, ok = ParseCombinePolicy("random")
	assert.False(t, ok)
}
