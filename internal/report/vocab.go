package report

import (
	"strings"
	"time"

	"github.com/whisper/modguard/internal/modlog"
)

// ReasonCode identifies why a moderator is acting on a message.
type ReasonCode string

const (
	ReasonSpam         ReasonCode = "spam"
	ReasonTOS          ReasonCode = "tos"
	ReasonUnrespectful ReasonCode = "unrespectful"
	ReasonCopypaste    ReasonCode = "copypaste"
	ReasonLowQuality   ReasonCode = "lowquality"
	ReasonNSFW         ReasonCode = "nsfw"
)

// ActionCode identifies the sanction a moderator picked.
type ActionCode string

const (
	ActionRemind   ActionCode = "remind"
	ActionWarnHour ActionCode = "warn.hour"
	ActionWarnDay  ActionCode = "warn.day"
	ActionWarnWeek ActionCode = "warn.week"
	ActionKick     ActionCode = "kick"
	ActionBan      ActionCode = "ban"
)

// Reason is a reason code with its fixed label.
type Reason struct {
	Code  ReasonCode
	Label string
}

// Action is an action code with its label and the event it maps to.
// Severity orders actions from lightest to harshest.
type Action struct {
	Code     ActionCode
	Label    string
	Kind     modlog.Kind
	Duration time.Duration
	Severity int
}

// Reasons lists the reason vocabulary in menu order.
var Reasons = []Reason{
	{ReasonSpam, "Contains spam and is outside an acceptable channel"},
	{ReasonTOS, "Goes against the Discord terms of service"},
	{ReasonUnrespectful, "Disrespectful or harmful message"},
	{ReasonCopypaste, "Copy and paste of an assignment or exercise statement"},
	{ReasonLowQuality, "This message is of too low quality"},
	{ReasonNSFW, "This message is explicit or NSFW"},
}

// Actions lists the action vocabulary in menu order.
var Actions = []Action{
	{ActionRemind, "Friendly reminder (no sanction)", modlog.KindRemind, 0, 0},
	{ActionWarnHour, "Warn (60 minutes)", modlog.KindWarn, time.Hour, 1},
	{ActionWarnDay, "Warn (24 hours)", modlog.KindWarn, 24 * time.Hour, 2},
	{ActionWarnWeek, "Warn (7 days)", modlog.KindWarn, 7 * 24 * time.Hour, 3},
	{ActionKick, "Kick (may rejoin)", modlog.KindKick, 0, 4},
	{ActionBan, "Ban (may not rejoin)", modlog.KindBan, 0, 5},
}

// LookupReason returns the reason for code.
func LookupReason(code ReasonCode) (Reason, bool) {
	for _, r := range Reasons {
		if r.Code == code {
			return r, true
		}
	}
	return Reason{}, false
}

// LookupAction returns the action for code.
func LookupAction(code ActionCode) (Action, bool) {
	for _, a := range Actions {
		if a.Code == code {
			return a, true
		}
	}
	return Action{}, false
}

// CombinePolicy turns the selections of a ready session into the reason
// text and action of its single event. Both slices are non-empty and keep
// selection order.
type CombinePolicy func(reasons []ReasonCode, actions []ActionCode) (string, Action)

// FirstListed uses the first selected reason and the first selected action.
func FirstListed(reasons []ReasonCode, actions []ActionCode) (string, Action) {
	r, _ := LookupReason(reasons[0])
	a, _ := LookupAction(actions[0])
	return r.Label, a
}

// AllReasonsHarshest joins every selected reason label and applies the
// harshest selected action.
func AllReasonsHarshest(reasons []ReasonCode, actions []ActionCode) (string, Action) {
	labels := make([]string, 0, len(reasons))
	for _, code := range reasons {
		r, _ := LookupReason(code)
		labels = append(labels, r.Label)
	}

	harshest, _ := LookupAction(actions[0])
	for _, code := range actions[1:] {
		if a, _ := LookupAction(code); a.Severity > harshest.Severity {
			harshest = a
		}
	}
	return strings.Join(labels, "; "), harshest
}

// ParseCombinePolicy maps a configuration name to a policy.
func ParseCombinePolicy(name string) (CombinePolicy, bool) {
	switch name {
	case "", "first":
		return FirstListed, true
	case "harshest":
		return AllReasonsHarshest, true
	}
	return nil, false
}
