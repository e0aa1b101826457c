// Package protocol defines the moderator console WebSocket messages. All
// messages are JSON objects with a "type" discriminator; the report_view
// payload is the report session render model.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/modguard/internal/report"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeOpenReport    = "open_report"
	TypeSelectReasons = "select_reasons"
	TypeSelectActions = "select_actions"
	TypeSubmitReport  = "submit_report"
	TypeCancelReport  = "cancel_report"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeReportView      = "report_view"
	TypeReportSubmitted = "report_submitted"
	TypeReportCancelled = "report_cancelled"
	TypeReportExpired   = "report_expired"
	TypeError           = "error"
	TypePong            = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeNotAllowed  = "not_allowed"
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
)

// ---------------------------------------------------------------------------
// Envelope is decoded first to read the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into its concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// OpenReportMsg starts a report on a message the moderator picked.
type OpenReportMsg struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	ChannelID  string `json:"channel_id"`
	GuildID    string `json:"guild_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// SelectReasonsMsg replaces the reason selection of a report.
type SelectReasonsMsg struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Codes     []string `json:"codes"`
}

// SelectActionsMsg replaces the action selection of a report.
type SelectActionsMsg struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Codes     []string `json:"codes"`
}

// SubmitReportMsg dispatches a ready report.
type SubmitReportMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// CancelReportMsg discards a report.
type CancelReportMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReportViewMsg renders the current state of a report.
type ReportViewMsg struct {
	Type string `json:"type"`
	report.View
}

// ReportSubmittedMsg confirms that the report's event was handed to the
// executor.
type ReportSubmittedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Duration  int    `json:"duration,omitempty"` // seconds
}

// ReportCancelledMsg confirms a cancellation.
type ReportCancelledMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ReportExpiredMsg is pushed when a report was abandoned for inactivity.
type ReportExpiredMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeOpenReport:
		var m OpenReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSelectReasons:
		var m SelectReasonsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSelectActions:
		var m SelectActionsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSubmitReport:
		var m SubmitReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelReport:
		var m CancelReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded server message. The msgType is
// injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
