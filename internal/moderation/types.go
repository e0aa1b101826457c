package moderation

// ModerationRequest is published to moderation.check by the chat gateway
// for every inbound guild message. LinksDisabled is set only for members
// whose link permission was revoked; a gateway that omits it allows links.
type ModerationRequest struct {
	MessageID     string   `json:"message_id"`
	ChannelID     string   `json:"channel_id"`
	GuildID       string   `json:"guild_id"`
	Text          string   `json:"text"`
	AuthorID      string   `json:"author_id"`
	AuthorName    string   `json:"author_name"`
	IsBot         bool     `json:"is_bot"`
	IsModerator   bool     `json:"is_moderator"`
	LinksDisabled bool     `json:"links_disabled,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Ts            int64    `json:"ts"`
}

// ModerationResult is published back to the gateway with the review outcome.
// Action is empty when the message was left alone.
type ModerationResult struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Blocked   bool   `json:"blocked"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Category  string `json:"category,omitempty"`
	Offense   int    `json:"offense,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}
