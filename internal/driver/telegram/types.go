package telegram

import (
	"time"

	"mangabot/pkg/chat"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeCallback identifies inline keyboard button presses.
	UpdateTypeCallback UpdateType = "callback"
)

// Update is the driver's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Callback   *CallbackPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  chat.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// CallbackPayload is one bot callback query projection.
type CallbackPayload struct {
	QueryID   string
	MessageID string
	Data      string
}
