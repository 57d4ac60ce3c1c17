package telegram

import (
	"context"
	"fmt"
	"time"

	"mangabot/pkg/chat"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one driver update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*chat.Event, error)
}

// DefaultDecoder provides default Telegram-to-chat mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*chat.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeCallback:
		event.Kind = chat.EventKindCallbackQuery
		callback, err := decodeCallback(update.Callback)
		if err != nil {
			return nil, fmt.Errorf("decode callback: %w", err)
		}
		event.Callback = callback
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

// newBaseEvent builds the shared envelope fields used by all update mappings.
func newBaseEvent(update Update) *chat.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &chat.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Source: chat.EventSource{
			Platform: DriverPlatform,
		},
		Conversation: chat.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: chat.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Metadata: update.Metadata,
	}
}

func decodeCallback(payload *CallbackPayload) (*chat.CallbackQuery, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing callback payload")
	}

	return &chat.CallbackQuery{
		ID:        payload.QueryID,
		MessageID: payload.MessageID,
		Data:      payload.Data,
	}, nil
}
