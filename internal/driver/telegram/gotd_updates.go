package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 256

// GotdUpdateChannel is a gotd update handler that exposes updates as a stream.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates the bridge between gotd's handler and GotdBotSource.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan any, buffer)}
}

// Updates returns the stream channel.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gotd update channel: nil context")
	}

	return s.updates, nil
}

// Handle flattens one gotd update container and forwards each update.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	for _, item := range flattenGotdUpdates(updates) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

// flattenGotdUpdates unpacks containers into envelopes carrying entity indexes.
// Short message containers are ignored since bots act on callback queries only.
func flattenGotdUpdates(updates tg.UpdatesClass) []gotdUpdateEnvelope {
	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdateShort:
		if typed.Update == nil {
			return nil
		}
		return []gotdUpdateEnvelope{{
			update:      typed.Update,
			occurredAt:  intToTimeUTC(typed.Date),
			updateClass: typed.Update.TypeName(),
		}}
	default:
		return nil
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		batch = append(batch, gotdUpdateEnvelope{
			update:      update,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
