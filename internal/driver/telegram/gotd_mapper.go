package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mangabot/pkg/chat"

	"github.com/gotd/td/tg"
)

const gotdUnknownID = "unknown"

// DefaultGotdUpdateMapper maps gotd bot updates into driver DTO updates.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
	now       func() time.Time
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peer mappings for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{now: time.Now}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update into a driver update. Only bot callback
// queries are accepted.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update context: %w", err)
	}

	envelope, err := m.normalize(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	if m.peerCache != nil {
		m.peerCache.RememberEnvelope(envelope)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateBotCallbackQuery:
		return m.mapCallbackQuery(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func (m DefaultGotdUpdateMapper) normalize(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  m.now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapCallbackQuery(
	update *tg.UpdateBotCallbackQuery,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if update.QueryID == 0 {
		return Update{}, false, fmt.Errorf("map callback query: missing query id")
	}

	chatRef := resolveChatFromPeer(update.Peer, envelope)
	actor := resolveActorByUserID(update.UserID, envelope)
	if m.peerCache != nil {
		m.peerCache.RememberConversation(chatRef, resolveInputPeerFromPeer(update.Peer, envelope))
	}

	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now().UTC()
	}
	queryID := strconv.FormatInt(update.QueryID, 10)

	return Update{
		ID:         composeUpdateID(UpdateTypeCallback, chatRef.ID, queryID),
		Type:       UpdateTypeCallback,
		OccurredAt: occurredAt,
		Chat:       chatRef,
		Actor:      actor,
		Callback: &CallbackPayload{
			QueryID:   queryID,
			MessageID: strconv.Itoa(update.MsgID),
			Data:      string(update.Data),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

type gotdChatInfo struct {
	title     string
	kind      chat.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, item := range chats {
		switch typed := item.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      chat.ConversationTypeGroup,
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.Channel:
			kind := chat.ConversationTypeChannel
			if typed.Megagroup {
				kind = chat.ConversationTypeGroup
			}
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      kind,
				inputPeer: typed.AsInputPeer(),
			}
		}
	}

	return out
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{
			ID:    actor.ID,
			Type:  chat.ConversationTypePrivate,
			Title: actor.DisplayName,
		}
	case *tg.PeerChat:
		return resolveChatByID(typed.ChatID, chat.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return resolveChatByID(typed.ChannelID, chat.ConversationTypeChannel, envelope)
	default:
		return ChatRef{ID: gotdUnknownID, Type: chat.ConversationTypePrivate}
	}
}

func resolveChatByID(id int64, fallback chat.ConversationType, envelope gotdUpdateEnvelope) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		ref.Title = info.title
		ref.Type = info.kind
	}

	return ref
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownID}
	}
	id := strconv.FormatInt(userID, 10)

	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}
	if displayName == "" {
		displayName = id
	}

	return ActorRef{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		IsBot:       user.Bot,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok || user == nil {
			return nil
		}
		return user.AsInputPeer()
	case *tg.PeerChat:
		if typed.ChatID == 0 {
			return nil
		}
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok || info.inputPeer == nil {
			return nil
		}
		return cloneInputPeer(info.inputPeer)
	default:
		return nil
	}
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...string) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	for _, part := range parts {
		if part != "" {
			values = append(values, part)
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
