package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"mangabot/pkg/chat"

	"github.com/gotd/td/tg"
)

// PeerCache remembers Telegram input peers seen on inbound updates so outbound
// requests addressed by neutral conversation can be resolved to an RPC peer.
type PeerCache struct {
	mu             sync.RWMutex
	byConversation map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byConversation: make(map[string]tg.InputPeerClass),
	}
}

// RememberEnvelope ingests entity data attached to one gotd update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		peer := user.AsInputPeer()
		if peer == nil {
			continue
		}
		c.byConversation[conversationKey(chat.ConversationTypePrivate, strconv.FormatInt(userID, 10))] = cloneInputPeer(peer)
	}

	for id, info := range envelope.chatsByID {
		if info.inputPeer == nil {
			continue
		}
		c.rememberLocked(ChatRef{ID: strconv.FormatInt(id, 10), Type: info.kind}, info.inputPeer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(ref ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || ref.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(ref, peer)
}

// rememberLocked stores peer under ref. Megagroups surface as groups but use
// channel peers, so they are indexed under both kinds. c.mu must be held.
func (c *PeerCache) rememberLocked(ref ChatRef, peer tg.InputPeerClass) {
	c.byConversation[conversationKey(ref.Type, ref.ID)] = cloneInputPeer(peer)
	if ref.Type == chat.ConversationTypeGroup {
		if _, isChannel := peer.(*tg.InputPeerChannel); isChannel {
			c.byConversation[conversationKey(chat.ConversationTypeChannel, ref.ID)] = cloneInputPeer(peer)
		}
	}
}

// Len returns the number of remembered conversation keys.
func (c *PeerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byConversation)
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation chat.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if peer, ok := c.byConversation[conversationKey(conversation.Type, conversation.ID)]; ok {
		return cloneInputPeer(peer), nil
	}

	switch conversation.Type {
	case chat.ConversationTypePrivate:
		// No alternate peer kind exists for private conversations.
	case chat.ConversationTypeGroup:
		if peer, ok := c.byConversation[conversationKey(chat.ConversationTypeChannel, conversation.ID)]; ok {
			return cloneInputPeer(peer), nil
		}
	case chat.ConversationTypeChannel:
		if peer, ok := c.byConversation[conversationKey(chat.ConversationTypeGroup, conversation.ID)]; ok {
			return cloneInputPeer(peer), nil
		}
	default:
		// Unknown conversation kinds have no compatibility fallback.
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

func conversationKey(conversationType chat.ConversationType, id string) string {
	return string(conversationType) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
