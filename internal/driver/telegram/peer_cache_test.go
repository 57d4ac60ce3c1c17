package telegram

import (
	"fmt"
	"testing"

	"mangabot/pkg/chat"

	"github.com/gotd/td/tg"
)

func TestPeerCacheResolve(t *testing.T) {
	t.Parallel()

	reader := &tg.User{ID: 7}
	reader.SetAccessHash(77)

	cache := NewPeerCache()
	cache.RememberEnvelope(gotdUpdateEnvelope{
		usersByID: map[int64]*tg.User{7: reader},
		chatsByID: map[int64]gotdChatInfo{
			10: {kind: chat.ConversationTypeGroup, inputPeer: &tg.InputPeerChat{ChatID: 10}},
			20: {kind: chat.ConversationTypeGroup, inputPeer: &tg.InputPeerChannel{ChannelID: 20, AccessHash: 2020}},
		},
	})

	tests := []struct {
		name         string
		conversation chat.Conversation
		wantType     string
		wantErr      bool
	}{
		{
			name:         "private reader",
			conversation: chat.Conversation{ID: "7", Type: chat.ConversationTypePrivate},
			wantType:     "*tg.InputPeerUser",
		},
		{
			name:         "basic group",
			conversation: chat.Conversation{ID: "10", Type: chat.ConversationTypeGroup},
			wantType:     "*tg.InputPeerChat",
		},
		{
			name:         "megagroup addressed as channel",
			conversation: chat.Conversation{ID: "20", Type: chat.ConversationTypeChannel},
			wantType:     "*tg.InputPeerChannel",
		},
		{
			name:         "never seen",
			conversation: chat.Conversation{ID: "999", Type: chat.ConversationTypePrivate},
			wantErr:      true,
		},
		{
			name:         "missing type",
			conversation: chat.Conversation{ID: "7"},
			wantErr:      true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			peer, err := cache.Resolve(testCase.conversation)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := fmt.Sprintf("%T", peer); got != testCase.wantType {
				t.Fatalf("peer type = %s, want %s", got, testCase.wantType)
			}
		})
	}
}

func TestPeerCacheReturnsCopies(t *testing.T) {
	t.Parallel()

	cache := NewPeerCache()
	cache.RememberConversation(
		ChatRef{ID: "55", Type: chat.ConversationTypeGroup},
		&tg.InputPeerChannel{ChannelID: 55, AccessHash: 555},
	)
	if cache.Len() != 2 {
		t.Fatalf("len = %d, want 2", cache.Len())
	}

	first, err := cache.Resolve(chat.Conversation{ID: "55", Type: chat.ConversationTypeGroup})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	first.(*tg.InputPeerChannel).AccessHash = 0

	second, err := cache.Resolve(chat.Conversation{ID: "55", Type: chat.ConversationTypeGroup})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := second.(*tg.InputPeerChannel).AccessHash; got != 555 {
		t.Fatalf("access hash = %d, want 555", got)
	}
}
