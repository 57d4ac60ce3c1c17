package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mangabot/pkg/chat"

	"github.com/gotd/td/tg"
)

func newTestReader() *tg.User {
	user := &tg.User{ID: 7}
	user.SetAccessHash(77)
	user.SetUsername("reader")
	user.SetFirstName("Ann")

	return user
}

func TestFlattenGotdUpdates(t *testing.T) {
	t.Parallel()

	callback := &tg.UpdateBotCallbackQuery{QueryID: 1, UserID: 7, Peer: &tg.PeerUser{UserID: 7}}
	tests := []struct {
		name      string
		updates   tg.UpdatesClass
		wantCount int
		wantUsers bool
	}{
		{
			name: "batch carries entity indexes",
			updates: &tg.Updates{
				Updates: []tg.UpdateClass{callback, &tg.UpdateNewMessage{}},
				Users:   []tg.UserClass{newTestReader()},
				Date:    1_700_000_000,
			},
			wantCount: 2,
			wantUsers: true,
		},
		{
			name:      "short update",
			updates:   &tg.UpdateShort{Update: callback, Date: 1_700_000_000},
			wantCount: 1,
		},
		{
			name:      "too long is ignored",
			updates:   &tg.UpdatesTooLong{},
			wantCount: 0,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch := flattenGotdUpdates(testCase.updates)
			if len(batch) != testCase.wantCount {
				t.Fatalf("batch len = %d, want %d", len(batch), testCase.wantCount)
			}
			for _, envelope := range batch {
				if envelope.occurredAt.IsZero() {
					t.Fatal("expected occurredAt from container date")
				}
				if testCase.wantUsers && envelope.usersByID[7] == nil {
					t.Fatal("expected user index on envelope")
				}
			}
		})
	}
}

func TestGotdUpdateChannelHandle(t *testing.T) {
	t.Parallel()

	channel := NewGotdUpdateChannel(1)
	stream, err := channel.Updates(context.Background())
	if err != nil {
		t.Fatalf("updates failed: %v", err)
	}

	short := &tg.UpdateShort{Update: &tg.UpdateBotCallbackQuery{QueryID: 1}, Date: 1}
	if err := channel.Handle(context.Background(), short); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if _, ok := (<-stream).(gotdUpdateEnvelope); !ok {
		t.Fatal("expected envelope on stream")
	}

	if err := channel.Handle(context.Background(), short); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := channel.Handle(ctx, short); err == nil {
		t.Fatal("expected error when stream is full and context is done")
	}
}

func TestDefaultGotdUpdateMapperCallbackQuery(t *testing.T) {
	t.Parallel()

	occurredAt := time.Unix(1_700_000_000, 0).UTC()
	peers := NewPeerCache()
	mapper := NewDefaultGotdUpdateMapper(WithPeerCache(peers))

	update, accepted, err := mapper.Map(context.Background(), gotdUpdateEnvelope{
		update: &tg.UpdateBotCallbackQuery{
			QueryID: 99,
			UserID:  7,
			Peer:    &tg.PeerUser{UserID: 7},
			MsgID:   12,
			Data:    []byte("chapter=abc:read=false:copy=false:offset=0:"),
		},
		occurredAt:  occurredAt,
		usersByID:   map[int64]*tg.User{7: newTestReader()},
		updateClass: "updateBotCallbackQuery",
	})
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if !accepted {
		t.Fatal("expected callback to be accepted")
	}
	if update.ID != "tg:callback:7:99" {
		t.Fatalf("id = %q, want tg:callback:7:99", update.ID)
	}
	if update.Chat != (ChatRef{ID: "7", Title: "Ann", Type: chat.ConversationTypePrivate}) {
		t.Fatalf("chat = %+v", update.Chat)
	}
	if update.Actor.Username != "reader" {
		t.Fatalf("actor username = %q, want reader", update.Actor.Username)
	}
	if update.Callback == nil || update.Callback.MessageID != "12" || update.Callback.QueryID != "99" {
		t.Fatalf("callback = %+v", update.Callback)
	}
	if update.Metadata["gotd_update"] != "updateBotCallbackQuery" {
		t.Fatalf("metadata = %v", update.Metadata)
	}
	if _, err := peers.Resolve(chat.Conversation{ID: "7", Type: chat.ConversationTypePrivate}); err != nil {
		t.Fatalf("expected reader peer to be remembered: %v", err)
	}
}

func TestDefaultGotdUpdateMapperSkips(t *testing.T) {
	t.Parallel()

	mapper := NewDefaultGotdUpdateMapper()
	tests := []struct {
		name    string
		raw     any
		wantErr bool
	}{
		{name: "new message is ignored", raw: &tg.UpdateNewMessage{Message: &tg.Message{}}},
		{name: "missing query id", raw: &tg.UpdateBotCallbackQuery{UserID: 7}, wantErr: true},
		{name: "unknown raw type", raw: "garbage", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, accepted, err := mapper.Map(context.Background(), testCase.raw)
			if accepted {
				t.Fatal("expected update to be skipped")
			}
			if (err != nil) != testCase.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}
}

func TestGotdBotSourceConsume(t *testing.T) {
	t.Parallel()

	raw := make(chan any, 3)
	raw <- "garbage"
	raw <- &tg.UpdateNewMessage{Message: &tg.Message{}}
	raw <- &tg.UpdateBotCallbackQuery{QueryID: 5, UserID: 7, Peer: &tg.PeerUser{UserID: 7}, MsgID: 3}
	close(raw)

	var (
		mu      sync.Mutex
		skipped []error
	)
	source, err := NewGotdBotSource(
		stubGotdClient{},
		stubRawStream{updates: raw},
		NewDefaultGotdUpdateMapper(),
		func(_ context.Context, err error) {
			mu.Lock()
			defer mu.Unlock()
			skipped = append(skipped, err)
		},
	)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	var received []Update
	err = source.Consume(context.Background(), func(_ context.Context, update Update) error {
		received = append(received, update)
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(received) != 1 || received[0].Callback.QueryID != "5" {
		t.Fatalf("received = %+v, want one callback", received)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(skipped))
	}
}

func TestGotdBotSourceHandlerErrorStops(t *testing.T) {
	t.Parallel()

	raw := make(chan any, 1)
	raw <- &tg.UpdateBotCallbackQuery{QueryID: 5, UserID: 7, Peer: &tg.PeerUser{UserID: 7}}

	source, err := NewGotdBotSource(stubGotdClient{}, stubRawStream{updates: raw}, NewDefaultGotdUpdateMapper(), nil)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	boom := errors.New("boom")
	err = source.Consume(context.Background(), func(context.Context, Update) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

type stubGotdClient struct{}

func (stubGotdClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return fn(ctx)
}

type stubRawStream struct {
	updates chan any
}

func (s stubRawStream) Updates(context.Context) (<-chan any, error) {
	return s.updates, nil
}
