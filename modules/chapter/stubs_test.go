package chapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mangabot/internal/chaptercache"
	"mangabot/internal/store"
	"mangabot/pkg/chat"
)

var (
	testChapter = chaptercache.ChapterMeta{
		ID:       "c1",
		MangaID:  "m1",
		Title:    "Origins",
		Volume:   "2",
		Chapter:  "10",
		Language: "en",
		Pages:    2,
	}
	testManga = chaptercache.MangaMeta{
		ID:            "m1",
		Title:         "Hajimari",
		ContentRating: "safe",
		MALID:         "4242",
	}
)

type stubMetadata struct {
	chapterErr error
}

func (s stubMetadata) Chapter(_ context.Context, id string) (chaptercache.ChapterMeta, error) {
	if s.chapterErr != nil {
		return chaptercache.ChapterMeta{}, s.chapterErr
	}
	if id != testChapter.ID {
		return chaptercache.ChapterMeta{}, fmt.Errorf("unknown chapter %s", id)
	}

	return testChapter, nil
}

func (s stubMetadata) Manga(_ context.Context, id string) (chaptercache.MangaMeta, error) {
	if id != testManga.ID {
		return chaptercache.MangaMeta{}, fmt.Errorf("unknown manga %s", id)
	}

	return testManga, nil
}

type stubPages struct {
	err error
	// gate blocks every fetch until closed when set.
	gate chan struct{}
}

func (s stubPages) FetchPage(ctx context.Context, _ string, index int) ([]byte, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}

	return []byte(fmt.Sprintf("page-%d", index)), nil
}

type stubPublisher struct{}

func (stubPublisher) Begin(context.Context, chaptercache.ArticleMeta) (chaptercache.Article, error) {
	return &stubArticle{}, nil
}

type stubArticle struct {
	pages int
}

func (a *stubArticle) AppendPage(context.Context, []byte) error {
	a.pages++

	return nil
}

func (a *stubArticle) Finalize(context.Context) (string, error) {
	return fmt.Sprintf("https://telegra.ph/c1-%d", a.pages), nil
}

type captureDispatcher struct {
	mu sync.Mutex
	// failSends rejects this many SendMessage calls before accepting any.
	failSends int
	sends     []chat.SendMessageRequest
	edits   []chat.EditMessageRequest
	answers []chat.AnswerCallbackRequest
}

func (d *captureDispatcher) SendMessage(_ context.Context, request chat.SendMessageRequest) (*chat.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failSends > 0 {
		d.failSends--
		return nil, errors.New("flood wait")
	}
	d.sends = append(d.sends, request)

	return &chat.OutboundMessage{ID: fmt.Sprintf("sent-%d", len(d.sends)), Target: request.Target}, nil
}

func (d *captureDispatcher) EditMessage(_ context.Context, request chat.EditMessageRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.edits = append(d.edits, request)

	return nil
}

func (d *captureDispatcher) DeleteMessage(context.Context, chat.DeleteMessageRequest) error {
	return errors.New("unexpected delete")
}

func (d *captureDispatcher) AnswerCallback(_ context.Context, request chat.AnswerCallbackRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.answers = append(d.answers, request)

	return nil
}

func (d *captureDispatcher) snapshot() ([]chat.SendMessageRequest, []chat.EditMessageRequest, []chat.AnswerCallbackRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]chat.SendMessageRequest(nil), d.sends...),
		append([]chat.EditMessageRequest(nil), d.edits...),
		append([]chat.AnswerCallbackRequest(nil), d.answers...)
}

// waitForEdits polls until count edits whose text contains substr arrived.
func (d *captureDispatcher) waitForEdits(t *testing.T, substr string, count int) []chat.EditMessageRequest {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, edits, _ := d.snapshot()
		var matched []chat.EditMessageRequest
		for _, edit := range edits {
			if strings.Contains(edit.Text, substr) {
				matched = append(matched, edit)
			}
		}
		if len(matched) >= count {
			return matched
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fewer than %d edits containing %q arrived", count, substr)

	return nil
}

// waitFor polls until cond holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type countingStore struct {
	*store.Memory
	creates atomic.Int32
}

func (s *countingStore) CreateCompletionRecord(ctx context.Context, record chaptercache.CompletionRecord) error {
	s.creates.Add(1)

	return s.Memory.CreateCompletionRecord(ctx, record)
}

type fixture struct {
	module     *Module
	dispatcher *captureDispatcher
	registry   *chaptercache.Registry
	store      *countingStore
}

func newFixture(t *testing.T, metadata stubMetadata, pages stubPages) fixture {
	t.Helper()

	memory := &countingStore{Memory: store.NewMemory()}
	module, err := New(Config{
		Metadata:       metadata,
		Pages:          pages,
		Publisher:      stubPublisher{},
		Store:          memory,
		ProgressWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	dispatcher := &captureDispatcher{}
	registry := chaptercache.NewRegistry()
	module.dispatcher = dispatcher
	module.registry = registry

	return fixture{module: module, dispatcher: dispatcher, registry: registry, store: memory}
}

func newCallbackEvent(data string) *chat.Event {
	return &chat.Event{
		ID:         "event-1",
		Kind:       chat.EventKindCallbackQuery,
		OccurredAt: time.Unix(1, 0).UTC(),
		Source: chat.EventSource{
			Platform: chat.PlatformTelegram,
			ID:       "tg-main",
		},
		Conversation: chat.Conversation{
			ID:   "42",
			Type: chat.ConversationTypePrivate,
		},
		Actor: chat.Actor{ID: "7", DisplayName: "Reader"},
		Callback: &chat.CallbackQuery{
			ID:        "query-1",
			MessageID: "msg-5",
			Data:      data,
		},
	}
}

type moduleRuntimeStub struct {
	registry chat.ServiceRegistry
}

func (s moduleRuntimeStub) Services() chat.ServiceRegistry {
	return s.registry
}

func (s moduleRuntimeStub) Subscribe(
	context.Context,
	chat.InterestSet,
	chat.SubscriptionSpec,
	chat.EventHandler,
) (chat.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(name string, service any) error {
	s.values[name] = service

	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", name, chat.ErrServiceNotFound)
	}

	return value, nil
}
