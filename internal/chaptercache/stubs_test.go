package chaptercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubPages struct {
	failAt map[int]error
	gates  map[int]chan struct{}

	mu    sync.Mutex
	calls []int
}

func (s *stubPages) FetchPage(ctx context.Context, _ string, index int) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, index)
	s.mu.Unlock()

	if gate, ok := s.gates[index]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.failAt[index]; err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf("page-%d", index)), nil
}

func (s *stubPages) fetched() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.calls...)
}

type stubPublisher struct {
	url         string
	beginErr    error
	finalizeErr error

	mu       sync.Mutex
	articles []*stubArticle
}

func (p *stubPublisher) Begin(_ context.Context, meta ArticleMeta) (Article, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	article := &stubArticle{meta: meta, url: p.url, finalizeErr: p.finalizeErr}

	p.mu.Lock()
	p.articles = append(p.articles, article)
	p.mu.Unlock()

	return article, nil
}

type stubArticle struct {
	meta        ArticleMeta
	url         string
	finalizeErr error

	mu    sync.Mutex
	pages [][]byte
}

func (a *stubArticle) AppendPage(_ context.Context, image []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pages = append(a.pages, image)

	return nil
}

func (a *stubArticle) Finalize(context.Context) (string, error) {
	if a.finalizeErr != nil {
		return "", a.finalizeErr
	}

	return a.url, nil
}

type stubFinder struct {
	records map[string]CompletionRecord
	err     error
}

func (f stubFinder) FindCompletionRecord(_ context.Context, chapterID string) (CompletionRecord, bool, error) {
	if f.err != nil {
		return CompletionRecord{}, false, f.err
	}
	record, ok := f.records[chapterID]

	return record, ok, nil
}

type eventLog struct {
	mu       sync.Mutex
	progress []Progress
	done     []string
	errs     []error
	seen     chan Progress
}

func newEventLog() *eventLog {
	return &eventLog{seen: make(chan Progress, 64)}
}

func (l *eventLog) listener() Listener {
	return Listener{
		OnProgress: func(_ context.Context, progress Progress) {
			l.mu.Lock()
			l.progress = append(l.progress, progress)
			l.mu.Unlock()
			l.seen <- progress
		},
		OnDone: func(_ context.Context, articleRef string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.done = append(l.done, articleRef)
		},
		OnError: func(_ context.Context, err error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.errs = append(l.errs, err)
		},
	}
}

func (l *eventLog) snapshot() ([]Progress, []string, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Progress(nil), l.progress...), append([]string(nil), l.done...), append([]error(nil), l.errs...)
}

func testChapter(id string, pages int) ChapterMeta {
	return ChapterMeta{
		ID:          id,
		MangaID:     "manga-1",
		Chapter:     "12",
		Volume:      "3",
		Language:    "en",
		Pages:       pages,
		PublishedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func testManga() MangaMeta {
	return MangaMeta{ID: "manga-1", Title: "Yotsuba&!", ContentRating: "safe"}
}

func newTestJob(t *testing.T, chapter ChapterMeta, pages *stubPages, publisher *stubPublisher) *Job {
	t.Helper()

	job, err := NewJob(context.Background(), chapter, testManga(), Actor{ID: "7"}, JobDeps{
		Pages:     pages,
		Publisher: publisher,
	})
	if err != nil {
		t.Fatalf("NewJob() failed: %v", err)
	}

	return job
}

func waitJob(t *testing.T, job *Job) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := job.Wait(ctx); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
}

func waitProgress(t *testing.T, log *eventLog) Progress {
	t.Helper()

	select {
	case progress := <-log.seen:
		return progress
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress event")
	}

	return Progress{}
}

var errPageMissing = errors.New("page 404")
