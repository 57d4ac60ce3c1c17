package chaptercache

import (
	"context"
	"errors"
	"testing"
)

func TestJobEmitsOrderedProgressThenDone(t *testing.T) {
	t.Parallel()

	pages := &stubPages{}
	publisher := &stubPublisher{url: "https://telegra.ph/chapter-5"}
	job := newTestJob(t, testChapter("ch-5", 5), pages, publisher)

	log := newEventLog()
	job.Subscribe(context.Background(), log.listener())
	job.Start(context.Background())
	job.Start(context.Background())
	waitJob(t, job)

	progress, done, errs := log.snapshot()
	if len(progress) != 5 {
		t.Fatalf("progress events = %d, want 5", len(progress))
	}
	for index, event := range progress {
		if event.Cached != index+1 || event.Total != 5 {
			t.Fatalf("progress[%d] = %+v, want {%d 5}", index, event, index+1)
		}
	}
	if len(done) != 1 || done[0] != "https://telegra.ph/chapter-5" {
		t.Fatalf("done events = %v, want one article ref", done)
	}
	if len(errs) != 0 {
		t.Fatalf("error events = %v, want none", errs)
	}
	if job.Status() != StatusDone || job.Cached() != 5 || job.ArticleRef() == "" {
		t.Fatalf("job = %s %d/%d %q, want done 5/5 with ref", job.Status(), job.Cached(), job.Total(), job.ArticleRef())
	}
	if got := len(pages.fetched()); got != 5 {
		t.Fatalf("pages fetched = %d, want 5 after double Start", got)
	}
	if len(publisher.articles) != 1 || len(publisher.articles[0].pages) != 5 {
		t.Fatalf("articles = %d, want one article with 5 pages", len(publisher.articles))
	}
	if publisher.articles[0].meta.Title != "Yotsuba&! Vol. 3 Ch. 12" {
		t.Fatalf("article title = %q", publisher.articles[0].meta.Title)
	}
}

func TestJobPageFailureAbortsRemainingPages(t *testing.T) {
	t.Parallel()

	pages := &stubPages{failAt: map[int]error{2: errPageMissing}}
	job := newTestJob(t, testChapter("ch-3", 3), pages, &stubPublisher{url: "https://telegra.ph/x"})

	log := newEventLog()
	job.Subscribe(context.Background(), log.listener())
	job.Start(context.Background())
	waitJob(t, job)

	progress, done, errs := log.snapshot()
	if len(progress) != 2 || progress[0] != (Progress{Cached: 1, Total: 3}) || progress[1] != (Progress{Cached: 2, Total: 3}) {
		t.Fatalf("progress = %+v, want [1/3 2/3]", progress)
	}
	if len(done) != 0 {
		t.Fatalf("done events = %v, want none", done)
	}
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}

	var fetchErr *SourceFetchError
	if !errors.As(errs[0], &fetchErr) || fetchErr.Page != 3 {
		t.Fatalf("error = %v, want SourceFetchError for page 3", errs[0])
	}
	if !errors.Is(errs[0], errPageMissing) {
		t.Fatalf("errors.Is(err, errPageMissing) = false (err=%v)", errs[0])
	}
	if job.Status() != StatusFailed || job.ArticleRef() != "" {
		t.Fatalf("job = %s ref %q, want failed without ref", job.Status(), job.ArticleRef())
	}
}

func TestJobPublishFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		publisher *stubPublisher
		wantStage PublishStage
	}{
		{
			name:      "begin fails",
			publisher: &stubPublisher{beginErr: errors.New("token revoked")},
			wantStage: PublishStageBegin,
		},
		{
			name:      "finalize fails",
			publisher: &stubPublisher{url: "https://telegra.ph/x", finalizeErr: errors.New("flood")},
			wantStage: PublishStageFinalize,
		},
		{
			name:      "finalize returns empty ref",
			publisher: &stubPublisher{},
			wantStage: PublishStageFinalize,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			job := newTestJob(t, testChapter("ch-p", 2), &stubPages{}, testCase.publisher)
			log := newEventLog()
			job.Subscribe(context.Background(), log.listener())
			job.Start(context.Background())
			waitJob(t, job)

			_, done, errs := log.snapshot()
			if len(done) != 0 || len(errs) != 1 {
				t.Fatalf("done=%d errors=%d, want 0 and 1", len(done), len(errs))
			}
			var publishErr *PublishError
			if !errors.As(errs[0], &publishErr) || publishErr.Stage != testCase.wantStage {
				t.Fatalf("error = %v, want PublishError stage %s", errs[0], testCase.wantStage)
			}
		})
	}
}

func TestJobAlreadyPublishedStartsDone(t *testing.T) {
	t.Parallel()

	chapter := testChapter("ch-done", 4)
	job, err := NewJob(context.Background(), chapter, testManga(), Actor{ID: "7"}, JobDeps{
		Completed: stubFinder{records: map[string]CompletionRecord{
			"ch-done": {ChapterID: "ch-done", ArticleURL: "https://telegra.ph/done"},
		}},
	})
	if err != nil {
		t.Fatalf("NewJob() failed: %v", err)
	}
	if job.Status() != StatusDone || job.Cached() != job.Total() || job.ArticleRef() != "https://telegra.ph/done" {
		t.Fatalf("job = %s %d/%d %q, want done and fully cached", job.Status(), job.Cached(), job.Total(), job.ArticleRef())
	}

	log := newEventLog()
	job.Subscribe(context.Background(), log.listener())
	_, done, _ := log.snapshot()
	if len(done) != 1 || done[0] != "https://telegra.ph/done" {
		t.Fatalf("done events = %v, want immediate delivery", done)
	}

	job.Start(context.Background())
	waitJob(t, job)
}

func TestNewJobRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chapter ChapterMeta
		manga   MangaMeta
		actor   Actor
		policy  Policy
		deps    JobDeps
		wantMsg string
		wantErr bool
	}{
		{
			name:    "bot actor",
			chapter: testChapter("a", 3),
			manga:   testManga(),
			actor:   Actor{ID: "1", IsBot: true},
			wantMsg: "Bots can't request chapters.",
		},
		{
			name:    "no pages",
			chapter: testChapter("a", 0),
			manga:   testManga(),
			wantMsg: "This chapter has no pages.",
		},
		{
			name: "external chapter",
			chapter: func() ChapterMeta {
				chapter := testChapter("a", 3)
				chapter.ExternalURL = "https://mangaplus.example/1"
				return chapter
			}(),
			manga:   testManga(),
			wantMsg: "This chapter is hosted externally and can't be cached.",
		},
		{
			name:    "too many pages",
			chapter: testChapter("a", 300),
			manga:   testManga(),
			policy:  Policy{MaxPages: 200},
			wantMsg: "This chapter has 300 pages, more than the 200 that can be cached.",
		},
		{
			name:    "rating not allowed",
			chapter: testChapter("a", 3),
			manga:   MangaMeta{ID: "m", ContentRating: "pornographic"},
			policy:  Policy{AllowedContentRatings: []string{"safe", "suggestive"}},
			wantMsg: "This manga's content rating is not available here.",
		},
		{
			name:    "rating matches case-insensitively",
			chapter: testChapter("a", 3),
			manga:   MangaMeta{ID: "m", ContentRating: "Safe"},
			policy:  Policy{AllowedContentRatings: []string{"safe"}},
		},
		{
			name:    "store lookup fails",
			chapter: testChapter("a", 3),
			manga:   testManga(),
			deps:    JobDeps{Completed: stubFinder{err: errors.New("db down")}},
			wantErr: true,
		},
		{
			name:    "missing collaborators",
			chapter: testChapter("a", 3),
			manga:   testManga(),
			deps:    JobDeps{Pages: &stubPages{}},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			deps := testCase.deps
			if deps.Pages == nil && deps.Publisher == nil && deps.Completed == nil {
				deps = JobDeps{Pages: &stubPages{}, Publisher: &stubPublisher{url: "u"}}
			}
			deps.Policy = testCase.policy

			job, err := NewJob(context.Background(), testCase.chapter, testCase.manga, testCase.actor, deps)

			var validationErr *ValidationError
			switch {
			case testCase.wantMsg != "":
				if !errors.As(err, &validationErr) {
					t.Fatalf("NewJob() error = %v, want ValidationError", err)
				}
				if validationErr.Message != testCase.wantMsg {
					t.Fatalf("message = %q, want %q", validationErr.Message, testCase.wantMsg)
				}
			case testCase.wantErr:
				if err == nil || errors.As(err, &validationErr) {
					t.Fatalf("NewJob() error = %v, want non-validation error", err)
				}
			default:
				if err != nil || job == nil {
					t.Fatalf("NewJob() = %v, %v, want job", job, err)
				}
			}
		})
	}
}

func TestJobLateSubscriberNeverSeesRestart(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	pages := &stubPages{gates: map[int]chan struct{}{1: gate}}
	job := newTestJob(t, testChapter("ch-late", 5), pages, &stubPublisher{url: "https://telegra.ph/late"})

	first := newEventLog()
	job.Subscribe(context.Background(), first.listener())
	job.Start(context.Background())

	if progress := waitProgress(t, first); progress.Cached != 1 {
		t.Fatalf("first progress = %+v, want 1/5", progress)
	}
	if job.Cached() != 1 {
		t.Fatalf("Cached() = %d, want 1 while page 2 is blocked", job.Cached())
	}

	second := newEventLog()
	job.Subscribe(context.Background(), second.listener())
	close(gate)
	waitJob(t, job)

	progress, done, _ := second.snapshot()
	if len(progress) == 0 || progress[0].Cached < 1 {
		t.Fatalf("second subscriber progress = %+v, want first event >= 1/5", progress)
	}
	for index := 1; index < len(progress); index++ {
		if progress[index].Cached != progress[index-1].Cached+1 {
			t.Fatalf("second subscriber progress not contiguous: %+v", progress)
		}
	}
	if len(done) != 1 {
		t.Fatalf("second subscriber done = %v, want 1", done)
	}
}

func TestJobListenerPanicIsContained(t *testing.T) {
	t.Parallel()

	job := newTestJob(t, testChapter("ch-panic", 2), &stubPages{}, &stubPublisher{url: "https://telegra.ph/p"})
	job.Subscribe(context.Background(), Listener{
		OnProgress: func(context.Context, Progress) { panic("boom") },
		OnDone:     func(context.Context, string) { panic("boom") },
	})
	log := newEventLog()
	job.Subscribe(context.Background(), log.listener())
	job.Start(context.Background())
	waitJob(t, job)

	progress, done, errs := log.snapshot()
	if len(progress) != 2 || len(done) != 1 || len(errs) != 0 {
		t.Fatalf("healthy listener got progress=%d done=%d errors=%d, want 2/1/0", len(progress), len(done), len(errs))
	}
	if job.Status() != StatusDone {
		t.Fatalf("Status() = %s, want done", job.Status())
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	job := newTestJob(t, testChapter("ch-close", 3), &stubPages{}, &stubPublisher{url: "https://telegra.ph/c"})
	log := newEventLog()
	subscription := job.Subscribe(context.Background(), log.listener())
	subscription.Close()
	subscription.Close()

	job.Start(context.Background())
	waitJob(t, job)

	progress, done, errs := log.snapshot()
	if len(progress)+len(done)+len(errs) != 0 {
		t.Fatalf("closed subscription received events: %v %v %v", progress, done, errs)
	}
}

func TestFormatChapter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chapter ChapterMeta
		want    string
	}{
		{name: "volume chapter title", chapter: ChapterMeta{Volume: "2", Chapter: "10", Title: "Rain"}, want: "Vol. 2 Ch. 10 - Rain"},
		{name: "chapter only", chapter: ChapterMeta{Chapter: "5"}, want: "Ch. 5"},
		{name: "oneshot", chapter: ChapterMeta{Title: "Extra"}, want: "Oneshot - Extra"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := FormatChapter(testCase.chapter); got != testCase.want {
				t.Fatalf("FormatChapter() = %q, want %q", got, testCase.want)
			}
		})
	}
}
