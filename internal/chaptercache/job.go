package chaptercache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Listener receives job events. Nil callbacks are skipped.
//
// Callbacks run on the job goroutine, so they see progress in order and should
// not block for long.
type Listener struct {
	OnProgress func(ctx context.Context, progress Progress)
	OnDone     func(ctx context.Context, articleRef string)
	OnError    func(ctx context.Context, err error)
}

// JobDeps are the collaborators a Job uses to cache a chapter.
type JobDeps struct {
	Pages     PageSource
	Publisher Publisher
	// Completed is consulted so chapters published earlier start out Done.
	Completed CompletionFinder
	Policy    Policy
	// AuthorName and AuthorURL are stamped on published articles.
	AuthorName string
	AuthorURL  string
	// PageTimeout bounds one page fetch and append. Zero means no bound.
	PageTimeout time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Job caches one chapter. It moves from Running to exactly one of Done or Failed.
type Job struct {
	chapter ChapterMeta
	manga   MangaMeta
	runID   string
	total   int
	deps    JobDeps
	logger  *slog.Logger

	startOnce sync.Once
	finished  chan struct{}

	mu            sync.Mutex
	status        Status
	cached        int
	articleRef    string
	failure       error
	startedAt     time.Time
	listeners     map[uint64]Listener
	nextListener  uint64
	terminalHooks []func()
}

// NewJob validates that chapter may be cached for actor and returns a job for it.
//
// A chapter with an existing completion record yields a job that is already Done.
func NewJob(ctx context.Context, chapter ChapterMeta, manga MangaMeta, actor Actor, deps JobDeps) (*Job, error) {
	if chapter.ID == "" {
		return nil, fmt.Errorf("new job: missing chapter id")
	}
	if err := deps.Policy.Check(chapter, manga, actor); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	job := &Job{
		chapter:   chapter,
		manga:     manga,
		runID:     uuid.NewString(),
		total:     chapter.Pages,
		deps:      deps,
		finished:  make(chan struct{}),
		status:    StatusRunning,
		startedAt: deps.Clock.Now(),
		listeners: make(map[uint64]Listener),
	}
	job.logger = deps.Logger.With("chapter_id", chapter.ID, "run_id", job.runID)

	if deps.Completed != nil {
		record, found, err := deps.Completed.FindCompletionRecord(ctx, chapter.ID)
		if err != nil {
			return nil, fmt.Errorf("new job %s: find completion record: %w", chapter.ID, err)
		}
		if found && record.ArticleURL != "" {
			job.status = StatusDone
			job.cached = job.total
			job.articleRef = record.ArticleURL
			close(job.finished)
			return job, nil
		}
	}
	if deps.Pages == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("new job %s: missing page source or publisher", chapter.ID)
	}

	return job, nil
}

// ID returns the chapter ID the job caches.
func (j *Job) ID() string {
	return j.chapter.ID
}

// RunID identifies this job instance in logs.
func (j *Job) RunID() string {
	return j.runID
}

// Chapter returns the metadata the job was created from.
func (j *Job) Chapter() ChapterMeta {
	return j.chapter
}

// Manga returns the manga metadata the job was created from.
func (j *Job) Manga() MangaMeta {
	return j.manga
}

// Total returns the number of pages to cache.
func (j *Job) Total() int {
	return j.total
}

// Cached returns the number of pages relayed so far.
func (j *Job) Cached() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.cached
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.status
}

// ArticleRef returns the published article URL. It is empty unless Done.
func (j *Job) ArticleRef() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.articleRef
}

// Err returns the failure cause when Failed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.failure
}

// StartedAt returns when the job was created.
func (j *Job) StartedAt() time.Time {
	return j.startedAt
}

// Start begins caching in the background. Only the first call has an effect.
//
// The work is detached from ctx cancellation because other subscribers may
// depend on it; ctx values are kept for logging.
func (j *Job) Start(ctx context.Context) {
	if j.Status().Terminal() {
		return
	}
	j.startOnce.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		go j.run(runCtx)
	})
}

// Wait blocks until the job is terminal or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait job %s: %w", j.chapter.ID, ctx.Err())
	}
}

// Subscribe attaches listener until Close or the terminal event.
//
// A listener attached to a terminal job receives the terminal event at once.
func (j *Job) Subscribe(ctx context.Context, listener Listener) *Subscription {
	j.mu.Lock()
	if j.status.Terminal() {
		status, ref, failure := j.status, j.articleRef, j.failure
		j.mu.Unlock()

		j.deliverTerminal(ctx, listener, status, ref, failure)
		return &Subscription{}
	}

	j.nextListener++
	id := j.nextListener
	j.listeners[id] = listener
	j.mu.Unlock()

	return &Subscription{job: j, id: id}
}

// onTerminal installs hook to run before listeners see the terminal event.
// It returns false when the job is already terminal.
func (j *Job) onTerminal(hook func()) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	j.terminalHooks = append(j.terminalHooks, hook)

	return true
}

func (j *Job) unsubscribe(id uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.listeners, id)
}

func (j *Job) run(ctx context.Context) {
	j.logger.InfoContext(ctx, "chapter caching started", "total", j.total)

	articleRef, err := j.cacheSafely(ctx)
	if err != nil {
		j.logger.WarnContext(ctx, "chapter caching failed", "cached", j.Cached(), "total", j.total, "error", err)
		j.finish(ctx, StatusFailed, "", err)
		return
	}

	j.logger.InfoContext(ctx, "chapter caching finished", "total", j.total, "article", articleRef)
	j.finish(ctx, StatusDone, articleRef, nil)
}

func (j *Job) cacheSafely(ctx context.Context) (articleRef string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("cache chapter %s: panic recovered: %v", j.chapter.ID, recovered)
		}
	}()

	return j.cache(ctx)
}

func (j *Job) cache(ctx context.Context) (string, error) {
	article, err := j.deps.Publisher.Begin(ctx, ArticleMeta{
		Title:      articleTitle(j.chapter, j.manga),
		AuthorName: j.deps.AuthorName,
		AuthorURL:  j.deps.AuthorURL,
	})
	if err != nil {
		return "", &PublishError{Stage: PublishStageBegin, Err: err}
	}

	for index := 0; index < j.total; index++ {
		if err := j.cachePage(ctx, article, index); err != nil {
			return "", err
		}

		j.mu.Lock()
		j.cached++
		progress := Progress{Cached: j.cached, Total: j.total}
		listeners := j.snapshotListenersLocked()
		j.mu.Unlock()

		for _, listener := range listeners {
			if listener.OnProgress == nil {
				continue
			}
			j.invoke(ctx, "progress", func() { listener.OnProgress(ctx, progress) })
		}
	}

	articleRef, err := article.Finalize(ctx)
	if err != nil {
		return "", &PublishError{Stage: PublishStageFinalize, Err: err}
	}
	if articleRef == "" {
		return "", &PublishError{Stage: PublishStageFinalize, Err: errors.New("empty article reference")}
	}

	return articleRef, nil
}

func (j *Job) cachePage(ctx context.Context, article Article, index int) error {
	pageCtx := ctx
	if j.deps.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, j.deps.PageTimeout)
		defer cancel()
	}

	image, err := j.deps.Pages.FetchPage(pageCtx, j.chapter.ID, index)
	if err != nil {
		return &SourceFetchError{Page: index + 1, Err: err}
	}
	if err := article.AppendPage(pageCtx, image); err != nil {
		return &PublishError{Stage: PublishStageAppend, Page: index + 1, Err: err}
	}

	return nil
}

func (j *Job) finish(ctx context.Context, status Status, articleRef string, failure error) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = status
	j.articleRef = articleRef
	j.failure = failure
	listeners := j.snapshotListenersLocked()
	clear(j.listeners)
	hooks := j.terminalHooks
	j.terminalHooks = nil
	j.mu.Unlock()

	for _, hook := range hooks {
		j.invoke(ctx, "terminal hook", hook)
	}
	for _, listener := range listeners {
		j.deliverTerminal(ctx, listener, status, articleRef, failure)
	}
	close(j.finished)
}

func (j *Job) deliverTerminal(ctx context.Context, listener Listener, status Status, articleRef string, failure error) {
	switch status {
	case StatusDone:
		if listener.OnDone != nil {
			j.invoke(ctx, "done", func() { listener.OnDone(ctx, articleRef) })
		}
	case StatusFailed:
		if listener.OnError != nil {
			j.invoke(ctx, "error", func() { listener.OnError(ctx, failure) })
		}
	}
}

// snapshotListenersLocked copies listeners in subscription order. j.mu must be held.
func (j *Job) snapshotListenersLocked() []Listener {
	ids := make([]uint64, 0, len(j.listeners))
	for id := range j.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, j.listeners[id])
	}

	return listeners
}

// invoke runs one callback and contains its panics.
func (j *Job) invoke(ctx context.Context, scope string, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			j.logger.ErrorContext(ctx, "chapter job listener panicked", "scope", scope, "panic", recovered)
		}
	}()

	fn()
}

func articleTitle(chapter ChapterMeta, manga MangaMeta) string {
	label := FormatChapter(chapter)
	if manga.Title == "" {
		return label
	}

	return manga.Title + " " + label
}

// FormatChapter renders a short human label such as "Vol. 2 Ch. 10 - Title".
func FormatChapter(chapter ChapterMeta) string {
	label := ""
	if chapter.Volume != "" {
		label = "Vol. " + chapter.Volume + " "
	}
	if chapter.Chapter != "" {
		label += "Ch. " + chapter.Chapter
	} else {
		label += "Oneshot"
	}
	if chapter.Title != "" {
		label += " - " + chapter.Title
	}

	return label
}

// Subscription detaches one listener from a job.
type Subscription struct {
	job  *Job
	id   uint64
	once sync.Once
}

// Close removes the listener. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.job == nil {
		return
	}
	s.once.Do(func() {
		s.job.unsubscribe(s.id)
	})
}
