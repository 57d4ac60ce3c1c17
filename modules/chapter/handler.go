package chapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"mangabot/internal/chaptercache"
	"mangabot/pkg/chat"
)

func (m *Module) handleCallback(ctx context.Context, event *chat.Event) error {
	if event == nil || event.Callback == nil || event.Kind != chat.EventKindCallbackQuery {
		return nil
	}
	req, ok := parseRequest(event.Callback.Data)
	if !ok {
		return nil
	}

	target, err := chat.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("chapter derive outbound target: %w", err)
	}
	logger := m.logger.With(
		"chapter_id", req.chapterID,
		"conversation_id", event.Conversation.ID,
	)

	chapter, err := m.cfg.Metadata.Chapter(ctx, req.chapterID)
	if err != nil {
		m.answer(ctx, logger, event, "Chapter is unavailable right now.", true)
		return fmt.Errorf("chapter resolve chapter %s: %w", req.chapterID, err)
	}
	manga, err := m.cfg.Metadata.Manga(ctx, chapter.MangaID)
	if err != nil {
		m.answer(ctx, logger, event, "Manga is unavailable right now.", true)
		return fmt.Errorf("chapter resolve manga %s: %w", chapter.MangaID, err)
	}

	created := false
	job, err := m.registry.GetOrCreate(ctx, chapter.ID, func(factoryCtx context.Context) (*chaptercache.Job, error) {
		created = true
		return chaptercache.NewJob(
			factoryCtx,
			chapter,
			manga,
			chaptercache.Actor{ID: event.Actor.ID, IsBot: event.Actor.IsBot},
			chaptercache.JobDeps{
				Pages:       m.cfg.Pages,
				Publisher:   m.cfg.Publisher,
				Completed:   m.cfg.Store,
				Policy:      m.cfg.Policy,
				AuthorName:  m.cfg.AuthorName,
				AuthorURL:   m.cfg.AuthorURL,
				PageTimeout: m.cfg.PageTimeout,
				Clock:       m.clock,
				Logger:      m.logger,
			},
		)
	})
	var validationErr *chaptercache.ValidationError
	if errors.As(err, &validationErr) {
		err := m.dispatcher.AnswerCallback(ctx, chat.AnswerCallbackRequest{
			QueryID:   event.Callback.ID,
			Text:      validationErr.Message,
			Alert:     true,
			CacheTime: validationCacheTime,
		})
		if err != nil {
			return fmt.Errorf("chapter answer validation failure: %w", err)
		}
		return nil
	}
	if err != nil {
		m.answer(ctx, logger, event, "Chapter can't be cached right now.", true)
		return fmt.Errorf("chapter get job %s: %w", chapter.ID, err)
	}

	if job.Status() == chaptercache.StatusDone {
		return m.showChapter(ctx, logger, event, target, req, chapter, manga, job.ArticleRef())
	}

	return m.followJob(ctx, logger, event, target, req, job, created)
}

// showChapter renders the reader for a published chapter.
func (m *Module) showChapter(
	ctx context.Context,
	logger *slog.Logger,
	event *chat.Event,
	target chat.OutboundTarget,
	req request,
	chapter chaptercache.ChapterMeta,
	manga chaptercache.MangaMeta,
	articleURL string,
) error {
	m.answer(ctx, logger, event, "", false)

	msg := readerMessage(req, chapter, manga, articleURL)
	board := readerKeyboard(req, chapter, manga, articleURL)
	if req.copy {
		_, err := m.dispatcher.SendMessage(ctx, chat.SendMessageRequest{
			Target:   target,
			Text:     msg.String(),
			Entities: msg.entities,
			Keyboard: board,
		})
		if err != nil {
			return fmt.Errorf("chapter send reader copy: %w", err)
		}
	} else {
		err := m.dispatcher.EditMessage(ctx, chat.EditMessageRequest{
			Target:    target,
			MessageID: event.Callback.MessageID,
			Text:      msg.String(),
			Entities:  msg.entities,
			Keyboard:  board,
		})
		if err != nil && !chat.IsOutboundNotModified(err) {
			return fmt.Errorf("chapter edit reader: %w", err)
		}
	}

	err := m.cfg.Store.SetCurrentlyReading(ctx, chaptercache.ReadingMark{
		UserID:    event.Actor.ID,
		MangaID:   chapter.MangaID,
		ChapterID: chapter.ID,
		At:        m.clock.Now().UTC(),
	})
	if err != nil {
		logger.WarnContext(ctx, "set currently reading failed", "error", err)
	}

	return nil
}

// followJob posts a status message and keeps it updated until job finishes.
// Only the caller whose factory created the job persists its completion record,
// and it starts the job even when the status message can't be sent.
func (m *Module) followJob(
	ctx context.Context,
	logger *slog.Logger,
	event *chat.Event,
	target chat.OutboundTarget,
	req request,
	job *chaptercache.Job,
	persist bool,
) error {
	m.answer(ctx, logger, event, "", false)

	chapter, manga := job.Chapter(), job.Manga()
	if persist {
		job.Subscribe(ctx, chaptercache.Listener{
			OnDone: func(ctx context.Context, articleURL string) {
				record := chaptercache.NewCompletionRecord(chapter, manga, articleURL)
				if err := m.cfg.Store.CreateCompletionRecord(ctx, record); err != nil {
					logger.ErrorContext(ctx, "create completion record failed", "run_id", job.RunID(), "error", err)
				}
			},
		})
	}
	defer job.Start(ctx)

	status, err := m.dispatcher.SendMessage(ctx, chat.SendMessageRequest{
		Target:           target,
		Text:             statusText(chapter, job.Cached()),
		ReplyToMessageID: event.Callback.MessageID,
	})
	if err != nil {
		return fmt.Errorf("chapter send status message: %w", err)
	}
	logger = logger.With("run_id", job.RunID(), "status_message_id", status.ID)

	notifier := chaptercache.NewNotifier(m.cfg.ProgressWindow, m.clock, m.dispatcher, logger)
	var subscription atomic.Pointer[chaptercache.Subscription]
	closeSubscription := func() {
		if current := subscription.Load(); current != nil {
			current.Close()
		}
	}

	subscription.Store(job.Subscribe(ctx, chaptercache.Listener{
		OnProgress: func(ctx context.Context, progress chaptercache.Progress) {
			notifier.Send(ctx, chat.EditMessageRequest{
				Target:    target,
				MessageID: status.ID,
				Text:      progressText(chapter, progress),
			})
		},
		OnDone: func(ctx context.Context, articleURL string) {
			closeSubscription()
			err := m.dispatcher.EditMessage(ctx, chat.EditMessageRequest{
				Target:    target,
				MessageID: status.ID,
				Text:      readyText(chapter, manga),
				Keyboard:  readyKeyboard(req),
			})
			if err != nil {
				logger.WarnContext(ctx, "edit ready message failed", "error", err)
			}
		},
		OnError: func(ctx context.Context, failure error) {
			closeSubscription()
			err := m.dispatcher.EditMessage(ctx, chat.EditMessageRequest{
				Target:    target,
				MessageID: status.ID,
				Text:      errorText(failure),
			})
			if err != nil {
				logger.WarnContext(ctx, "edit error message failed", "error", err)
			}
		},
	}))

	return nil
}

// answer acknowledges the callback. Failures are only logged.
func (m *Module) answer(ctx context.Context, logger *slog.Logger, event *chat.Event, text string, alert bool) {
	err := m.dispatcher.AnswerCallback(ctx, chat.AnswerCallbackRequest{
		QueryID: event.Callback.ID,
		Text:    text,
		Alert:   alert,
	})
	if err != nil {
		logger.WarnContext(ctx, "answer callback failed", "error", err)
	}
}
