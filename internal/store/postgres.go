package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mangabot/internal/chaptercache"
)

const uniqueViolation = "23505"

// Postgres is a chapter store backed by a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ chaptercache.ChapterStore = (*Postgres)(nil)

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.Pool.Close() }

// FindCompletionRecord returns the record for chapterID when one exists.
func (p *Postgres) FindCompletionRecord(ctx context.Context, chapterID string) (chaptercache.CompletionRecord, bool, error) {
	record := chaptercache.CompletionRecord{ChapterID: chapterID}
	var publishedAt *time.Time
	err := p.Pool.QueryRow(ctx, `
		SELECT article_url, published_at, manga_id, manga_title, title, volume, chapter, language
		FROM completion_records
		WHERE chapter_id = $1
	`, chapterID).Scan(
		&record.ArticleURL,
		&publishedAt,
		&record.MangaID,
		&record.MangaTitle,
		&record.Title,
		&record.Volume,
		&record.Chapter,
		&record.Language,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return chaptercache.CompletionRecord{}, false, nil
	}
	if err != nil {
		return chaptercache.CompletionRecord{}, false, fmt.Errorf("find completion record %s: %w", chapterID, err)
	}
	if publishedAt != nil {
		record.PublishedAt = publishedAt.UTC()
	}

	return record, true, nil
}

// CreateCompletionRecord inserts record. A second record for the same chapter
// fails with ErrRecordExists.
func (p *Postgres) CreateCompletionRecord(ctx context.Context, record chaptercache.CompletionRecord) error {
	var publishedAt *time.Time
	if !record.PublishedAt.IsZero() {
		publishedAt = &record.PublishedAt
	}

	_, err := p.Pool.Exec(ctx, `
		INSERT INTO completion_records
			(chapter_id, article_url, published_at, manga_id, manga_title, title, volume, chapter, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.ChapterID,
		record.ArticleURL,
		publishedAt,
		record.MangaID,
		record.MangaTitle,
		record.Title,
		record.Volume,
		record.Chapter,
		record.Language,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create completion record %s: %w", record.ChapterID, ErrRecordExists)
	}
	if err != nil {
		return fmt.Errorf("create completion record %s: %w", record.ChapterID, err)
	}

	return nil
}

// SetCurrentlyReading upserts the user's reading mark for the manga.
func (p *Postgres) SetCurrentlyReading(ctx context.Context, mark chaptercache.ReadingMark) error {
	at := mark.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := p.Pool.Exec(ctx, `
		INSERT INTO reading_marks (user_id, manga_id, chapter_id, marked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, manga_id) DO UPDATE
		SET chapter_id = EXCLUDED.chapter_id, marked_at = EXCLUDED.marked_at
	`, mark.UserID, mark.MangaID, mark.ChapterID, at)
	if err != nil {
		return fmt.Errorf("set currently reading %s/%s: %w", mark.UserID, mark.MangaID, err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
