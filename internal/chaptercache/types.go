package chaptercache

import (
	"context"
	"time"
)

// ChapterMeta describes one chapter as reported by the metadata source.
type ChapterMeta struct {
	ID       string
	MangaID  string
	Title    string
	Volume   string
	Chapter  string
	Language string
	// Pages is the number of page images in the chapter.
	Pages int
	// ExternalURL is set when the chapter is only readable on a third-party site.
	ExternalURL string
	PublishedAt time.Time
}

// MangaMeta describes the manga a chapter belongs to.
type MangaMeta struct {
	ID            string
	Title         string
	ContentRating string
	// MALID is the MyAnimeList identifier when linked.
	MALID string
}

// Actor identifies who asked for a chapter.
type Actor struct {
	ID    string
	IsBot bool
}

// ArticleMeta is the header of an article being built.
type ArticleMeta struct {
	Title      string
	AuthorName string
	AuthorURL  string
}

// Progress reports how many pages of a job have been relayed.
type Progress struct {
	Cached int
	Total  int
}

// CompletionRecord is the persisted outcome of a successful job.
type CompletionRecord struct {
	ChapterID   string
	ArticleURL  string
	PublishedAt time.Time
	MangaID     string
	MangaTitle  string
	Title       string
	Volume      string
	Chapter     string
	Language    string
}

// NewCompletionRecord derives the record written after a job publishes articleURL.
func NewCompletionRecord(chapter ChapterMeta, manga MangaMeta, articleURL string) CompletionRecord {
	return CompletionRecord{
		ChapterID:   chapter.ID,
		ArticleURL:  articleURL,
		PublishedAt: chapter.PublishedAt,
		MangaID:     chapter.MangaID,
		MangaTitle:  manga.Title,
		Title:       chapter.Title,
		Volume:      chapter.Volume,
		Chapter:     chapter.Chapter,
		Language:    chapter.Language,
	}
}

// ReadingMark records the chapter a user opened last for one manga.
type ReadingMark struct {
	UserID    string
	MangaID   string
	ChapterID string
	At        time.Time
}

// MetadataSource resolves chapter and manga metadata.
type MetadataSource interface {
	Chapter(ctx context.Context, chapterID string) (ChapterMeta, error)
	Manga(ctx context.Context, mangaID string) (MangaMeta, error)
}

// PageSource returns the image bytes of one chapter page. Index is zero-based.
type PageSource interface {
	FetchPage(ctx context.Context, chapterID string, index int) ([]byte, error)
}

// Publisher starts long-form articles.
type Publisher interface {
	Begin(ctx context.Context, meta ArticleMeta) (Article, error)
}

// Article accumulates page images and publishes them as one document.
type Article interface {
	AppendPage(ctx context.Context, image []byte) error
	// Finalize publishes the article and returns its reference URL.
	Finalize(ctx context.Context) (string, error)
}

// CompletionFinder looks up records of chapters that were already published.
type CompletionFinder interface {
	FindCompletionRecord(ctx context.Context, chapterID string) (CompletionRecord, bool, error)
}

// ChapterStore persists completion records and reading marks.
//
// CreateCompletionRecord is not idempotent; callers write at most once per
// successful job.
type ChapterStore interface {
	CompletionFinder
	CreateCompletionRecord(ctx context.Context, record CompletionRecord) error
	SetCurrentlyReading(ctx context.Context, mark ReadingMark) error
}
