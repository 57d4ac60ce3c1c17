package store

import (
	"context"
	"fmt"
	"sync"

	"mangabot/internal/chaptercache"
)

// Memory is a process-local chapter store used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]chaptercache.CompletionRecord
	marks   map[readingKey]chaptercache.ReadingMark
}

type readingKey struct {
	userID  string
	mangaID string
}

var _ chaptercache.ChapterStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]chaptercache.CompletionRecord),
		marks:   make(map[readingKey]chaptercache.ReadingMark),
	}
}

// FindCompletionRecord returns the record for chapterID when one exists.
func (m *Memory) FindCompletionRecord(ctx context.Context, chapterID string) (chaptercache.CompletionRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return chaptercache.CompletionRecord{}, false, fmt.Errorf("find completion record: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[chapterID]

	return record, ok, nil
}

// CreateCompletionRecord stores record. A second record for the same chapter
// fails with ErrRecordExists.
func (m *Memory) CreateCompletionRecord(ctx context.Context, record chaptercache.CompletionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("create completion record: %w", err)
	}
	if record.ChapterID == "" {
		return fmt.Errorf("create completion record: empty chapter id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ChapterID]; exists {
		return fmt.Errorf("create completion record %s: %w", record.ChapterID, ErrRecordExists)
	}
	m.records[record.ChapterID] = record

	return nil
}

// SetCurrentlyReading replaces the user's reading mark for the manga.
func (m *Memory) SetCurrentlyReading(ctx context.Context, mark chaptercache.ReadingMark) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("set currently reading: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.marks[readingKey{userID: mark.UserID, mangaID: mark.MangaID}] = mark

	return nil
}

// CurrentlyReading returns the user's reading mark for the manga.
func (m *Memory) CurrentlyReading(ctx context.Context, userID string, mangaID string) (chaptercache.ReadingMark, bool, error) {
	if err := ctx.Err(); err != nil {
		return chaptercache.ReadingMark{}, false, fmt.Errorf("currently reading: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	mark, ok := m.marks[readingKey{userID: userID, mangaID: mangaID}]

	return mark, ok, nil
}
