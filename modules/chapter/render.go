package chapter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"mangabot/internal/chaptercache"
	"mangabot/modules/dismiss"
	"mangabot/pkg/chat"
)

var languageNames = map[string]string{
	"ar":    "Arabic",
	"de":    "German",
	"en":    "English",
	"es":    "Spanish",
	"es-la": "Spanish (LATAM)",
	"fr":    "French",
	"id":    "Indonesian",
	"it":    "Italian",
	"ja":    "Japanese",
	"ko":    "Korean",
	"pl":    "Polish",
	"pt":    "Portuguese",
	"pt-br": "Portuguese (Br)",
	"ru":    "Russian",
	"th":    "Thai",
	"tr":    "Turkish",
	"uk":    "Ukrainian",
	"vi":    "Vietnamese",
	"zh":    "Chinese",
	"zh-hk": "Chinese (HK)",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	if code == "" {
		return "unknown language"
	}

	return code
}

// message accumulates text and rune-offset entities.
type message struct {
	text     strings.Builder
	runes    int
	entities []chat.TextEntity
}

func (m *message) plain(text string) *message {
	m.text.WriteString(text)
	m.runes += utf8.RuneCountInString(text)

	return m
}

func (m *message) styled(text string, entityType chat.TextEntityType, url string) *message {
	length := utf8.RuneCountInString(text)
	if length > 0 {
		m.entities = append(m.entities, chat.TextEntity{
			Type:   entityType,
			Offset: m.runes,
			Length: length,
			URL:    url,
		})
	}

	return m.plain(text)
}

func (m *message) String() string {
	return m.text.String()
}

func readerMessage(req request, chapter chaptercache.ChapterMeta, manga chaptercache.MangaMeta, articleURL string) *message {
	msg := &message{}
	if manga.Title != "" {
		msg.styled(manga.Title, chat.TextEntityTypeBold, "").plain("\n")
	}
	msg.plain(chaptercache.FormatChapter(chapter)).plain("\n")
	msg.plain("Language: " + languageName(chapter.Language))
	if list := req.listName(); list != "" {
		msg.plain("\n").styled("List:", chat.TextEntityTypeBold, "").plain(" " + list)
	}
	msg.plain("\n\n").styled("Read on Telegraph", chat.TextEntityTypeTextURL, articleURL)

	return msg
}

func readerKeyboard(req request, chapter chaptercache.ChapterMeta, manga chaptercache.MangaMeta, articleURL string) *chat.InlineKeyboard {
	readLabel := "Mark read"
	if req.markedRead() {
		readLabel = "Mark unread"
	}

	rows := [][]chat.Button{
		{
			chat.CallbackButton(readLabel, "read:"+req.chapterID),
			chat.URLButton("Instant View", articleURL),
			chat.SwitchInlineButton("Share", "chapter:"+req.chapterID),
			chat.CallbackButton("🔗", "sharechapter="+req.chapterID),
		},
		{
			chat.CallbackButton("Chapter list", req.chapterListData(chapter.Language, chapter.MangaID)),
			chat.CallbackButton("Manga description", req.mangaData(chapter.MangaID)),
			chat.CallbackButton("Copy", req.copyData()),
		},
	}
	if manga.MALID != "" {
		rows = append(rows, []chat.Button{
			chat.URLButton("Track reading on MAL", "https://myanimelist.net/manga/"+manga.MALID),
		})
	}

	return keyboard(rows...)
}

func statusText(chapter chaptercache.ChapterMeta, cached int) string {
	if cached > 0 {
		return fmt.Sprintf("%d pictures already cached...", cached)
	}

	return fmt.Sprintf("Chapter isn't cached yet, starting caching chapter %s...", chapter.Chapter)
}

func progressText(chapter chaptercache.ChapterMeta, progress chaptercache.Progress) string {
	return fmt.Sprintf("Chapter %s\nCached %d of %d pages.", chapter.Chapter, progress.Cached, progress.Total)
}

func readyText(chapter chaptercache.ChapterMeta, manga chaptercache.MangaMeta) string {
	return fmt.Sprintf(
		"%s\n%s in %s ready for reading!",
		manga.Title,
		chaptercache.FormatChapter(chapter),
		languageName(chapter.Language),
	)
}

func readyKeyboard(req request) *chat.InlineKeyboard {
	return keyboard([]chat.Button{
		chat.CallbackButton("Ok!", dismiss.CallbackData),
		chat.CallbackButton("Load chapter", req.loadData()),
	})
}

func errorText(err error) string {
	return "Error: " + err.Error()
}

// keyboard drops callback buttons whose payload does not fit the platform
// limit, and rows left empty.
func keyboard(rows ...[]chat.Button) *chat.InlineKeyboard {
	board := &chat.InlineKeyboard{}
	for _, row := range rows {
		kept := make([]chat.Button, 0, len(row))
		for _, button := range row {
			if button.Kind == chat.ButtonKindCallback && len(button.Data) > chat.CallbackDataLimit {
				continue
			}
			kept = append(kept, button)
		}
		if len(kept) > 0 {
			board.Rows = append(board.Rows, kept)
		}
	}

	return board
}
