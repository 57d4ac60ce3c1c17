package mangadex

import (
	"sort"
	"time"
)

type chapterResponse struct {
	Result string      `json:"result"`
	Data   chapterData `json:"data"`
}

type chapterData struct {
	ID            string            `json:"id"`
	Attributes    chapterAttributes `json:"attributes"`
	Relationships []relationship    `json:"relationships"`
}

type chapterAttributes struct {
	Title              *string    `json:"title"`
	Volume             *string    `json:"volume"`
	Chapter            *string    `json:"chapter"`
	TranslatedLanguage string     `json:"translatedLanguage"`
	Pages              int        `json:"pages"`
	ExternalURL        *string    `json:"externalUrl"`
	PublishAt          *time.Time `json:"publishAt"`
}

type relationship struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type mangaResponse struct {
	Result string    `json:"result"`
	Data   mangaData `json:"data"`
}

type mangaData struct {
	ID         string          `json:"id"`
	Attributes mangaAttributes `json:"attributes"`
}

type mangaAttributes struct {
	Title         map[string]string `json:"title"`
	ContentRating string            `json:"contentRating"`
	Links         map[string]string `json:"links"`
}

type atHomeResponse struct {
	Result  string        `json:"result"`
	BaseURL string        `json:"baseUrl"`
	Chapter atHomeChapter `json:"chapter"`
}

type atHomeChapter struct {
	Hash      string   `json:"hash"`
	Data      []string `json:"data"`
	DataSaver []string `json:"dataSaver"`
}

func deref(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}

// localizedTitle prefers English, then the romanized Japanese key, then the
// alphabetically first language so the result is stable.
func localizedTitle(titles map[string]string) string {
	for _, lang := range []string{"en", "ja-ro"} {
		if title := titles[lang]; title != "" {
			return title
		}
	}

	langs := make([]string, 0, len(titles))
	for lang := range titles {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if titles[lang] != "" {
			return titles[lang]
		}
	}

	return ""
}
