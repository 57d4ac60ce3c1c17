package mangadex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const chapterJSON = `{
  "result": "ok",
  "data": {
    "id": "ch-1",
    "attributes": {
      "title": "The Beginning",
      "volume": "2",
      "chapter": "10",
      "translatedLanguage": "en",
      "pages": 2,
      "externalUrl": null,
      "publishAt": "2021-03-04T05:06:07+00:00"
    },
    "relationships": [
      {"id": "group-1", "type": "scanlation_group"},
      {"id": "manga-1", "type": "manga"}
    ]
  }
}`

const mangaJSON = `{
  "result": "ok",
  "data": {
    "id": "manga-1",
    "attributes": {
      "title": {"ja-ro": "Hajimari", "en": "Origins"},
      "contentRating": "safe",
      "links": {"mal": "4242"}
    }
  }
}`

type fakeAPI struct {
	server      *httptest.Server
	chapterHits atomic.Int32
	atHomeHits  atomic.Int32
	pageHits    atomic.Int32
	failFirst   atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/chapter/ch-1", func(w http.ResponseWriter, _ *http.Request) {
		api.chapterHits.Add(1)
		if api.failFirst.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, chapterJSON)
	})
	mux.HandleFunc("/manga/manga-1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, mangaJSON)
	})
	mux.HandleFunc("/at-home/server/ch-1", func(w http.ResponseWriter, _ *http.Request) {
		api.atHomeHits.Add(1)
		fmt.Fprintf(w, `{"result":"ok","baseUrl":%q,"chapter":{"hash":"h1","data":["p1.png","p2.png"],"dataSaver":["p1.jpg","p2.jpg"]}}`, api.server.URL)
	})
	mux.HandleFunc("/data/h1/", func(w http.ResponseWriter, r *http.Request) {
		api.pageHits.Add(1)
		fmt.Fprint(w, "full:"+r.URL.Path)
	})
	mux.HandleFunc("/data-saver/h1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "saver:"+r.URL.Path)
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)

	return api
}

func newTestClient(api *fakeAPI, options ...Option) *Client {
	base := []Option{
		WithBaseURL(api.server.URL),
		WithRetry(3, time.Millisecond),
		WithRequestTimeout(time.Second),
	}

	return NewClient(append(base, options...)...)
}

func TestClientChapter(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.failFirst.Store(1)
	client := newTestClient(api)

	chapter, err := client.Chapter(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("chapter failed: %v", err)
	}
	if api.chapterHits.Load() != 2 {
		t.Fatalf("chapter hits = %d, want 2 (one retry)", api.chapterHits.Load())
	}
	if chapter.MangaID != "manga-1" || chapter.Volume != "2" || chapter.Chapter != "10" {
		t.Fatalf("chapter = %+v", chapter)
	}
	if chapter.Pages != 2 || chapter.Language != "en" || chapter.ExternalURL != "" {
		t.Fatalf("chapter = %+v", chapter)
	}
	wantPublished := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	if !chapter.PublishedAt.Equal(wantPublished) {
		t.Fatalf("published at = %s, want %s", chapter.PublishedAt, wantPublished)
	}
}

func TestClientManga(t *testing.T) {
	t.Parallel()

	client := newTestClient(newFakeAPI(t))

	manga, err := client.Manga(context.Background(), "manga-1")
	if err != nil {
		t.Fatalf("manga failed: %v", err)
	}
	if manga.Title != "Origins" || manga.ContentRating != "safe" || manga.MALID != "4242" {
		t.Fatalf("manga = %+v", manga)
	}
}

func TestClientNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewClient(WithBaseURL(server.URL), WithRetry(5, time.Millisecond))
	_, err := client.Chapter(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestClientGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.failFirst.Store(10)
	client := newTestClient(api)

	_, err := client.Chapter(context.Background(), "ch-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503 status error", err)
	}
	if api.chapterHits.Load() != 3 {
		t.Fatalf("chapter hits = %d, want 3", api.chapterHits.Load())
	}
}

func TestClientFetchPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		dataSaver bool
		index     int
		want      string
		wantErr   bool
	}{
		{name: "first page", index: 0, want: "full:/data/h1/p1.png"},
		{name: "data saver", dataSaver: true, index: 1, want: "saver:/data-saver/h1/p2.jpg"},
		{name: "out of range", index: 2, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(newFakeAPI(t), WithDataSaver(testCase.dataSaver))
			image, err := client.FetchPage(context.Background(), "ch-1", testCase.index)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch page failed: %v", err)
			}
			if string(image) != testCase.want {
				t.Fatalf("image = %q, want %q", image, testCase.want)
			}
		})
	}
}

func TestClientRejectsOversizedPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		limit    int64
		wantErr  bool
		wantSize int
	}{
		{name: "exactly at limit", limit: int64(len("full:/data/h1/p1.png")), wantSize: len("full:/data/h1/p1.png")},
		{name: "one byte over", limit: int64(len("full:/data/h1/p1.png")) - 1, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI(t)
			client := newTestClient(api)
			client.maxPageBytes = testCase.limit

			image, err := client.FetchPage(context.Background(), "ch-1", 0)
			if testCase.wantErr {
				if !errors.Is(err, ErrPageTooLarge) {
					t.Fatalf("error = %v, want ErrPageTooLarge", err)
				}
				if image != nil {
					t.Fatalf("image = %q, want nil", image)
				}
				if api.pageHits.Load() != 1 {
					t.Fatalf("page hits = %d, want 1 (not retried)", api.pageHits.Load())
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch page failed: %v", err)
			}
			if len(image) != testCase.wantSize {
				t.Fatalf("image size = %d, want %d", len(image), testCase.wantSize)
			}
		})
	}
}

func TestClientReusesAtHomeUntilExpiry(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	clock := clockwork.NewFakeClock()
	client := newTestClient(api, WithClock(clock))

	for index := 0; index < 2; index++ {
		if _, err := client.FetchPage(context.Background(), "ch-1", index); err != nil {
			t.Fatalf("fetch page %d failed: %v", index, err)
		}
	}
	if api.atHomeHits.Load() != 1 {
		t.Fatalf("at-home hits = %d, want 1", api.atHomeHits.Load())
	}

	clock.Advance(atHomeTTL)
	if _, err := client.FetchPage(context.Background(), "ch-1", 0); err != nil {
		t.Fatalf("fetch page failed: %v", err)
	}
	if api.atHomeHits.Load() != 2 {
		t.Fatalf("at-home hits = %d, want 2", api.atHomeHits.Load())
	}
}

func TestClientUsesCache(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	cache := &memoryCache{values: make(map[string][]byte)}
	client := newTestClient(api, WithCache(cache))

	for i := 0; i < 3; i++ {
		if _, err := client.Chapter(context.Background(), "ch-1"); err != nil {
			t.Fatalf("chapter failed: %v", err)
		}
	}
	if api.chapterHits.Load() != 1 {
		t.Fatalf("chapter hits = %d, want 1", api.chapterHits.Load())
	}
	if _, ok := cache.values[chapterCacheKey("ch-1")]; !ok {
		t.Fatal("expected chapter to be cached")
	}
}

func TestLocalizedTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		titles map[string]string
		want   string
	}{
		{name: "english first", titles: map[string]string{"ja": "始まり", "en": "Origins"}, want: "Origins"},
		{name: "romanized next", titles: map[string]string{"ja": "始まり", "ja-ro": "Hajimari"}, want: "Hajimari"},
		{name: "stable fallback", titles: map[string]string{"ko": "시작", "fr": "Origines"}, want: "Origines"},
		{name: "empty", titles: nil, want: ""},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := localizedTitle(testCase.titles); got != testCase.want {
				t.Fatalf("title = %q, want %q", got, testCase.want)
			}
		})
	}
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.values[key]

	return value, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value

	return nil
}
