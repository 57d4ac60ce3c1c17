package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mangabot/internal/chaptercache"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type fakeTelegraph struct {
	server        *httptest.Server
	uploadFailure atomic.Int32
	uploads       atomic.Int32

	mu   sync.Mutex
	form map[string]string
}

func newFakeTelegraph(t *testing.T) *fakeTelegraph {
	t.Helper()

	fake := &fakeTelegraph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		n := fake.uploads.Add(1)
		if fake.uploadFailure.Add(-1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"no file"}`)
			return
		}
		defer file.Close()
		if header.Header.Get("Content-Type") != "image/png" {
			fmt.Fprint(w, `{"error":"bad content type"}`)
			return
		}
		fmt.Fprintf(w, `[{"src":"/file/page%d.png"}]`, n)
	})
	mux.HandleFunc("/createPage", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fake.mu.Lock()
		fake.form = map[string]string{}
		for key := range r.PostForm {
			fake.form[key] = r.PostForm.Get(key)
		}
		fake.mu.Unlock()

		if r.PostForm.Get("access_token") != "token" {
			fmt.Fprint(w, `{"ok":false,"error":"ACCESS_TOKEN_INVALID"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"url":"https://telegra.ph/Chapter-10-01-01"}}`)
	})
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)

	return fake
}

func (f *fakeTelegraph) client(t *testing.T, token string) *Client {
	t.Helper()

	client, err := NewClient(
		Config{AccessToken: token, AuthorName: "mangabot", AuthorURL: "https://t.me/mangabot"},
		WithAPIURL(f.server.URL),
		WithUploadURL(f.server.URL+"/upload"),
		WithRetry(3, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	return client
}

func (f *fakeTelegraph) lastForm() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.form
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{AccessToken: "  "}); err == nil {
		t.Fatal("expected error")
	}
}

func TestArticlePublish(t *testing.T) {
	t.Parallel()

	fake := newFakeTelegraph(t)
	fake.uploadFailure.Store(1)
	client := fake.client(t, "token")

	article, err := client.Begin(context.Background(), chaptercache.ArticleMeta{Title: "Origins Vol. 2 Ch. 10"})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := article.AppendPage(context.Background(), pngHeader); err != nil {
			t.Fatalf("append page %d failed: %v", i, err)
		}
	}
	pageURL, err := article.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if pageURL != "https://telegra.ph/Chapter-10-01-01" {
		t.Fatalf("page url = %q", pageURL)
	}
	if fake.uploads.Load() != 3 {
		t.Fatalf("uploads = %d, want 3 (one retry)", fake.uploads.Load())
	}

	form := fake.lastForm()
	if form["title"] != "Origins Vol. 2 Ch. 10" || form["author_name"] != "mangabot" || form["author_url"] != "https://t.me/mangabot" {
		t.Fatalf("form = %v", form)
	}
	var nodes []node
	if err := json.Unmarshal([]byte(form["content"]), &nodes); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	wantSrc := []string{fake.server.URL + "/file/page2.png", fake.server.URL + "/file/page3.png"}
	if len(nodes) != len(wantSrc) {
		t.Fatalf("nodes = %+v", nodes)
	}
	for i, n := range nodes {
		if n.Tag != "img" || n.Attrs["src"] != wantSrc[i] {
			t.Fatalf("node %d = %+v, want img %s", i, n, wantSrc[i])
		}
	}
}

func TestArticleMetaOverridesAuthor(t *testing.T) {
	t.Parallel()

	fake := newFakeTelegraph(t)
	client := fake.client(t, "token")

	article, err := client.Begin(context.Background(), chaptercache.ArticleMeta{
		Title:      "Chapter",
		AuthorName: "Group",
	})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := article.AppendPage(context.Background(), pngHeader); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := article.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if got := fake.lastForm()["author_name"]; got != "Group" {
		t.Fatalf("author_name = %q, want Group", got)
	}
}

func TestArticleFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		title   string
		pages   [][]byte
		wantAPI bool
	}{
		{name: "empty title", token: "token", title: " "},
		{name: "no pages", token: "token", title: "Chapter"},
		{name: "empty image", token: "token", title: "Chapter", pages: [][]byte{nil}},
		{name: "unsupported image", token: "token", title: "Chapter", pages: [][]byte{[]byte("plain text")}, wantAPI: true},
		{name: "rejected token", token: "bad", title: "Chapter", pages: [][]byte{pngHeader}, wantAPI: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fake := newFakeTelegraph(t)
			client := fake.client(t, testCase.token)

			err := publish(client, testCase.title, testCase.pages)
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) != testCase.wantAPI {
				t.Fatalf("err = %v, want API error %v", err, testCase.wantAPI)
			}
		})
	}
}

func publish(client *Client, title string, pages [][]byte) error {
	ctx := context.Background()
	article, err := client.Begin(ctx, chaptercache.ArticleMeta{Title: title})
	if err != nil {
		return err
	}
	for _, page := range pages {
		if err := article.AppendPage(ctx, page); err != nil {
			return err
		}
	}
	_, err = article.Finalize(ctx)

	return err
}

func TestClipTitle(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("語", maxTitleRunes+10)
	if got := clipTitle(long); len([]rune(got)) != maxTitleRunes {
		t.Fatalf("clipped length = %d, want %d", len([]rune(got)), maxTitleRunes)
	}
	if got := clipTitle("short"); got != "short" {
		t.Fatalf("clipTitle(short) = %q", got)
	}
}

func TestMultipartImage(t *testing.T) {
	t.Parallel()

	body, contentType, err := multipartImage(pngHeader, "image/png")
	if err != nil {
		t.Fatalf("multipart failed: %v", err)
	}
	if !strings.HasPrefix(contentType, "multipart/form-data; boundary=") {
		t.Fatalf("content type = %q", contentType)
	}
	raw, _ := io.ReadAll(body)
	if !strings.Contains(string(raw), `filename="page.png"`) {
		t.Fatalf("body missing filename: %s", raw)
	}
}
