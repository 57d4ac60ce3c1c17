package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mangabot/internal/chaptercache"
	"mangabot/internal/kernel"
)

type stubJobs []chaptercache.JobSnapshot

func (s stubJobs) Snapshot() []chaptercache.JobSnapshot { return s }

type stubBus []kernel.SubscriptionStats

func (s stubBus) Stats() []kernel.SubscriptionStats { return s }

func TestRoutes(t *testing.T) {
	t.Parallel()

	startedAt := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	jobs := stubJobs{{
		ChapterID: "ch-1",
		RunID:     "run-1",
		Status:    chaptercache.StatusRunning,
		Cached:    3,
		Total:     10,
		StartedAt: startedAt,
	}}
	bus := stubBus{{Name: "chapter", Handled: 4}}

	tests := []struct {
		name       string
		path       string
		withBus    bool
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "healthz",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got map[string]string
				if err := json.Unmarshal(body, &got); err != nil || got["status"] != "ok" {
					t.Fatalf("body = %s, err = %v", body, err)
				}
			},
		},
		{
			name:       "jobs",
			path:       "/jobs",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got []chaptercache.JobSnapshot
				if err := json.Unmarshal(body, &got); err != nil {
					t.Fatalf("decode jobs: %v", err)
				}
				if len(got) != 1 || got[0].ChapterID != "ch-1" || got[0].Cached != 3 || !got[0].StartedAt.Equal(startedAt) {
					t.Fatalf("jobs = %+v", got)
				}
			},
		},
		{
			name:       "bus with stats",
			path:       "/bus",
			withBus:    true,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got []kernel.SubscriptionStats
				if err := json.Unmarshal(body, &got); err != nil || len(got) != 1 || got[0].Handled != 4 {
					t.Fatalf("body = %s, err = %v", body, err)
				}
			},
		},
		{name: "bus without stats", path: "/bus", wantStatus: http.StatusNotFound},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var options []Option
			if testCase.withBus {
				options = append(options, WithBusStats(bus))
			}
			server, err := New(jobs, options...)
			if err != nil {
				t.Fatalf("new server failed: %v", err)
			}

			recorder := httptest.NewRecorder()
			server.Routes().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, testCase.path, nil))
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if testCase.check != nil {
				testCase.check(t, recorder.Body.Bytes())
			}
		})
	}
}

func TestNewRequiresJobs(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	server, err := New(stubJobs{})
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	client := &http.Client{Timeout: time.Second}
	var response *http.Response
	for attempt := 0; attempt < 50; attempt++ {
		response, err = client.Get("http://" + listener.Addr().String() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get healthz failed: %v", err)
	}
	_ = response.Body.Close()
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
