package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// mockDueLister はDueListerのテスト用モック。
type mockDueLister struct {
	listFn func(ctx context.Context, now time.Time) ([]*model.FeedSource, error)
}

func (m *mockDueLister) ListDueForFetch(ctx context.Context, now time.Time) ([]*model.FeedSource, error) {
	return m.listFn(ctx, now)
}

// mockFetcher はSourceFetcherのテスト用モック。
type mockFetcher struct {
	fetchFn func(ctx context.Context, source *model.FeedSource) error
}

func (m *mockFetcher) Fetch(ctx context.Context, source *model.FeedSource) error {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, source)
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func dueSources(n int) []*model.FeedSource {
	sources := make([]*model.FeedSource, n)
	for i := range sources {
		sources[i] = &model.FeedSource{ID: fmt.Sprintf("src-%d", i), FetchStatus: model.FetchStatusActive}
	}
	return sources
}

func staticLister(sources []*model.FeedSource) *mockDueLister {
	return &mockDueLister{listFn: func(context.Context, time.Time) ([]*model.FeedSource, error) {
		return sources, nil
	}}
}

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(staticLister(nil), &mockFetcher{}, newTestLogger(&buf), 0)
	if s.maxConcurrency != 10 {
		t.Errorf("maxConcurrency = %d, want 10", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_FetchesAllDue(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	fetched := map[string]bool{}
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, s *model.FeedSource) error {
		mu.Lock()
		defer mu.Unlock()
		fetched[s.ID] = true
		return nil
	}}

	s := NewScheduler(staticLister(dueSources(3)), fetcher, newTestLogger(&buf), 2)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(fetched) != 3 {
		t.Errorf("fetched = %d, want 3", len(fetched))
	}
}

func TestScheduler_RunOnce_PassesCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var got time.Time
	lister := &mockDueLister{listFn: func(_ context.Context, now time.Time) ([]*model.FeedSource, error) {
		got = now
		return nil, nil
	}}

	s := NewScheduler(lister, &mockFetcher{}, newTestLogger(&buf), 1)
	s.now = func() time.Time { return fixed }
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !got.Equal(fixed) {
		t.Errorf("ListDueForFetch now = %v, want %v", got, fixed)
	}
}

func TestScheduler_RunOnce_RepoError(t *testing.T) {
	var buf bytes.Buffer
	lister := &mockDueLister{listFn: func(context.Context, time.Time) ([]*model.FeedSource, error) {
		return nil, errors.New("db down")
	}}
	s := NewScheduler(lister, &mockFetcher{}, newTestLogger(&buf), 1)
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() error = nil, want error")
	}
}

func TestScheduler_RunOnce_ConcurrencyLimit(t *testing.T) {
	var buf bytes.Buffer
	var current, peak, count int32
	fetcher := &mockFetcher{fetchFn: func(context.Context, *model.FeedSource) error {
		c := atomic.AddInt32(&current, 1)
		defer atomic.AddInt32(&current, -1)
		atomic.AddInt32(&count, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if c <= old || atomic.CompareAndSwapInt32(&peak, old, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}}

	s := NewScheduler(staticLister(dueSources(20)), fetcher, newTestLogger(&buf), 3)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if atomic.LoadInt32(&count) != 20 {
		t.Errorf("fetch count = %d, want 20", count)
	}
	if atomic.LoadInt32(&peak) > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestScheduler_RunOnce_FetchErrorIsLoggedAndOthersContinue(t *testing.T) {
	var count int32
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, s *model.FeedSource) error {
		atomic.AddInt32(&count, 1)
		if s.ID == "src-1" {
			return errors.New("boom")
		}
		return nil
	}}

	var logBuf bytes.Buffer
	var logMu sync.Mutex
	logger := slog.New(slog.NewJSONHandler(&lockedWriter{buf: &logBuf, mu: &logMu}, nil))

	s := NewScheduler(staticLister(dueSources(3)), fetcher, logger, 1)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if count != 3 {
		t.Errorf("fetch count = %d, want 3", count)
	}
	logMu.Lock()
	defer logMu.Unlock()
	if !strings.Contains(logBuf.String(), `"source_id":"src-1"`) {
		t.Errorf("log does not contain failed source: %s", logBuf.String())
	}
}

func TestScheduler_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var runs int32
	lister := &mockDueLister{listFn: func(context.Context, time.Time) ([]*model.FeedSource, error) {
		atomic.AddInt32(&runs, 1)
		return nil, nil
	}}
	s := NewScheduler(lister, &mockFetcher{}, newTestLogger(&buf), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目を待ってからキャンセルする
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("first run did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// lockedWriter は並行書き込みから保護されたio.Writer。
type lockedWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
