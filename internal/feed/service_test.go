package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// mockDetector はURLDetectorのテスト用モック。
type mockDetector struct {
	detectFn func(ctx context.Context, inputURL string) (string, error)
}

func (m *mockDetector) Detect(ctx context.Context, inputURL string) (string, error) {
	return m.detectFn(ctx, inputURL)
}

func fixedDetector(feedURL string) *mockDetector {
	return &mockDetector{detectFn: func(context.Context, string) (string, error) { return feedURL, nil }}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

func TestSourceService_Register(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFeedSourceRepo()
	svc := NewSourceService(repo, fixedDetector("https://venue.example.com/events.rss"))
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	source, err := svc.Register(ctx, "https://venue.example.com/calendar?x=1", " Concert ")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if source.ID == "" {
		t.Error("ID is empty")
	}
	if source.FeedURL != "https://venue.example.com/events.rss" {
		t.Errorf("FeedURL = %q", source.FeedURL)
	}
	if source.SiteURL != "https://venue.example.com" {
		t.Errorf("SiteURL = %q, want https://venue.example.com", source.SiteURL)
	}
	if source.Category != "Concert" {
		t.Errorf("Category = %q, want Concert", source.Category)
	}
	if source.FetchStatus != model.FetchStatusActive || !source.NextFetchAt.Equal(now) {
		t.Errorf("status/next = %s/%v, want active/%v", source.FetchStatus, source.NextFetchAt, now)
	}

	due, _ := repo.ListDueForFetch(ctx, now)
	if len(due) != 1 {
		t.Errorf("due = %d, want 1", len(due))
	}
}

func TestSourceService_Register_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFeedSourceRepo()
	svc := NewSourceService(repo, fixedDetector("https://venue.example.com/events.rss"))

	if _, err := svc.Register(ctx, "https://venue.example.com/", "Concert"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := svc.Register(ctx, "https://venue.example.com/calendar", "Sports")
	assertCode(t, err, model.ErrCodeDuplicateSource)
}

func TestSourceService_Register_Failures(t *testing.T) {
	repo := repository.NewMemoryFeedSourceRepo()

	svc := NewSourceService(repo, fixedDetector("https://venue.example.com/events.rss"))
	_, err := svc.Register(context.Background(), "https://venue.example.com/", "")
	assertCode(t, err, model.ErrCodeValidationFailed)

	svc = NewSourceService(repo, &mockDetector{detectFn: func(_ context.Context, in string) (string, error) {
		return "", model.NewFeedNotDetectedError(in)
	}})
	_, err = svc.Register(context.Background(), "https://venue.example.com/", "Concert")
	assertCode(t, err, model.ErrCodeFeedNotDetected)

	if list, _ := repo.List(context.Background()); len(list) != 0 {
		t.Errorf("sources = %d, want 0", len(list))
	}
}

func TestSourceService_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFeedSourceRepo()
	svc := NewSourceService(repo, fixedDetector("https://venue.example.com/events.rss"))

	source, err := svc.Register(ctx, "https://venue.example.com/", "Concert")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if list, _ := svc.List(ctx); len(list) != 1 {
		t.Fatalf("List() = %d, want 1", len(list))
	}

	if err := svc.Delete(ctx, source.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if list, _ := svc.List(ctx); len(list) != 0 {
		t.Errorf("List() = %d, want 0", len(list))
	}

	assertCode(t, svc.Delete(ctx, source.ID), model.ErrCodeSourceNotFound)
}

func TestSourceService_Resume(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFeedSourceRepo()
	svc := NewSourceService(repo, fixedDetector("https://venue.example.com/events.rss"))

	source, err := svc.Register(ctx, "https://venue.example.com/", "Concert")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// 稼働中のフィードは再開できない
	_, err = svc.Resume(ctx, source.ID)
	assertCode(t, err, model.ErrCodeFeedNotStopped)

	source.FetchStatus = model.FetchStatusStopped
	source.ConsecutiveErrors = 10
	source.ErrorMessage = "HTTPステータス 410 によりフェッチを停止しました"
	source.NextFetchAt = time.Now().Add(12 * time.Hour)
	if err := repo.UpdateFetchState(ctx, source); err != nil {
		t.Fatalf("UpdateFetchState() error = %v", err)
	}

	resumed, err := svc.Resume(ctx, source.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.FetchStatus != model.FetchStatusActive || resumed.ConsecutiveErrors != 0 || resumed.ErrorMessage != "" {
		t.Errorf("Resume() = %+v, want reset active state", resumed)
	}
	stored, _ := repo.FindByID(ctx, source.ID)
	if stored.FetchStatus != model.FetchStatusActive {
		t.Errorf("stored status = %s, want active", stored.FetchStatus)
	}

	_, err = svc.Resume(ctx, "missing")
	assertCode(t, err, model.ErrCodeSourceNotFound)
}

// 実際のHTTPサーバーに対して検出から登録までを通して確認する。
func TestSourceService_Register_WithDetector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/atom+xml" href="/events.atom"></head></html>`)
	}))
	defer server.Close()

	repo := repository.NewMemoryFeedSourceRepo()
	svc := NewSourceService(repo, NewDetector(&mockGuard{}))

	source, err := svc.Register(context.Background(), server.URL+"/calendar", "Family")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if source.FeedURL != server.URL+"/events.atom" {
		t.Errorf("FeedURL = %q, want %q", source.FeedURL, server.URL+"/events.atom")
	}
}
