package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/eventexplorer/internal/metrics"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

const userAgent = "EventExplorer/1.0 Catalog Importer"

// EntryImporter はフィードエントリをカタログに取り込むインターフェース。
// catalog.Importerが実装する。
type EntryImporter interface {
	ImportEntries(ctx context.Context, source *model.FeedSource, entries []model.FeedEntry) (inserted, updated int, err error)
}

// URLGuard はSSRF検証のインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Options はFetcherの動作設定。
type Options struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は正常フェッチ後に次回フェッチまで空ける時間。
	Interval time.Duration
}

// Fetcher は1つの取り込み元について条件付きGET、パース、取り込みを行い、
// 結果に応じてフェッチ状態を更新する。
type Fetcher struct {
	sources  repository.FeedSourceRepository
	importer EntryImporter
	guard    URLGuard
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewFetcher はFetcherを生成する。collectorはnilでもよい。
func NewFetcher(
	sources repository.FeedSourceRepository,
	importer EntryImporter,
	guard URLGuard,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Fetcher{
		sources:  sources,
		importer: importer,
		guard:    guard,
		metrics:  collector,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Fetch は取り込み元をフェッチし、フェッチ状態を保存する。
// 停止・バックオフ・パース失敗はフェッチ状態に記録し、エラーとしては返さない。
func (f *Fetcher) Fetch(ctx context.Context, source *model.FeedSource) error {
	start := f.now()
	log := f.logger.With(slog.String("source_id", source.ID), slog.String("feed_url", source.FeedURL))

	if err := f.guard.ValidateURL(source.FeedURL); err != nil {
		log.Error("SSRF検証に失敗しました", slog.String("error", err.Error()))
		MarkStopped(source, fmt.Sprintf("SSRF検証失敗: %s", err.Error()), f.now())
		f.recordFailure(source.ID, "ssrf")
		return f.save(ctx, log, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if source.ETag != "" {
		req.Header.Set("If-None-Match", source.ETag)
	}
	if source.LastModified != "" {
		req.Header.Set("If-Modified-Since", source.LastModified)
	}

	resp, err := f.guard.NewSafeClient(f.opts.Timeout).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("HTTPリクエストに失敗しました", slog.String("error", err.Error()))
		MarkBackoff(source, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.recordFailure(source.ID, "network")
		return f.save(ctx, log, source)
	}
	defer resp.Body.Close()

	if f.metrics != nil {
		f.metrics.RecordHTTPStatus(resp.StatusCode)
		f.metrics.RecordFetchLatency(f.now().Sub(start))
	}

	switch Classify(resp.StatusCode) {
	case OutcomeNotModified:
		log.Info("フィードは未変更です", slog.Int("http_status", resp.StatusCode))
		MarkSuccess(source, f.opts.Interval, f.now())
		if f.metrics != nil {
			f.metrics.RecordFetchSuccess(source.ID)
		}
		return f.save(ctx, log, source)

	case OutcomeStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		log.Warn("フィードフェッチを停止します", slog.Int("http_status", resp.StatusCode))
		MarkStopped(source, reason, f.now())
		f.recordFailure(source.ID, "stopped")
		return f.save(ctx, log, source)

	case OutcomeBackoff, OutcomeUnexpected:
		reason := fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode)
		log.Warn("フィードフェッチにバックオフを適用します",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", source.ConsecutiveErrors+1),
		)
		MarkBackoff(source, reason, f.now())
		f.recordFailure(source.ID, "backoff")
		return f.save(ctx, log, source)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodySize+1))
	if err != nil {
		MarkBackoff(source, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		f.recordFailure(source.ID, "read")
		return f.save(ctx, log, source)
	}
	if int64(len(body)) > f.opts.MaxBodySize {
		log.Warn("レスポンスサイズが上限を超えました", slog.Int64("max_size", f.opts.MaxBodySize))
		MarkParseFailure(source, "レスポンスサイズ超過", f.opts.Interval, f.now())
		f.recordParseFailure(source.ID)
		return f.save(ctx, log, source)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		source.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		source.LastModified = lastMod
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		log.Warn("フィードのパースに失敗しました", slog.String("error", err.Error()))
		MarkParseFailure(source, err.Error(), f.opts.Interval, f.now())
		f.recordParseFailure(source.ID)
		return f.save(ctx, log, source)
	}
	if parsed.Title != "" {
		source.Title = strings.TrimSpace(parsed.Title)
	}
	if parsed.Link != "" {
		source.SiteURL = parsed.Link
	}

	entries := ToEntries(parsed.Items)
	inserted, updated, err := f.importer.ImportEntries(ctx, source, entries)
	if err != nil {
		log.Error("イベントの取り込みに失敗しました", slog.String("error", err.Error()))
		MarkBackoff(source, fmt.Sprintf("取り込み失敗: %s", err.Error()), f.now())
		f.recordFailure(source.ID, "import")
		return f.save(ctx, log, source)
	}

	MarkSuccess(source, f.opts.Interval, f.now())
	if err := f.save(ctx, log, source); err != nil {
		return err
	}
	if f.metrics != nil {
		f.metrics.RecordFetchSuccess(source.ID)
		f.metrics.RecordEventsUpserted(inserted + updated)
	}

	log.Info("フィードフェッチが完了しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Int("events_inserted", inserted),
		slog.Int("events_updated", updated),
		slog.Int("entries_total", len(entries)),
		slog.Float64("duration_ms", float64(f.now().Sub(start).Milliseconds())),
	)
	return nil
}

func (f *Fetcher) save(ctx context.Context, log *slog.Logger, source *model.FeedSource) error {
	if err := f.sources.UpdateFetchState(ctx, source); err != nil {
		log.Error("フェッチ状態の更新に失敗しました", slog.String("error", err.Error()))
		return fmt.Errorf("フェッチ状態の更新に失敗: %w", err)
	}
	return nil
}

func (f *Fetcher) recordFailure(sourceID, reason string) {
	if f.metrics != nil {
		f.metrics.RecordFetchFailure(sourceID, reason)
	}
}

func (f *Fetcher) recordParseFailure(sourceID string) {
	if f.metrics != nil {
		f.metrics.RecordParseFailure(sourceID)
	}
}

// ToEntries はgofeedのアイテムをFeedEntryに変換する。
// 日付は公開日時を優先し、なければ更新日時を使う。
func ToEntries(items []*gofeed.Item) []model.FeedEntry {
	entries := make([]model.FeedEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entry := model.FeedEntry{
			GUID:        item.GUID,
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
		}
		if entry.Description == "" {
			entry.Description = item.Content
		}

		switch {
		case item.PublishedParsed != nil:
			t := *item.PublishedParsed
			entry.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := *item.UpdatedParsed
			entry.PublishedAt = &t
		}

		if item.Image != nil {
			entry.ImageURL = item.Image.URL
		}
		if entry.ImageURL == "" {
			for _, enc := range item.Enclosures {
				if enc != nil && strings.HasPrefix(enc.Type, "image/") {
					entry.ImageURL = enc.URL
					break
				}
			}
		}

		if entry.Link == "" && (strings.HasPrefix(entry.GUID, "http://") || strings.HasPrefix(entry.GUID, "https://")) {
			entry.Link = entry.GUID
		}
		entries = append(entries, entry)
	}
	return entries
}
