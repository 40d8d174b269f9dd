// Package fetch は取り込み元フィードのバックグラウンドフェッチを提供する。
// スケジューラ、フェッチャー、停止/バックオフ判定を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// SourceFetcher は1件の取り込み元をフェッチするインターフェース。
type SourceFetcher interface {
	Fetch(ctx context.Context, source *model.FeedSource) error
}

// DueLister はフェッチ期限を迎えた取り込み元を返すインターフェース。
type DueLister interface {
	ListDueForFetch(ctx context.Context, now time.Time) ([]*model.FeedSource, error)
}

// Scheduler は一定間隔でフェッチ対象を取得し、最大並列数を守りながらフェッチする。
type Scheduler struct {
	sources        DueLister
	fetcher        SourceFetcher
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerを生成する。maxConcurrencyが0以下の場合は10を使う。
func NewScheduler(sources DueLister, fetcher SourceFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start は起動直後に1回、以降interval毎にRunOnceを実行する。ctxのキャンセルで終了する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("フェッチサイクルの実行に失敗しました", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce はフェッチ対象を1回取得し、並列にフェッチする。
// 個々のフェッチ失敗はログに残して他の取り込み元の処理を続ける。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()
	due, err := s.sources.ListDueForFetch(ctx, start)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		s.logger.Debug("フェッチ対象の取り込み元はありません")
		return nil
	}

	s.logger.Info("フェッチサイクルを開始します", slog.Int("source_count", len(due)))

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
dispatch:
	for _, source := range due {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(src *model.FeedSource) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.fetcher.Fetch(ctx, src); err != nil {
				s.logger.Error("取り込み元のフェッチに失敗しました",
					slog.String("source_id", src.ID),
					slog.String("feed_url", src.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}
	wg.Wait()

	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return ctx.Err()
}
