// Package weather はカタログイベントの天気スナップショットを定期更新するバッチジョブを提供する。
package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/eventexplorer/internal/metrics"
	"github.com/hitoshi/eventexplorer/internal/model"
)

// CityWeatherFetcher は都市名で現在の天気を取得するインターフェース。
type CityWeatherFetcher interface {
	ByCity(ctx context.Context, city string) (*model.Weather, error)
}

// EventStore は天気更新対象のイベントを読み書きするインターフェース。
type EventStore interface {
	ListNeedingWeather(ctx context.Context, staleBefore time.Time, limit int) ([]*model.CatalogEvent, error)
	UpdateWeather(ctx context.Context, id string, weather model.WeatherSnapshot) error
}

// Recorder は天気更新の結果を記録するインターフェース。
type Recorder interface {
	RecordWeatherRefresh(outcome string)
}

// BatchConfig はバッチジョブの設定パラメータ。
type BatchConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 30分）。
	BatchInterval time.Duration
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 1秒）。
	APIInterval time.Duration
	// MaxPerCycle は1サイクルあたりの最大対象イベント数（デフォルト: 50）。
	MaxPerCycle int
	// TTL は天気の再取得間隔（デフォルト: 6時間）。
	TTL time.Duration
}

// DefaultBatchConfig はデフォルトのバッチジョブ設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchInterval: 30 * time.Minute,
		APIInterval:   time.Second,
		MaxPerCycle:   50,
		TTL:           6 * time.Hour,
	}
}

// BatchJob は天気スナップショットのバッチ更新ジョブ。
// 未取得またはTTLを超過したイベントを対象に、開催地の都市ごとに1回だけAPIを呼び出す。
type BatchJob struct {
	events   EventStore
	client   CityWeatherFetcher
	recorder Recorder
	logger   *slog.Logger
	config   BatchConfig
	limiter  *rate.Limiter
	now      func() time.Time

	consecutiveErrors int
	backoffUntil      time.Time
}

// NewBatchJob はBatchJobの新しいインスタンスを生成する。recorderはnilでもよい。
func NewBatchJob(
	events EventStore,
	client CityWeatherFetcher,
	recorder Recorder,
	logger *slog.Logger,
	config BatchConfig,
) *BatchJob {
	limit := rate.Inf
	if config.APIInterval > 0 {
		limit = rate.Every(config.APIInterval)
	}
	return &BatchJob{
		events:   events,
		client:   client,
		recorder: recorder,
		logger:   logger,
		config:   config,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Start はバッチジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (b *BatchJob) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.BatchInterval)
	defer ticker.Stop()

	b.logger.Info("天気更新バッチジョブを開始しました",
		slog.Duration("batch_interval", b.config.BatchInterval),
		slog.Duration("api_interval", b.config.APIInterval),
		slog.Int("max_per_cycle", b.config.MaxPerCycle),
		slog.Duration("ttl", b.config.TTL),
	)

	b.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("天気更新バッチジョブを停止しました")
			return
		case <-ticker.C:
			b.runAndLog(ctx)
		}
	}
}

func (b *BatchJob) runAndLog(ctx context.Context) {
	if err := b.RunOnce(ctx); err != nil && ctx.Err() == nil {
		b.logger.Error("天気更新バッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回のバッチサイクルを実行する。
func (b *BatchJob) RunOnce(ctx context.Context) error {
	start := b.now()

	if !b.backoffUntil.IsZero() && start.Before(b.backoffUntil) {
		b.logger.Info("天気更新バッチジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", b.backoffUntil),
		)
		return nil
	}

	events, err := b.events.ListNeedingWeather(ctx, start.Add(-b.config.TTL), b.config.MaxPerCycle)
	if err != nil {
		return fmt.Errorf("天気更新対象イベントの取得に失敗しました: %w", err)
	}
	if len(events) == 0 {
		b.logger.Debug("天気更新対象のイベントはありません")
		return nil
	}

	// 都市 → イベントID（同じ都市のイベントはAPI呼び出しを共有する）
	cityToIDs := make(map[string][]string)
	var cities []string
	for _, e := range events {
		city := e.City()
		if city == "" {
			b.record(metrics.OutcomeNoLocation)
			continue
		}
		if _, seen := cityToIDs[city]; !seen {
			cities = append(cities, city)
		}
		cityToIDs[city] = append(cityToIDs[city], e.ID)
	}

	var apiCallCount, updatedCount int
	var hadError bool

	for _, city := range cities {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		apiCallCount++

		w, err := b.client.ByCity(ctx, city)
		if err != nil {
			b.record(metrics.OutcomeError)
			b.logger.Error("天気APIの呼び出しに失敗しました",
				slog.String("city", city),
				slog.String("error", err.Error()),
			)
			hadError = true
			b.consecutiveErrors++
			if backoff := b.calculateErrorBackoff(b.consecutiveErrors); backoff > 0 {
				b.backoffUntil = b.now().Add(backoff)
				b.logger.Warn("連続エラーによりバックオフを適用します",
					slog.Int("consecutive_errors", b.consecutiveErrors),
					slog.Duration("backoff_duration", backoff),
				)
				break
			}
			continue // 前回のスナップショットを維持
		}

		fetchedAt := b.now().UTC()
		snapshot := model.WeatherSnapshot{
			Temp:      fmt.Sprintf("%d°C", w.Temp),
			Condition: w.Condition,
			FetchedAt: &fetchedAt,
		}
		for _, id := range cityToIDs[city] {
			if err := b.events.UpdateWeather(ctx, id, snapshot); err != nil {
				b.logger.Error("天気スナップショットの更新に失敗しました",
					slog.String("event_id", id),
					slog.String("city", city),
					slog.String("error", err.Error()),
				)
				continue
			}
			updatedCount++
			b.record(metrics.OutcomeOK)
		}
	}

	if !hadError {
		b.consecutiveErrors = 0
		b.backoffUntil = time.Time{}
	}

	b.logger.Info("天気更新バッチサイクルが完了しました",
		slog.Int("api_call_count", apiCallCount),
		slog.Int("updated_events", updatedCount),
		slog.Int("target_events", len(events)),
		slog.Float64("duration_ms", float64(b.now().Sub(start).Milliseconds())),
	)
	return nil
}

func (b *BatchJob) record(outcome string) {
	if b.recorder != nil {
		b.recorder.RecordWeatherRefresh(outcome)
	}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func (b *BatchJob) calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
