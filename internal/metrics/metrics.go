// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventexplorer"

// ログイン結果のラベル値。
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// 外部プロバイダー呼び出し結果のラベル値。
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeCacheHit   = "cache_hit"
	OutcomeSkipped    = "skipped"
	OutcomeNoLocation = "no_location"
)

// MetricsCollector はフィード取り込みワーカーが使うメトリクス収集のインターフェース。
type MetricsCollector interface {
	RecordFetchSuccess(sourceID string)
	RecordFetchFailure(sourceID string, reason string)
	RecordParseFailure(sourceID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEventsUpserted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess   prometheus.Counter
	fetchFail      prometheus.Counter
	parseFail      prometheus.Counter
	httpStatus     *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	eventsUpserted prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	ticketsBooked   prometheus.Counter
	weatherRefresh  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_success_total",
			Help:      "取り込み元フィードのフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_fail_total",
			Help:      "取り込み元フィードのフェッチ失敗の合計数",
		}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_parse_fail_total",
			Help:      "フィードパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_http_status_total",
			Help:      "フィードフェッチのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_latency_seconds",
			Help:      "フィードフェッチのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_upserted_total",
			Help:      "フィードから取り込まれたカタログイベントの合計数",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "APIリクエスト数（ルート・メソッド・ステータス別）",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "APIリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "外部プロバイダー呼び出し数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "外部プロバイダー呼び出しのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "ログイン試行数（結果別）",
		}, []string{"result"}),
		ticketsBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_booked_total",
			Help:      "予約されたチケット枚数の合計",
		}),
		weatherRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_refresh_total",
			Help:      "カタログイベントの天気更新数（結果別）",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.eventsUpserted,
		c.requests,
		c.requestDuration,
		c.providerCalls,
		c.providerLatency,
		c.logins,
		c.ticketsBooked,
		c.weatherRefresh,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(sourceID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(sourceID string, reason string) {
	c.fetchFail.Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(sourceID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はフィードフェッチのHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEventsUpserted は取り込まれたイベント数を記録する。
func (c *Collector) RecordEventsUpserted(count int) {
	c.eventsUpserted.Add(float64(count))
}

// RecordHTTPRequest はAPIリクエストを記録する。routeはchiのルートパターン。
func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordProviderCall は外部プロバイダー呼び出しを記録する。
func (c *Collector) RecordProviderCall(provider, outcome string, duration time.Duration) {
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeError {
		c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTicketsBooked は予約されたチケット枚数を記録する。
func (c *Collector) RecordTicketsBooked(count int) {
	c.ticketsBooked.Add(float64(count))
}

// RecordWeatherRefresh は天気更新の結果を記録する。
func (c *Collector) RecordWeatherRefresh(outcome string) {
	c.weatherRefresh.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスでAPIサーバーとは別に公開する場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
