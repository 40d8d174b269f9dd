package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルに一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordFetchSuccess_IncrementsCounter はフェッチ成功カウンタが増加することを検証する。
func TestRecordFetchSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess("source-1")
	c.RecordFetchSuccess("source-1")

	m := findMetric(t, reg, "eventexplorer_feed_fetch_success_total", nil)
	if val := m.GetCounter().GetValue(); val != 2 {
		t.Errorf("feed_fetch_success_total = %v, want 2", val)
	}
}

// TestRecordFetchFailureAndParseFailure_IncrementCounters は失敗系カウンタが増加することを検証する。
func TestRecordFetchFailureAndParseFailure_IncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchFailure("source-2", "timeout")
	c.RecordParseFailure("source-2")
	c.RecordParseFailure("source-2")

	if val := findMetric(t, reg, "eventexplorer_feed_fetch_fail_total", nil).GetCounter().GetValue(); val != 1 {
		t.Errorf("feed_fetch_fail_total = %v, want 1", val)
	}
	if val := findMetric(t, reg, "eventexplorer_feed_parse_fail_total", nil).GetCounter().GetValue(); val != 2 {
		t.Errorf("feed_parse_fail_total = %v, want 2", val)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	if val := findMetric(t, reg, "eventexplorer_feed_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); val != 2 {
		t.Errorf("feed_http_status_total{status_code=200} = %v, want 2", val)
	}
	if val := findMetric(t, reg, "eventexplorer_feed_http_status_total", map[string]string{"status_code": "404"}).GetCounter().GetValue(); val != 1 {
		t.Errorf("feed_http_status_total{status_code=404} = %v, want 1", val)
	}
}

// TestRecordFetchLatency_ObservesHistogram はフェッチレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordFetchLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(100 * time.Millisecond)
	c.RecordFetchLatency(2 * time.Second)

	h := findMetric(t, reg, "eventexplorer_feed_fetch_latency_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordEventsUpserted_IncrementsCounter は取り込みイベント数が加算されることを検証する。
func TestRecordEventsUpserted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventsUpserted(10)
	c.RecordEventsUpserted(5)

	if val := findMetric(t, reg, "eventexplorer_feed_events_upserted_total", nil).GetCounter().GetValue(); val != 15 {
		t.Errorf("feed_events_upserted_total = %v, want 15", val)
	}
}

// TestRecordHTTPRequest_LabelsByRoutePattern はルートパターン別にリクエストが記録されることを検証する。
func TestRecordHTTPRequest_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("/api/users/{id}", http.MethodGet, 200, 10*time.Millisecond)
	c.RecordHTTPRequest("/api/users/{id}", http.MethodGet, 200, 20*time.Millisecond)
	c.RecordHTTPRequest("", http.MethodGet, 404, time.Millisecond)

	m := findMetric(t, reg, "eventexplorer_http_requests_total", map[string]string{"route": "/api/users/{id}", "method": "GET", "status": "200"})
	if val := m.GetCounter().GetValue(); val != 2 {
		t.Errorf("http_requests_total = %v, want 2", val)
	}
	// パターン未解決のリクエストはunmatchedにまとめる
	m = findMetric(t, reg, "eventexplorer_http_requests_total", map[string]string{"route": "unmatched", "status": "404"})
	if val := m.GetCounter().GetValue(); val != 1 {
		t.Errorf("http_requests_total{route=unmatched} = %v, want 1", val)
	}
	h := findMetric(t, reg, "eventexplorer_http_request_duration_seconds", map[string]string{"route": "/api/users/{id}"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
}

// TestRecordProviderCall_CacheHitSkipsLatency はキャッシュヒット時にレイテンシを記録しないことを検証する。
func TestRecordProviderCall_CacheHitSkipsLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderCall("ticketmaster", OutcomeOK, 300*time.Millisecond)
	c.RecordProviderCall("ticketmaster", OutcomeCacheHit, 0)
	c.RecordProviderCall("ticketmaster", OutcomeError, time.Second)

	if val := findMetric(t, reg, "eventexplorer_provider_calls_total", map[string]string{"provider": "ticketmaster", "outcome": OutcomeCacheHit}).GetCounter().GetValue(); val != 1 {
		t.Errorf("provider_calls_total{outcome=cache_hit} = %v, want 1", val)
	}
	h := findMetric(t, reg, "eventexplorer_provider_latency_seconds", map[string]string{"provider": "ticketmaster"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("provider latency sample_count = %d, want 2", h.GetSampleCount())
	}
}

// TestRecordDomainCounters はログイン・チケット・天気更新のカウンタを検証する。
func TestRecordDomainCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(LoginSuccess)
	c.RecordLogin(LoginFailure)
	c.RecordLogin(LoginFailure)
	c.RecordTicketsBooked(3)
	c.RecordTicketsBooked(2)
	c.RecordWeatherRefresh(OutcomeOK)

	if val := findMetric(t, reg, "eventexplorer_logins_total", map[string]string{"result": LoginFailure}).GetCounter().GetValue(); val != 2 {
		t.Errorf("logins_total{result=failure} = %v, want 2", val)
	}
	if val := findMetric(t, reg, "eventexplorer_tickets_booked_total", nil).GetCounter().GetValue(); val != 5 {
		t.Errorf("tickets_booked_total = %v, want 5", val)
	}
	if val := findMetric(t, reg, "eventexplorer_weather_refresh_total", map[string]string{"outcome": OutcomeOK}).GetCounter().GetValue(); val != 1 {
		t.Errorf("weather_refresh_total{outcome=ok} = %v, want 1", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess("source-test")
	c.RecordHTTPRequest("/api/health", http.MethodGet, 200, time.Millisecond)
	c.RecordLogin(LoginSuccess)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"eventexplorer_feed_fetch_success_total",
		"eventexplorer_http_requests_total",
		"eventexplorer_logins_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordLogin(LoginSuccess)
	c2.RecordLogin(LoginSuccess)
	c2.RecordLogin(LoginSuccess)

	val1 := findMetric(t, reg1, "eventexplorer_logins_total", map[string]string{"result": LoginSuccess}).GetCounter().GetValue()
	val2 := findMetric(t, reg2, "eventexplorer_logins_total", map[string]string{"result": LoginSuccess}).GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 logins = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 logins = %v, want 2", val2)
	}
}
