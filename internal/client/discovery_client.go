package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

// ErrSuperseded は新しい検索が開始されたため結果を破棄した場合のエラー。
var ErrSuperseded = errors.New("新しい検索によって置き換えられました")

// SearchQuery はイベント検索の条件。ゼロ値のフィールドは送信しない。
type SearchQuery struct {
	Keyword     string
	City        string
	StateCode   string
	CountryCode string
	Size        int
	Page        int
}

func (q SearchQuery) values() url.Values {
	v := url.Values{}
	setIfNotEmpty(v, "keyword", q.Keyword)
	setIfNotEmpty(v, "city", q.City)
	setIfNotEmpty(v, "stateCode", q.StateCode)
	setIfNotEmpty(v, "countryCode", q.CountryCode)
	if q.Size > 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	return v
}

func setIfNotEmpty(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// DiscoveryClient は外部プロバイダー経由のイベント検索・天気・周辺施設を取得する。
// Searchは新しい検索が開始されると実行中の検索をキャンセルし、
// 古いページが新しい結果を上書きしないようにする。
type DiscoveryClient struct {
	api *apiClient

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewDiscoveryClient はDiscoveryClientを生成する。httpClientとloggerはnilでもよい。
func NewDiscoveryClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *DiscoveryClient {
	return &DiscoveryClient{api: newAPIClient(baseURL, httpClient, logger)}
}

// Search はイベントを検索する。後続のSearchが開始された場合はErrSupersededを返す。
func (c *DiscoveryClient) Search(ctx context.Context, q SearchQuery) (*EventPage, error) {
	searchCtx, gen := c.begin(ctx)

	path := "/api/discovery/events"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page EventPage
	err := c.api.do(searchCtx, http.MethodGet, path, "", nil, &page)

	if !c.finish(gen) {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	if page.Events == nil {
		page.Events = []RemoteEvent{}
	}
	return &page, nil
}

// begin は実行中の検索をキャンセルし、新しい検索の世代を開始する。
func (c *DiscoveryClient) begin(ctx context.Context) (context.Context, uint64) {
	searchCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	c.cancel = cancel
	return searchCtx, c.generation
}

// finish は検索の完了を記録し、その検索がまだ最新かどうかを返す。
func (c *DiscoveryClient) finish(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.cancel()
	c.cancel = nil
	return true
}

// Weather は都市名で現在の天気を取得する。
func (c *DiscoveryClient) Weather(ctx context.Context, city string) (*Weather, error) {
	v := url.Values{"city": {city}}
	return c.weather(ctx, v)
}

// WeatherAt は座標で現在の天気を取得する。
func (c *DiscoveryClient) WeatherAt(ctx context.Context, lat, lon float64) (*Weather, error) {
	v := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}
	return c.weather(ctx, v)
}

func (c *DiscoveryClient) weather(ctx context.Context, v url.Values) (*Weather, error) {
	var w Weather
	if err := c.api.do(ctx, http.MethodGet, "/api/discovery/weather?"+v.Encode(), "", nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Nearby は周辺施設を取得する。placeTypeとradiusはゼロ値の場合サーバーの既定値を使う。
func (c *DiscoveryClient) Nearby(ctx context.Context, lat, lng float64, placeType string, radius int) ([]Place, error) {
	v := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lng": {strconv.FormatFloat(lng, 'f', -1, 64)},
	}
	setIfNotEmpty(v, "type", placeType)
	if radius > 0 {
		v.Set("radius", strconv.Itoa(radius))
	}

	var places []Place
	if err := c.api.do(ctx, http.MethodGet, "/api/discovery/nearby?"+v.Encode(), "", nil, &places); err != nil {
		return nil, err
	}
	return places, nil
}

// Directions は目的地までの経路案内URLを取得する。
func (c *DiscoveryClient) Directions(ctx context.Context, destination string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	v := url.Values{"destination": {destination}}
	if err := c.api.do(ctx, http.MethodGet, "/api/discovery/directions?"+v.Encode(), "", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}
