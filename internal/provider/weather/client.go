// Package weather はOpenWeatherの現在天気APIのクライアントを提供する。
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/provider"
)

// DefaultBaseURL はOpenWeather API 2.5のベースURL。
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

const maxResponseSize = 1024 * 1024

// Client はOpenWeather APIのクライアント。単位は常にmetric(摂氏)。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	baseURL    string
}

// NewClient はClientを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Configured はAPIキーが設定されているかを返す。
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ByCoordinates は緯度経度で現在の天気を取得する。
func (c *Client) ByCoordinates(ctx context.Context, lat, lon float64) (*model.Weather, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	return c.fetch(ctx, q)
}

// ByCity は都市名で現在の天気を取得する。
func (c *Client) ByCity(ctx context.Context, city string) (*model.Weather, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New("都市名が指定されていません")
	}
	q := url.Values{}
	q.Set("q", city)
	return c.fetch(ctx, q)
}

type currentResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind *struct {
		Speed float64 `json:"speed"`
	} `json:"wind,omitempty"`
}

func (c *Client) fetch(ctx context.Context, q url.Values) (*model.Weather, error) {
	if !c.Configured() {
		return nil, provider.ErrNotConfigured
	}
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("天気APIの呼び出しに失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("天気APIがエラーステータスを返しました", slog.Int("http_status", resp.StatusCode))
		return nil, &provider.StatusError{Provider: provider.NameOpenWeather, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var data currentResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(data.Weather) == 0 {
		return nil, errors.New("天気APIのレスポンスに天気情報が含まれていません")
	}

	w := &model.Weather{
		Temp:        int(math.Round(data.Main.Temp)),
		Condition:   data.Weather[0].Main,
		Description: data.Weather[0].Description,
		Humidity:    data.Main.Humidity,
		Icon:        data.Weather[0].Icon,
	}
	if data.Wind != nil {
		w.WindSpeed = data.Wind.Speed
	}
	return w, nil
}
