// Package ticketmaster はTicketmaster Discovery API v2のクライアントを提供する。
package ticketmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/provider"
)

const (
	// DefaultBaseURL はDiscovery API v2のベースURL。
	DefaultBaseURL = "https://app.ticketmaster.com/discovery/v2"

	defaultPageSize = 20
	maxPageSize     = 200
	minImageWidth   = 400
	placeholderURL  = "/placeholder.svg"
	maxResponseSize = 5 * 1024 * 1024
)

// SearchParams はイベント検索条件。空のフィールドはクエリに含めない。
type SearchParams struct {
	Keyword     string
	City        string
	StateCode   string
	CountryCode string
	Size        int
	Page        int
}

// Client はTicketmaster Discovery APIのクライアント。
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

// buildQuery は検索条件をクエリ文字列に変換する。
// sizeは既定20で200を上限とし、pageは0未満を0に丸める。
func (c *Client) buildQuery(params SearchParams) url.Values {
	size := params.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := params.Page
	if page < 0 {
		page = 0
	}

	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("size", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(page))
	if v := strings.TrimSpace(params.Keyword); v != "" {
		q.Set("keyword", v)
	}
	if v := strings.TrimSpace(params.City); v != "" {
		q.Set("city", v)
	}
	if v := strings.TrimSpace(params.StateCode); v != "" {
		q.Set("stateCode", v)
	}
	if v := strings.TrimSpace(params.CountryCode); v != "" {
		q.Set("countryCode", v)
	}
	return q
}

// SearchEvents はevents.jsonを呼び出し、生のレスポンスを返す。
// 2xx以外のステータスはprovider.StatusErrorとして返す。
func (c *Client) SearchEvents(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	if !c.Configured() {
		return nil, provider.ErrNotConfigured
	}

	reqURL := c.baseURL + "/events.json?" + c.buildQuery(params).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Ticketmaster APIの呼び出しに失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Ticketmaster APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &provider.StatusError{Provider: provider.NameTicketmaster, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("Ticketmaster APIのレスポンスのパースに失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &result, nil
}

// Search はイベントを検索し、表示用のRemoteEventに変換したページを返す。
func (c *Client) Search(ctx context.Context, params SearchParams) (*model.RemoteEventPage, error) {
	raw, err := c.SearchEvents(ctx, params)
	if err != nil {
		return nil, err
	}

	page := &model.RemoteEventPage{
		Events:        []model.RemoteEvent{},
		Page:          raw.Page.Number,
		Size:          raw.Page.Size,
		TotalPages:    raw.Page.TotalPages,
		TotalElements: raw.Page.TotalElements,
	}
	if raw.Embedded != nil {
		for _, ev := range raw.Embedded.Events {
			page.Events = append(page.Events, Transform(ev))
		}
	}
	return page, nil
}

// Transform はAPIのイベントを表示用のRemoteEventに変換する。
func Transform(ev Event) model.RemoteEvent {
	out := model.RemoteEvent{
		ID:        ev.ID,
		Title:     ev.Name,
		Date:      ev.Dates.Start.LocalDate,
		ImageURL:  pickImage(ev.Images),
		Location:  "Location TBD",
		Category:  "Event",
		TicketURL: ev.URL,
	}
	if ev.Dates.Start.LocalTime != "" {
		out.Date += " " + ev.Dates.Start.LocalTime
	}

	if len(ev.Classifications) > 0 && ev.Classifications[0].Segment != nil && ev.Classifications[0].Segment.Name != "" {
		out.Category = ev.Classifications[0].Segment.Name
	}

	if len(ev.PriceRanges) > 0 {
		p := ev.PriceRanges[0]
		out.Price = "$" + formatAmount(p.Min) + "-$" + formatAmount(p.Max)
	}

	if ev.Embedded != nil && len(ev.Embedded.Venues) > 0 {
		v := ev.Embedded.Venues[0]
		city := "Unknown City"
		if v.City != nil && v.City.Name != "" {
			city = v.City.Name
		}
		out.Location = v.Name + ", " + city
		if v.State != nil && v.State.Name != "" {
			out.Location += ", " + v.State.Name
		}

		out.Venue = &model.Venue{Name: v.Name}
		if v.Location != nil {
			out.Venue.Latitude = parseCoordinate(v.Location.Latitude)
			out.Venue.Longitude = parseCoordinate(v.Location.Longitude)
		}
	}
	return out
}

// pickImage は幅400以上の最初の画像、なければ先頭の画像を返す。
func pickImage(images []Image) string {
	for _, img := range images {
		if img.Width >= minImageWidth && img.URL != "" {
			return img.URL
		}
	}
	if len(images) > 0 && images[0].URL != "" {
		return images[0].URL
	}
	return placeholderURL
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseCoordinate(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
