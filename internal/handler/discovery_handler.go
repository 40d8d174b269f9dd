package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/eventexplorer/internal/discovery"
	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/provider/ticketmaster"
)

// DiscoveryServiceInterface はディスカバリーハンドラーが必要とするサービスインターフェース。
type DiscoveryServiceInterface interface {
	SearchEvents(ctx context.Context, params ticketmaster.SearchParams) (*model.RemoteEventPage, error)
	Weather(ctx context.Context, q discovery.WeatherQuery) (*model.Weather, error)
	Directions(destination string) (string, error)
	Nearby(lat, lng float64, placeType string, radius int) ([]model.Place, error)
}

// DiscoveryHandler は外部プロバイダーのデータを返すHTTPハンドラー。
type DiscoveryHandler struct {
	service DiscoveryServiceInterface
}

// NewDiscoveryHandler はDiscoveryHandlerを生成する。
func NewDiscoveryHandler(service DiscoveryServiceInterface) *DiscoveryHandler {
	return &DiscoveryHandler{service: service}
}

type directionsResponse struct {
	URL string `json:"url"`
}

// Events はリモートイベントを検索する。
// GET /api/discovery/events?keyword=&city=&stateCode=&countryCode=&size=&page=
func (h *DiscoveryHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, ok := optionalInt(w, q, "size")
	if !ok {
		return
	}
	page, ok := optionalInt(w, q, "page")
	if !ok {
		return
	}

	result, err := h.service.SearchEvents(r.Context(), ticketmaster.SearchParams{
		Keyword:     q.Get("keyword"),
		City:        q.Get("city"),
		StateCode:   q.Get("stateCode"),
		CountryCode: q.Get("countryCode"),
		Size:        size,
		Page:        page,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRemoteEventPageResponse(result))
}

// Weather は都市名または座標で現在の天気を返す。
// GET /api/discovery/weather?city= または ?lat=&lon=
func (h *DiscoveryHandler) Weather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := discovery.WeatherQuery{City: q.Get("city")}
	if q.Get("lat") != "" || q.Get("lon") != "" {
		lat, ok := requiredFloat(w, q, "lat")
		if !ok {
			return
		}
		lon, ok := requiredFloat(w, q, "lon")
		if !ok {
			return
		}
		query.Lat, query.Lon = &lat, &lon
	}

	weather, err := h.service.Weather(r.Context(), query)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeatherResponse(weather))
}

// Directions は目的地までの経路案内URLを返す。
// GET /api/discovery/directions?destination=
func (h *DiscoveryHandler) Directions(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Directions(r.URL.Query().Get("destination"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, directionsResponse{URL: link})
}

// Nearby は周辺施設を返す。
// GET /api/discovery/nearby?lat=&lng=&type=&radius=
func (h *DiscoveryHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, ok := requiredFloat(w, q, "lat")
	if !ok {
		return
	}
	lng, ok := requiredFloat(w, q, "lng")
	if !ok {
		return
	}
	radius, ok := optionalInt(w, q, "radius")
	if !ok {
		return
	}

	places, err := h.service.Nearby(lat, lng, q.Get("type"), radius)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlaceResponses(places))
}

func optionalInt(w http.ResponseWriter, q url.Values, key string) (int, bool) {
	v := q.Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		middleware.WriteValidationError(w, key+" must be an integer")
		return 0, false
	}
	return n, true
}

func requiredFloat(w http.ResponseWriter, q url.Values, key string) (float64, bool) {
	f, err := strconv.ParseFloat(q.Get(key), 64)
	if err != nil {
		middleware.WriteValidationError(w, key+" must be a number")
		return 0, false
	}
	return f, true
}
