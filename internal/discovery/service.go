// Package discovery は外部プロバイダー(チケット検索、天気、地図)を束ね、
// キャッシュとメトリクス記録を付けて公開するサービスを提供する。
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/eventexplorer/internal/cache"
	"github.com/hitoshi/eventexplorer/internal/metrics"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/provider"
	"github.com/hitoshi/eventexplorer/internal/provider/maps"
	"github.com/hitoshi/eventexplorer/internal/provider/ticketmaster"
)

// EventSearcher はチケット販売プロバイダーのイベント検索インターフェース。
type EventSearcher interface {
	Configured() bool
	Search(ctx context.Context, params ticketmaster.SearchParams) (*model.RemoteEventPage, error)
}

// WeatherProvider は現在天気を取得するインターフェース。
type WeatherProvider interface {
	Configured() bool
	ByCoordinates(ctx context.Context, lat, lon float64) (*model.Weather, error)
	ByCity(ctx context.Context, city string) (*model.Weather, error)
}

// PlacesProvider は経路案内と周辺施設のインターフェース。
type PlacesProvider interface {
	DirectionsURL(destination string) string
	NearbyPlaces(lat, lng float64, placeType string, radius int) ([]model.Place, error)
}

// ProviderRecorder はプロバイダー呼び出しのメトリクスを記録するインターフェース。
type ProviderRecorder interface {
	RecordProviderCall(provider, outcome string, duration time.Duration)
}

// Options はキャッシュTTLの設定。0以下の場合はキャッシュに保存しない。
type Options struct {
	SearchTTL  time.Duration
	WeatherTTL time.Duration
}

// WeatherQuery は天気の検索条件。CityまたはLat/Lonのいずれかを指定する。
type WeatherQuery struct {
	City string
	Lat  *float64
	Lon  *float64
}

// Service はディスカバリー機能を提供する。
type Service struct {
	events   EventSearcher
	weather  WeatherProvider
	places   PlacesProvider
	cache    cache.Cache
	recorder ProviderRecorder
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewService はServiceを生成する。cがnilの場合はNopCache、recorderはnilでもよい。
func NewService(
	events EventSearcher,
	weather WeatherProvider,
	places PlacesProvider,
	c cache.Cache,
	recorder ProviderRecorder,
	logger *slog.Logger,
	opts Options,
) *Service {
	if c == nil {
		c = cache.NopCache{}
	}
	return &Service{
		events:   events,
		weather:  weather,
		places:   places,
		cache:    c,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SearchEvents はリモートイベントを検索する。同一条件の結果はSearchTTLの間キャッシュする。
func (s *Service) SearchEvents(ctx context.Context, params ticketmaster.SearchParams) (*model.RemoteEventPage, error) {
	if !s.events.Configured() {
		return nil, model.NewProviderNotConfiguredError(provider.NameTicketmaster)
	}

	key := cache.Key("search",
		params.Keyword, params.City, params.StateCode, params.CountryCode,
		strconv.Itoa(params.Size), strconv.Itoa(params.Page),
	)
	var cached model.RemoteEventPage
	if s.lookup(ctx, key, &cached) {
		s.record(provider.NameTicketmaster, metrics.OutcomeCacheHit, 0)
		return &cached, nil
	}

	start := s.now()
	page, err := s.events.Search(ctx, params)
	if err != nil {
		return nil, s.providerError(provider.NameTicketmaster, start, err)
	}
	s.record(provider.NameTicketmaster, metrics.OutcomeOK, s.now().Sub(start))
	s.store(ctx, key, page, s.opts.SearchTTL)
	return page, nil
}

// Weather は都市名または座標で現在の天気を取得する。結果はWeatherTTLの間キャッシュする。
func (s *Service) Weather(ctx context.Context, q WeatherQuery) (*model.Weather, error) {
	city := strings.TrimSpace(q.City)
	byCoords := q.Lat != nil && q.Lon != nil
	if city == "" && !byCoords {
		return nil, model.NewValidationError("city または lat と lon を指定してください")
	}
	if !s.weather.Configured() {
		return nil, model.NewProviderNotConfiguredError(provider.NameOpenWeather)
	}

	var key string
	if byCoords {
		key = cache.Key("weather", "coords",
			strconv.FormatFloat(*q.Lat, 'f', 3, 64), strconv.FormatFloat(*q.Lon, 'f', 3, 64))
	} else {
		key = cache.Key("weather", "city", city)
	}
	var cached model.Weather
	if s.lookup(ctx, key, &cached) {
		s.record(provider.NameOpenWeather, metrics.OutcomeCacheHit, 0)
		return &cached, nil
	}

	start := s.now()
	var (
		w   *model.Weather
		err error
	)
	if byCoords {
		w, err = s.weather.ByCoordinates(ctx, *q.Lat, *q.Lon)
	} else {
		w, err = s.weather.ByCity(ctx, city)
	}
	if err != nil {
		return nil, s.providerError(provider.NameOpenWeather, start, err)
	}
	s.record(provider.NameOpenWeather, metrics.OutcomeOK, s.now().Sub(start))
	s.store(ctx, key, w, s.opts.WeatherTTL)
	return w, nil
}

// Directions は目的地までの経路案内URLを返す。
func (s *Service) Directions(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", model.NewValidationError("destination を指定してください")
	}
	return s.places.DirectionsURL(destination), nil
}

// Nearby は周辺施設を返す。placeTypeが空の場合はrestaurant、radiusが0以下の場合は既定値を使う。
func (s *Service) Nearby(lat, lng float64, placeType string, radius int) ([]model.Place, error) {
	if placeType == "" {
		placeType = maps.PlaceRestaurant
	}
	if radius <= 0 {
		radius = maps.DefaultRadius
	}
	places, err := s.places.NearbyPlaces(lat, lng, placeType, radius)
	if errors.Is(err, maps.ErrUnsupportedPlaceType) {
		return nil, model.NewValidationError(err.Error())
	}
	if err != nil {
		return nil, err
	}
	s.record(provider.NameMaps, metrics.OutcomeOK, 0)
	return places, nil
}

func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("キャッシュの取得に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return hit
}

func (s *Service) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("キャッシュの保存に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *Service) providerError(name string, start time.Time, err error) error {
	s.record(name, metrics.OutcomeError, s.now().Sub(start))
	if errors.Is(err, provider.ErrNotConfigured) {
		return model.NewProviderNotConfiguredError(name)
	}
	s.logger.Error("外部プロバイダーの呼び出しに失敗しました",
		slog.String("provider", name),
		slog.String("error", err.Error()),
	)
	return model.NewProviderUnavailableError(name)
}

func (s *Service) record(name, outcome string, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordProviderCall(name, outcome, d)
	}
}
