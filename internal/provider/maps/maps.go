// Package maps は経路案内リンクの生成と周辺施設の検索を提供する。
// 周辺施設は外部APIを呼ばず、検索座標からの固定オフセットで生成したデータを返す。
package maps

import (
	"errors"
	"net/url"
	"strings"

	"github.com/hitoshi/eventexplorer/internal/model"
)

const directionsBase = "https://www.google.com/maps/dir/?api=1&destination="

// 周辺施設の種類。
const (
	PlaceRestaurant = "restaurant"
	PlaceLodging    = "lodging"
)

// DefaultRadius は検索半径の既定値(メートル)。
const DefaultRadius = 1000

// ErrUnsupportedPlaceType は未対応の施設種類が指定された場合のエラー。
var ErrUnsupportedPlaceType = errors.New("施設の種類は restaurant または lodging を指定してください")

// Service は地図関連の機能を提供する。
type Service struct{}

// NewService はServiceを生成する。
func NewService() *Service {
	return &Service{}
}

// DirectionsURL は目的地までの経路案内URLを返す。
func (s *Service) DirectionsURL(destination string) string {
	// encodeURIComponentと同じく空白は%20にする
	return directionsBase + strings.ReplaceAll(url.QueryEscape(destination), "+", "%20")
}

// NearbyPlaces は指定座標付近の施設を返す。radiusは現状結果に影響しない。
func (s *Service) NearbyPlaces(lat, lng float64, placeType string, radius int) ([]model.Place, error) {
	_ = radius
	switch placeType {
	case PlaceRestaurant:
		return []model.Place{
			{PlaceID: "1", Name: "The Local Bistro", Rating: 4.5, Vicinity: "123 Main St", Types: []string{PlaceRestaurant}, Lat: lat + 0.001, Lng: lng + 0.001},
			{PlaceID: "2", Name: "Downtown Grill", Rating: 4.2, Vicinity: "456 Center Ave", Types: []string{PlaceRestaurant}, Lat: lat + 0.002, Lng: lng - 0.001},
		}, nil
	case PlaceLodging:
		return []model.Place{
			{PlaceID: "3", Name: "Grand Hotel", Rating: 4.8, Vicinity: "789 Hotel Blvd", Types: []string{PlaceLodging}, Lat: lat - 0.001, Lng: lng + 0.002},
			{PlaceID: "4", Name: "Budget Inn", Rating: 3.9, Vicinity: "321 Budget St", Types: []string{PlaceLodging}, Lat: lat + 0.003, Lng: lng - 0.002},
		}, nil
	default:
		return nil, ErrUnsupportedPlaceType
	}
}
