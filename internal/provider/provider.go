// Package provider は外部データプロバイダー(チケット販売、天気、地図)の共通定義を提供する。
package provider

import (
	"errors"
	"fmt"
)

// プロバイダー名。メトリクスのラベルとエラーメッセージに使う。
const (
	NameTicketmaster = "ticketmaster"
	NameOpenWeather  = "openweather"
	NameMaps         = "maps"
)

// ErrNotConfigured はAPIキーが設定されていない場合のエラー。
var ErrNotConfigured = errors.New("プロバイダーのAPIキーが設定されていません")

// StatusError はプロバイダーが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s APIがステータス %d を返しました", e.Provider, e.StatusCode)
}
