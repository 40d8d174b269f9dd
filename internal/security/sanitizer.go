// Package security はイベント説明文のサニタイズと外部URLアクセスのSSRF防止を提供する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はカタログに保存するテキストを無害化するインターフェース。
type Sanitizer interface {
	// Description は説明文HTMLを許可リストで無害化する。
	Description(rawHTML string) string
	// PlainText は全タグを除去したプレーンテキストを返す。
	PlainText(raw string) string
}

// EventSanitizer はbluemondayのポリシーを用いたSanitizerの実装。並行利用可能。
type EventSanitizer struct {
	description *bluemonday.Policy
	strict      *bluemonday.Policy
}

// NewEventSanitizer はEventSanitizerを生成する。
// 説明文で許可するのは段落・改行・リスト・強調・見出し(h3, h4)・httpsリンクのみ。
// 画像はimageUrlで別に扱うため説明文には含めない。
func NewEventSanitizer() *EventSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "b", "i", "h3", "h4")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &EventSanitizer{
		description: p,
		strict:      bluemonday.StrictPolicy(),
	}
}

// Description は説明文HTMLを無害化する。前後の空白は除去する。
func (s *EventSanitizer) Description(rawHTML string) string {
	return strings.TrimSpace(s.description.Sanitize(rawHTML))
}

// PlainText はタグを除去し、実体参照を戻したテキストを返す。
// 結果はJSONの文字列値として扱い、HTMLとして埋め込まない。
func (s *EventSanitizer) PlainText(raw string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s.strict.Sanitize(raw))), " ")
}

var _ Sanitizer = (*EventSanitizer)(nil)
