// Package feed は会場カレンダーフィード(取り込み元)の検出と登録を提供する。
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/eventexplorer/internal/model"
)

const (
	userAgent       = "EventExplorer/1.0 Catalog Importer"
	detectTimeout   = 10 * time.Second
	maxDetectBody   = 5 * 1024 * 1024
	sniffPrefixSize = 4096
)

// Kind はフィード形式。
type Kind string

const (
	KindRSS  Kind = "rss"
	KindAtom Kind = "atom"
)

// Candidate はHTMLのlink要素から見つかったフィード候補。
type Candidate struct {
	URL   string
	Kind  Kind
	Title string
}

// URLGuard はSSRF検証のインターフェース。security.SSRFGuardが実装する。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Detector は入力URLからフィードURLを特定する。
type Detector struct {
	guard URLGuard
}

// NewDetector はDetectorを生成する。guardがnilの場合は検証なしの標準クライアントを使う。
func NewDetector(guard URLGuard) *Detector {
	return &Detector{guard: guard}
}

var kindByMediaType = map[string]Kind{
	"application/rss+xml":  KindRSS,
	"application/atom+xml": KindAtom,
}

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// LooksLikeFeed はレスポンスがRSS/Atomフィードかどうかを判定する。
// 汎用XMLのContent-Typeの場合はボディ先頭のルート要素で判定する。
func LooksLikeFeed(contentType string, body []byte) bool {
	mt := mediaTypeOf(contentType)
	if _, ok := kindByMediaType[mt]; ok {
		return true
	}
	if mt != "text/xml" && mt != "application/xml" {
		return false
	}

	prefix := body
	if len(prefix) > sniffPrefixSize {
		prefix = prefix[:sniffPrefixSize]
	}
	head := strings.ToLower(string(prefix))
	switch {
	case strings.Contains(head, "<rss"), strings.Contains(head, "<rdf:rdf"):
		return true
	case strings.Contains(head, "<feed") && strings.Contains(head, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// FindCandidates はHTMLのhead内にある rel="alternate" のフィードリンクを返す。
// 相対URLはpageURLを基準に解決する。
func FindCandidates(page []byte, pageURL string) []Candidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var found []Candidate
	z := html.NewTokenizer(bytes.NewReader(page))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return found
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return found
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return found
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}
			attrs := readAttrs(z)
			kind, ok := kindByMediaType[strings.ToLower(attrs["type"])]
			if !ok || !hasRel(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			found = append(found, Candidate{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: attrs["title"],
			})
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := map[string]string{}
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == want {
			return true
		}
	}
	return false
}

// PickBest は候補から1件を選ぶ。入力URLと同一ホストを最優先し、次にAtomを優先する。
// 同点の場合は文書中で先に現れた候補を選ぶ。
func PickBest(candidates []Candidate, pageURL string) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Kind == KindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Detect は入力URLがフィードならそのまま返し、HTMLならリンクからフィードURLを特定する。
func (d *Detector) Detect(ctx context.Context, inputURL string) (string, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}
	if d.guard != nil {
		if err := d.guard.ValidateURL(inputURL); err != nil {
			return "", model.NewSSRFBlockedError()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := d.client().Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetectBody))
	if err != nil {
		return "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if LooksLikeFeed(contentType, body) {
		return inputURL, nil
	}
	if !strings.Contains(mediaTypeOf(contentType), "html") {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	best, ok := PickBest(FindCandidates(body, inputURL), inputURL)
	if !ok {
		return "", model.NewFeedNotDetectedError(inputURL)
	}
	return best.URL, nil
}

func (d *Detector) client() *http.Client {
	if d.guard != nil {
		return d.guard.NewSafeClient(detectTimeout)
	}
	return &http.Client{Timeout: detectTimeout}
}
