package fetch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// Outcome はHTTPステータスコードから決まるフェッチ結果の分類。
type Outcome int

const (
	// OutcomeOK は本文を取り込む(200)。
	OutcomeOK Outcome = iota
	// OutcomeNotModified は未変更(304)。
	OutcomeNotModified
	// OutcomeStop はフェッチを停止する(404/410/401/403)。
	OutcomeStop
	// OutcomeBackoff は間隔を空けて再試行する(429/5xx)。
	OutcomeBackoff
	// OutcomeUnexpected はそれ以外のステータス。
	OutcomeUnexpected
)

const (
	initialBackoff        = 30 * time.Minute
	maxBackoff            = 12 * time.Hour
	parseFailureThreshold = 10
)

// Classify はHTTPステータスコードを分類する。
func Classify(statusCode int) Outcome {
	switch {
	case statusCode == http.StatusOK:
		return OutcomeOK
	case statusCode == http.StatusNotModified:
		return OutcomeNotModified
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone,
		statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return OutcomeStop
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return OutcomeBackoff
	default:
		return OutcomeUnexpected
	}
}

// BackoffDelay は連続エラー回数から次回フェッチまでの待ち時間を返す。
// 30分から倍々に増やし、12時間で頭打ちにする。
func BackoffDelay(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// MarkStopped は取り込み元のフェッチを停止する。再開は管理者操作でのみ行う。
func MarkStopped(source *model.FeedSource, reason string, now time.Time) {
	source.FetchStatus = model.FetchStatusStopped
	source.ErrorMessage = reason
	source.UpdatedAt = now
}

// MarkBackoff は連続エラー回数を増やし、指数バックオフで次回フェッチ時刻を設定する。
func MarkBackoff(source *model.FeedSource, reason string, now time.Time) {
	source.ConsecutiveErrors++
	source.ErrorMessage = reason
	source.NextFetchAt = now.Add(BackoffDelay(source.ConsecutiveErrors - 1))
	source.UpdatedAt = now
}

// MarkSuccess はエラー状態をリセットし、interval後に次回フェッチを予約する。
func MarkSuccess(source *model.FeedSource, interval time.Duration, now time.Time) {
	source.ConsecutiveErrors = 0
	source.ErrorMessage = ""
	source.NextFetchAt = now.Add(interval)
	source.UpdatedAt = now
}

// MarkParseFailure はパース失敗を記録する。連続10回で停止する。
// 停止しない間は通常の間隔で再試行する。
func MarkParseFailure(source *model.FeedSource, reason string, interval time.Duration, now time.Time) {
	source.ConsecutiveErrors++
	source.NextFetchAt = now.Add(interval)
	source.UpdatedAt = now
	if source.ConsecutiveErrors >= parseFailureThreshold {
		source.FetchStatus = model.FetchStatusStopped
		source.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したためフェッチを停止しました: %s", source.ConsecutiveErrors, reason)
		return
	}
	source.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", source.ConsecutiveErrors, reason)
}
