// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, user, ticket, catalog, feed, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeEmailTaken             = "EMAIL_TAKEN"
	ErrCodeEventIDRequired        = "EVENT_ID_REQUIRED"
	ErrCodeTicketNotFound         = "TICKET_NOT_FOUND"
	ErrCodeTicketNotCancellable   = "TICKET_NOT_CANCELLABLE"
	ErrCodeInvalidTicketSelection = "INVALID_TICKET_SELECTION"
	ErrCodeEventNotFound          = "EVENT_NOT_FOUND"
	ErrCodeCategoryExists         = "CATEGORY_EXISTS"
	ErrCodeCategoryNotFound       = "CATEGORY_NOT_FOUND"
	ErrCodeSourceNotFound         = "SOURCE_NOT_FOUND"
	ErrCodeDuplicateSource        = "DUPLICATE_SOURCE"
	ErrCodeFeedNotStopped         = "FEED_NOT_STOPPED"
	ErrCodeFeedNotDetected        = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL             = "INVALID_URL"
	ErrCodeSSRFBlocked            = "SSRF_BLOCKED"
	ErrCodeFetchFailed            = "FETCH_FAILED"
	ErrCodeProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderNotConfigured  = "PROVIDER_NOT_CONFIGURED"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid            = "CSRF_TOKEN_INVALID"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無を推測されないよう、原因を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "user",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewEventIDRequiredError はお気に入り追加時のイベントID欠落エラーを生成する。
func NewEventIDRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEventIDRequired,
		Message:  "イベントIDが指定されていません。",
		Category: "validation",
		Action:   "eventIdを指定してください。",
	}
}

// NewTicketNotFoundError はチケット未検出エラーを生成する。
func NewTicketNotFoundError(ticketID string) *APIError {
	return &APIError{
		Code:     ErrCodeTicketNotFound,
		Message:  fmt.Sprintf("指定されたチケットが見つかりません: %s", ticketID),
		Category: "ticket",
		Action:   "チケットIDを確認してください。",
	}
}

// NewTicketNotCancellableError はキャンセル不可状態のチケットに対するエラーを生成する。
func NewTicketNotCancellableError(status TicketStatus) *APIError {
	return &APIError{
		Code:     ErrCodeTicketNotCancellable,
		Message:  fmt.Sprintf("このチケットはキャンセルできません（状態: %s）。", status),
		Category: "ticket",
		Action:   "キャンセルは開催前（Upcoming）のチケットに対してのみ実行できます。",
	}
}

// NewInvalidTicketSelectionError はチケット選択内容が不正な場合のエラーを生成する。
func NewInvalidTicketSelectionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTicketSelection,
		Message:  fmt.Sprintf("チケットの選択内容が正しくありません: %s", reason),
		Category: "ticket",
		Action:   "チケット種別と枚数を確認してください。",
	}
}

// NewEventNotFoundError はカタログイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "catalog",
		Action:   "イベントIDを確認してください。",
	}
}

// NewCategoryExistsError はカテゴリ重複エラーを生成する。
func NewCategoryExistsError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryExists,
		Message:  fmt.Sprintf("カテゴリは既に存在します: %s", name),
		Category: "catalog",
		Action:   "別のカテゴリ名を指定してください。",
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("指定されたカテゴリが見つかりません: %s", name),
		Category: "catalog",
		Action:   "カテゴリ名を確認してください。",
	}
}

// NewSourceNotFoundError は取り込み元フィード未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定された取り込み元が見つかりません: %s", sourceID),
		Category: "feed",
		Action:   "取り込み元IDを確認してください。",
	}
}

// NewDuplicateSourceError は登録済みフィードを再登録しようとした場合のエラーを生成する。
func NewDuplicateSourceError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSource,
		Message:  "このフィードは既に取り込み元として登録されています。",
		Category: "feed",
		Action:   "取り込み元一覧から該当フィードを確認してください。",
	}
}

// NewFeedNotStoppedError はフィードが停止状態でない場合のエラーを生成する。
func NewFeedNotStoppedError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotStopped,
		Message:  "フィードは停止中ではありません。",
		Category: "feed",
		Action:   "再開はフェッチが停止しているフィードに対してのみ実行できます。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "feed",
		Action:   "RSS/AtomフィードのURLを直接入力するか、会場のイベントページのURLを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewProviderUnavailableError は外部プロバイダー呼び出し失敗エラーを生成する。
func NewProviderUnavailableError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("外部サービス（%s）からデータを取得できませんでした。", provider),
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProviderNotConfiguredError はAPIキー未設定のプロバイダーに対するエラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("外部サービス（%s）が設定されていません。", provider),
		Category: "provider",
		Action:   "管理者にAPIキーの設定を依頼してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
