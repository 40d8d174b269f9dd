package model

import "time"

// FeedSource はカタログにイベントを取り込む会場カレンダーのRSS/Atomフィード。
type FeedSource struct {
	ID                string
	FeedURL           string
	SiteURL           string
	Title             string
	Category          string
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FetchStatus はフィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
)

// FeedEntry はフィードから解析したイベント候補。
type FeedEntry struct {
	GUID        string
	Title       string
	Link        string
	Description string
	ImageURL    string
	PublishedAt *time.Time
}
