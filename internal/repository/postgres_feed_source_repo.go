package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

const feedSourceColumns = `id, feed_url, site_url, title, category,
	etag, last_modified, fetch_status, consecutive_errors,
	error_message, next_fetch_at, created_at, updated_at`

// PostgresFeedSourceRepo はPostgreSQLを使用した取り込み元フィードリポジトリ。
type PostgresFeedSourceRepo struct {
	db *sql.DB
}

// NewPostgresFeedSourceRepo はPostgresFeedSourceRepoを生成する。
func NewPostgresFeedSourceRepo(db *sql.DB) *PostgresFeedSourceRepo {
	return &PostgresFeedSourceRepo{db: db}
}

func scanFeedSource(row rowScanner) (*model.FeedSource, error) {
	src := &model.FeedSource{}
	var siteURL, etag, lastModified, errorMessage sql.NullString
	var status string

	if err := row.Scan(
		&src.ID, &src.FeedURL, &siteURL, &src.Title, &src.Category,
		&etag, &lastModified, &status, &src.ConsecutiveErrors,
		&errorMessage, &src.NextFetchAt, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	src.FetchStatus = model.FetchStatus(status)
	src.SiteURL = nullStringValue(siteURL)
	src.ETag = nullStringValue(etag)
	src.LastModified = nullStringValue(lastModified)
	src.ErrorMessage = nullStringValue(errorMessage)
	return src, nil
}

// FindByID は指定IDの取り込み元を取得する。見つからない場合はnilを返す。
func (r *PostgresFeedSourceRepo) FindByID(ctx context.Context, id string) (*model.FeedSource, error) {
	src, err := scanFeedSource(r.db.QueryRowContext(ctx,
		`SELECT `+feedSourceColumns+` FROM feed_sources WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取り込み元の取得に失敗しました: %w", err)
	}
	return src, nil
}

// FindByFeedURL はフィードURLで取り込み元を検索する。見つからない場合はnilを返す。
func (r *PostgresFeedSourceRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.FeedSource, error) {
	src, err := scanFeedSource(r.db.QueryRowContext(ctx,
		`SELECT `+feedSourceColumns+` FROM feed_sources WHERE feed_url = $1`,
		feedURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによる取り込み元の検索に失敗しました: %w", err)
	}
	return src, nil
}

// List は全取り込み元を作成日時の昇順で返す。
func (r *PostgresFeedSourceRepo) List(ctx context.Context) ([]*model.FeedSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedSourceColumns+` FROM feed_sources ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("取り込み元一覧の取得に失敗しました: %w", err)
	}
	return scanFeedSources(rows)
}

func scanFeedSources(rows *sql.Rows) ([]*model.FeedSource, error) {
	defer rows.Close()
	sources := []*model.FeedSource{}
	for rows.Next() {
		src, err := scanFeedSource(rows)
		if err != nil {
			return nil, fmt.Errorf("取り込み元の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("取り込み元の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// Create は取り込み元を作成する。
func (r *PostgresFeedSourceRepo) Create(ctx context.Context, src *model.FeedSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_sources (id, feed_url, site_url, title, category,
		                           etag, last_modified, fetch_status, consecutive_errors,
		                           error_message, next_fetch_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		src.ID, src.FeedURL, nullString(src.SiteURL), src.Title, src.Category,
		nullString(src.ETag), nullString(src.LastModified),
		string(src.FetchStatus), src.ConsecutiveErrors,
		nullString(src.ErrorMessage), src.NextFetchAt,
		src.CreatedAt, src.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("取り込み元の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は取り込み元を削除する。取り込み済みイベントはsource_idがNULLになり、カタログに残る。
func (r *PostgresFeedSourceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM feed_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("取り込み元の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ListDueForFetch はフェッチ対象の取り込み元を取得する。
// 複数workerが同時に実行しても同じ行を二重取得しないよう、FOR UPDATE SKIP LOCKEDで取得する。
func (r *PostgresFeedSourceRepo) ListDueForFetch(ctx context.Context, now time.Time) ([]*model.FeedSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedSourceColumns+`
		 FROM feed_sources
		 WHERE next_fetch_at <= $1
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象の取り込み元の取得に失敗しました: %w", err)
	}
	return scanFeedSources(rows)
}

// UpdateFetchState は取り込み元のフェッチ状態を更新する。
func (r *PostgresFeedSourceRepo) UpdateFetchState(ctx context.Context, src *model.FeedSource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_sources SET
		    fetch_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_fetch_at = $5,
		    etag = $6,
		    last_modified = $7,
		    title = $8,
		    site_url = $9,
		    updated_at = now()
		 WHERE id = $1`,
		src.ID,
		string(src.FetchStatus),
		src.ConsecutiveErrors,
		nullString(src.ErrorMessage),
		src.NextFetchAt,
		nullString(src.ETag),
		nullString(src.LastModified),
		src.Title,
		nullString(src.SiteURL),
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeedSourceRepository = (*PostgresFeedSourceRepo)(nil)
