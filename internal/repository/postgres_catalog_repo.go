package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

const catalogColumns = `id, title, date, image_url, location, category, price, description,
	weather_temp, weather_condition, weather_fetched_at,
	source_id, guid, link, created_at, updated_at`

// PostgresCatalogRepo はPostgreSQLを使用したカタログイベントリポジトリ。
type PostgresCatalogRepo struct {
	db *sql.DB
}

// NewPostgresCatalogRepo はPostgresCatalogRepoを生成する。
func NewPostgresCatalogRepo(db *sql.DB) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{db: db}
}

func scanCatalogEvent(row rowScanner) (*model.CatalogEvent, error) {
	e := &model.CatalogEvent{}
	var imageURL, price, description, temp, condition, sourceID, guid, link sql.NullString
	var fetchedAt sql.NullTime

	if err := row.Scan(
		&e.ID, &e.Title, &e.Date, &imageURL, &e.Location, &e.Category, &price, &description,
		&temp, &condition, &fetchedAt,
		&sourceID, &guid, &link, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.ImageURL = nullStringValue(imageURL)
	e.Price = nullStringValue(price)
	e.Description = nullStringValue(description)
	e.SourceID = nullStringValue(sourceID)
	e.GUID = nullStringValue(guid)
	e.Link = nullStringValue(link)
	if temp.Valid || condition.Valid {
		e.Weather = &model.WeatherSnapshot{
			Temp:      nullStringValue(temp),
			Condition: nullStringValue(condition),
		}
		if fetchedAt.Valid {
			t := fetchedAt.Time
			e.Weather.FetchedAt = &t
		}
	}
	return e, nil
}

func scanCatalogEvents(rows *sql.Rows) ([]*model.CatalogEvent, error) {
	defer rows.Close()
	events := []*model.CatalogEvent{}
	for rows.Next() {
		e, err := scanCatalogEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("カタログイベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カタログイベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

func weatherArgs(w *model.WeatherSnapshot) (sql.NullString, sql.NullString, sql.NullTime) {
	if w == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullTime{}
	}
	var fetchedAt sql.NullTime
	if w.FetchedAt != nil {
		fetchedAt = sql.NullTime{Time: *w.FetchedAt, Valid: true}
	}
	return nullString(w.Temp), nullString(w.Condition), fetchedAt
}

// List は絞り込み条件に一致するイベントを作成日時の昇順で返す。
func (r *PostgresCatalogRepo) List(ctx context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}
	if filter.Keyword != "" {
		args = append(args, "%"+escapeLike(filter.Keyword)+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR location ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + catalogColumns + ` FROM catalog_events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("カタログイベント一覧の取得に失敗しました: %w", err)
	}
	return scanCatalogEvents(rows)
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresCatalogRepo) FindByID(ctx context.Context, id string) (*model.CatalogEvent, error) {
	e, err := scanCatalogEvent(r.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_events WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カタログイベントの取得に失敗しました: %w", err)
	}
	return e, nil
}

// Count はイベント数を返す。
func (r *PostgresCatalogRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM catalog_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("カタログイベント数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Create はイベントを作成する。
func (r *PostgresCatalogRepo) Create(ctx context.Context, event *model.CatalogEvent) error {
	if err := insertCatalogEvent(ctx, r.db, event); err != nil {
		return fmt.Errorf("カタログイベントの作成に失敗しました: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCatalogEvent(ctx context.Context, db execer, e *model.CatalogEvent) error {
	temp, condition, fetchedAt := weatherArgs(e.Weather)
	_, err := db.ExecContext(ctx,
		`INSERT INTO catalog_events (id, title, date, image_url, location, category, price, description,
		                             weather_temp, weather_condition, weather_fetched_at,
		                             source_id, guid, link, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.Title, e.Date, nullString(e.ImageURL), e.Location, e.Category,
		nullString(e.Price), nullString(e.Description),
		temp, condition, fetchedAt,
		nullString(e.SourceID), nullString(e.GUID), nullString(e.Link),
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// Update はイベントを部分更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *PostgresCatalogRepo) Update(ctx context.Context, id string, update model.CatalogEventUpdate, now time.Time) (*model.CatalogEvent, error) {
	temp, condition, fetchedAt := weatherArgs(update.Weather)
	e, err := scanCatalogEvent(r.db.QueryRowContext(ctx,
		`UPDATE catalog_events SET
		    title = COALESCE($2, title),
		    date = COALESCE($3, date),
		    image_url = COALESCE($4, image_url),
		    location = COALESCE($5, location),
		    category = COALESCE($6, category),
		    price = COALESCE($7, price),
		    description = COALESCE($8, description),
		    weather_temp = CASE WHEN $12 THEN $9 ELSE weather_temp END,
		    weather_condition = CASE WHEN $12 THEN $10 ELSE weather_condition END,
		    weather_fetched_at = CASE WHEN $12 THEN $11 ELSE weather_fetched_at END,
		    updated_at = $13
		 WHERE id = $1
		 RETURNING `+catalogColumns,
		id, optString(update.Title), optString(update.Date), optString(update.ImageURL),
		optString(update.Location), optString(update.Category), optString(update.Price),
		optString(update.Description),
		temp, condition, fetchedAt, update.Weather != nil, now,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カタログイベントの更新に失敗しました: %w", err)
	}
	return e, nil
}

// Delete は指定IDのイベントを削除する。
func (r *PostgresCatalogRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM catalog_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("カタログイベントの削除に失敗しました: %w", err)
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

// SeedIfEmpty はイベントが1件もない場合に限り一括登録する。
// テーブルロックで同時起動時の二重登録を防ぐ。
func (r *PostgresCatalogRepo) SeedIfEmpty(ctx context.Context, events []*model.CatalogEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE catalog_events IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("failed to lock catalog_events: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM catalog_events`).Scan(&n); err != nil {
		return false, fmt.Errorf("カタログイベント数の取得に失敗しました: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	for _, e := range events {
		if err := insertCatalogEvent(ctx, tx, e); err != nil {
			return false, fmt.Errorf("シードイベントの登録に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// UpsertFromSource はフィード由来のイベントを(source_id, guid)で照合してUPSERTする。
// 既存イベントのIDと天気スナップショットは維持する。
func (r *PostgresCatalogRepo) UpsertFromSource(ctx context.Context, e *model.CatalogEvent) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO catalog_events (id, title, date, image_url, location, category, price, description,
		                             source_id, guid, link, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (source_id, guid) DO UPDATE SET
		    title = EXCLUDED.title,
		    date = EXCLUDED.date,
		    image_url = COALESCE(EXCLUDED.image_url, catalog_events.image_url),
		    description = EXCLUDED.description,
		    link = EXCLUDED.link,
		    updated_at = EXCLUDED.updated_at
		 RETURNING (xmax = 0)`,
		e.ID, e.Title, e.Date, nullString(e.ImageURL), e.Location, e.Category,
		nullString(e.Price), nullString(e.Description),
		e.SourceID, e.GUID, nullString(e.Link), e.CreatedAt, e.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("フィードイベントのUPSERTに失敗しました: %w", err)
	}
	return inserted, nil
}

// ListNeedingWeather は天気の取得・更新が必要なイベントを返す。
func (r *PostgresCatalogRepo) ListNeedingWeather(ctx context.Context, staleBefore time.Time, limit int) ([]*model.CatalogEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+catalogColumns+`
		 FROM catalog_events
		 WHERE weather_fetched_at IS NULL OR weather_fetched_at < $1
		 ORDER BY weather_fetched_at ASC NULLS FIRST, created_at ASC
		 LIMIT $2`,
		staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("天気更新対象イベントの取得に失敗しました: %w", err)
	}
	return scanCatalogEvents(rows)
}

// UpdateWeather はイベントの天気スナップショットを更新する。
func (r *PostgresCatalogRepo) UpdateWeather(ctx context.Context, id string, w model.WeatherSnapshot) error {
	temp, condition, fetchedAt := weatherArgs(&w)
	result, err := r.db.ExecContext(ctx,
		`UPDATE catalog_events SET
		    weather_temp = $2, weather_condition = $3, weather_fetched_at = $4, updated_at = now()
		 WHERE id = $1`,
		id, temp, condition, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("天気スナップショットの更新に失敗しました: %w", err)
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

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// List はカテゴリ名を登録順に返す。
func (r *PostgresCategoryRepo) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}
	return names, nil
}

// Add はカテゴリを追加する。
func (r *PostgresCategoryRepo) Add(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES ($1)`, name)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("カテゴリの追加に失敗しました: %w", err)
	}
	return nil
}

// Delete はカテゴリを削除する。
func (r *PostgresCategoryRepo) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("カテゴリの削除に失敗しました: %w", err)
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

// SeedIfEmpty はカテゴリが1件もない場合に限り登録する。
func (r *PostgresCategoryRepo) SeedIfEmpty(ctx context.Context, names []string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE categories IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("failed to lock categories: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM categories`).Scan(&n); err != nil {
		return false, fmt.Errorf("カテゴリ数の取得に失敗しました: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO categories (name) VALUES ($1)`, name); err != nil {
			return false, fmt.Errorf("カテゴリの登録に失敗しました: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var (
	_ CatalogRepository  = (*PostgresCatalogRepo)(nil)
	_ CategoryRepository = (*PostgresCategoryRepo)(nil)
)
