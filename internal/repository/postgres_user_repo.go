package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, role, favorites, tickets, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// お気に入りはTEXT[]、チケットはJSONBとしてusers行に埋め込む。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var favorites pq.StringArray
	var ticketsJSON []byte
	var role string

	if err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role,
		&favorites, &ticketsJSON, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	user.Favorites = []string(favorites)
	if user.Favorites == nil {
		user.Favorites = []string{}
	}

	var records []ticketRecord
	if len(ticketsJSON) > 0 {
		if err := json.Unmarshal(ticketsJSON, &records); err != nil {
			return nil, fmt.Errorf("failed to decode tickets: %w", err)
		}
	}
	tickets, err := fromTicketRecords(records)
	if err != nil {
		return nil, err
	}
	user.Tickets = tickets
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id::text = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CountByRole は指定ロールのユーザー数を返す。
func (r *PostgresUserRepo) CountByRole(ctx context.Context, role model.Role) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM users WHERE role = $1`, string(role),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	ticketsJSON, err := json.Marshal(toTicketRecords(user.Tickets))
	if err != nil {
		return fmt.Errorf("failed to encode tickets: %w", err)
	}
	favorites := user.Favorites
	if favorites == nil {
		favorites = []string{}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, favorites, tickets, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role),
		pq.Array(favorites), ticketsJSON, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーを部分更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error) {
	var role sql.NullString
	if update.Role != nil {
		role = sql.NullString{String: string(*update.Role), Valid: true}
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		    name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    password_hash = COALESCE($4, password_hash),
		    role = COALESCE($5, role),
		    updated_at = $6
		 WHERE id::text = $1
		 RETURNING `+userColumns,
		id, optString(update.Name), optString(update.Email), optString(update.PasswordHash), role, now,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id::text = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFavorite はイベントキーを未登録の場合のみ追加する。
// 判定と追加を1つのUPDATE文で行うため、同時実行でも重複しない。
func (r *PostgresUserRepo) AddFavorite(ctx context.Context, id, eventKey string) ([]string, error) {
	return r.mutateFavorites(ctx,
		`UPDATE users SET
		    favorites = CASE WHEN $2 = ANY(favorites) THEN favorites ELSE array_append(favorites, $2) END,
		    updated_at = now()
		 WHERE id::text = $1
		 RETURNING favorites`,
		id, eventKey,
	)
}

// RemoveFavorite はイベントキーをお気に入りから除去する。
func (r *PostgresUserRepo) RemoveFavorite(ctx context.Context, id, eventKey string) ([]string, error) {
	return r.mutateFavorites(ctx,
		`UPDATE users SET
		    favorites = array_remove(favorites, $2),
		    updated_at = now()
		 WHERE id::text = $1
		 RETURNING favorites`,
		id, eventKey,
	)
}

func (r *PostgresUserRepo) mutateFavorites(ctx context.Context, query, id, eventKey string) ([]string, error) {
	var favorites pq.StringArray
	err := r.db.QueryRowContext(ctx, query, id, eventKey).Scan(&favorites)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update favorites: %w", err)
	}
	if favorites == nil {
		return []string{}, nil
	}
	return []string(favorites), nil
}

// AppendTickets はチケットを追加し、更新後のユーザーを返す。
func (r *PostgresUserRepo) AppendTickets(ctx context.Context, id string, tickets []model.Ticket) (*model.User, error) {
	return r.mutateTickets(ctx, id, func(current []model.Ticket) ([]model.Ticket, error) {
		return append(current, tickets...), nil
	})
}

// SetTicketStatus はチケットの状態を変更し、更新後のユーザーを返す。
func (r *PostgresUserRepo) SetTicketStatus(ctx context.Context, id, ticketID string, status, requireCurrent model.TicketStatus) (*model.User, error) {
	return r.mutateTickets(ctx, id, func(current []model.Ticket) ([]model.Ticket, error) {
		if err := applyTicketStatus(current, ticketID, status, requireCurrent); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// DeleteTicket はチケットを削除し、更新後のユーザーを返す。
func (r *PostgresUserRepo) DeleteTicket(ctx context.Context, id, ticketID string) (*model.User, error) {
	return r.mutateTickets(ctx, id, func(current []model.Ticket) ([]model.Ticket, error) {
		return removeTicket(current, ticketID)
	})
}

// mutateTickets は行ロックを取得した上でチケット一覧を書き換える。
func (r *PostgresUserRepo) mutateTickets(ctx context.Context, id string, fn func([]model.Ticket) ([]model.Ticket, error)) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id::text = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	tickets, err := fn(current.Tickets)
	if err != nil {
		return nil, err
	}
	ticketsJSON, err := json.Marshal(toTicketRecords(tickets))
	if err != nil {
		return nil, fmt.Errorf("failed to encode tickets: %w", err)
	}

	updated, err := scanUser(tx.QueryRowContext(ctx,
		`UPDATE users SET tickets = $2, updated_at = now()
		 WHERE id::text = $1
		 RETURNING `+userColumns,
		id, ticketsJSON,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update tickets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// optString はnilを許容する文字列ポインタをsql.NullStringに変換する。
func optString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
