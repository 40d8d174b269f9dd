// Package user はユーザー管理とお気に入りのドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/eventexplorer/internal/auth"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// UserCreator は入力検証とハッシュ化を含むユーザー作成のインターフェース。
// auth.Serviceが実装する。
type UserCreator interface {
	CreateUser(ctx context.Context, name, email, password string, role model.Role) (*model.User, error)
}

// UpdateInput はプロフィールの部分更新内容。nilのフィールドは変更しない。
type UpdateInput struct {
	Name     *string
	Email    *string
	Password *string
	Role     *model.Role
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	creator     UserCreator
	bcryptCost  int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	creator UserCreator,
	bcryptCost int,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		creator:     creator,
		bcryptCost:  bcryptCost,
		now:         time.Now,
	}
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// List は全ユーザーを返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Create は管理者によるユーザー追加を行う。
func (s *Service) Create(ctx context.Context, name, email, password string, role model.Role) (*model.User, error) {
	user, err := s.creator.CreateUser(ctx, name, email, password, role)
	if err != nil {
		return nil, err
	}
	slog.Info("ユーザーを追加しました",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Update はプロフィールを部分更新し、更新後のレコードを返す。
// ロールの変更は管理者のみ可能。存在しないユーザーを新規作成することはない。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, actorIsAdmin bool) (*model.User, error) {
	var update model.UserUpdate

	if in.Role != nil {
		if !actorIsAdmin {
			return nil, model.NewForbiddenError()
		}
		if !in.Role.Valid() {
			return nil, model.NewValidationError("role must be user or admin")
		}
		update.Role = in.Role
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := auth.ValidateName(name); err != nil {
			return nil, err
		}
		update.Name = &name
	}
	if in.Email != nil {
		email := auth.NormalizeEmail(*in.Email)
		if err := auth.ValidateEmail(email); err != nil {
			return nil, err
		}
		update.Email = &email
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(*in.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		update.PasswordHash = &hash
	}

	if update.IsEmpty() {
		return s.Get(ctx, id)
	}

	user, err := s.userRepo.Update(ctx, id, update, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("ユーザーを更新しました", slog.String("user_id", id))
	return user, nil
}

// Delete はユーザーとそのセッションを削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, id); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザーを削除しました", slog.String("user_id", id))
	return nil
}

// FavoriteKey はeventIdとsourceからお気に入りに保存するキーを組み立てる。
// sourceを省略した場合はeventIdをそのまま使う。
func FavoriteKey(eventID, source string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", model.NewEventIDRequiredError()
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return eventID, nil
	}
	if src, _, ok := model.ParseEventRef(eventID); ok {
		if src != source {
			return "", model.NewValidationError("source does not match eventId namespace")
		}
		return eventID, nil
	}
	switch source {
	case model.SourceCatalog, model.SourceTicketmaster, model.SourceFeed:
		return model.EventRef(source, eventID), nil
	default:
		return "", model.NewValidationError("source must be catalog, ticketmaster or feed")
	}
}

// AddFavorite はお気に入りにイベントを追加し、更新後の一覧を返す。登録済みの場合は何もしない。
func (s *Service) AddFavorite(ctx context.Context, userID, eventID, source string) ([]string, error) {
	key, err := FavoriteKey(eventID, source)
	if err != nil {
		return nil, err
	}

	favorites, err := s.userRepo.AddFavorite(ctx, userID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("お気に入りの追加に失敗しました: %w", err)
	}

	slog.Info("お気に入りに追加しました",
		slog.String("user_id", userID),
		slog.String("event_key", key),
	)
	return favorites, nil
}

// RemoveFavorite はお気に入りからイベントを除去し、更新後の一覧を返す。
// 未登録のキーは一覧を変更せずにそのまま返す。
func (s *Service) RemoveFavorite(ctx context.Context, userID, eventKey string) ([]string, error) {
	favorites, err := s.userRepo.RemoveFavorite(ctx, userID, eventKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
	}

	slog.Info("お気に入りから削除しました",
		slog.String("user_id", userID),
		slog.String("event_key", eventKey),
	)
	return favorites, nil
}
