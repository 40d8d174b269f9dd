// Package auth はパスワード認証、セッション管理、Bearerトークン発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// LoginRecorder はログイン結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int
}

// RegisterInput は新規登録の入力。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginResult はログイン・新規登録の結果。
type LoginResult struct {
	User    *model.User
	Session *model.Session
	Token   string
}

// AdminBootstrap は初期管理者の設定。
type AdminBootstrap struct {
	Name     string
	Email    string
	Password string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
	recorder    LoginRecorder
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		config:      config,
		now:         time.Now,
	}
}

// SetLoginRecorder はログイン結果の記録先を設定する。
func (s *Service) SetLoginRecorder(r LoginRecorder) {
	s.recorder = r
}

// Register は一般ユーザーを作成し、そのままログインさせる。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	user, err := s.CreateUser(ctx, in.Name, in.Email, in.Password, model.RoleUser)
	if err != nil {
		return nil, err
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return s.startSession(ctx, user)
}

// CreateUser は入力を検証してユーザーを作成する。管理者によるユーザー追加でも使う。
func (s *Service) CreateUser(ctx context.Context, name, email, password string, role model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, model.NewValidationError("role must be user or admin")
	}

	hash, err := HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Favorites:    []string{},
		Tickets:      []model.Ticket{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login はメールアドレスとパスワードを照合し、セッションを発行する。
// roleが指定された場合はユーザーのロールと一致する必要がある。
// 失敗理由はクライアントに区別させない。
func (s *Service) Login(ctx context.Context, email, password string, role model.Role) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("email and password are required")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 未登録でも照合時間を揃える
		VerifyPassword(s.fallbackHash(), password)
		s.recordLogin("failure")
		return nil, model.NewInvalidCredentialsError()
	}
	if !VerifyPassword(user.PasswordHash, password) {
		s.recordLogin("failure")
		slog.Info("login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}
	if role != "" && user.Role != role {
		s.recordLogin("failure")
		slog.Info("login role mismatch",
			slog.String("user_id", user.ID),
			slog.String("requested_role", string(role)),
		)
		return nil, model.NewInvalidCredentialsError()
	}

	s.recordLogin("success")
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return s.startSession(ctx, user)
}

// Logout はセッションを破棄する。ユーザーのお気に入り等には一切触れない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

// EnsureAdmin は管理者が1人も存在しない場合に初期管理者を作成する。
// 同じメールアドレスの一般ユーザーが存在する場合は管理者に昇格させる。
// 作成または昇格した場合はtrueを返す。
func (s *Service) EnsureAdmin(ctx context.Context, admin AdminBootstrap) (bool, error) {
	if admin.Email == "" || admin.Password == "" {
		return false, nil
	}

	count, err := s.userRepo.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to count admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	existing, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(admin.Email))
	if err != nil {
		return false, fmt.Errorf("failed to find admin candidate: %w", err)
	}
	if existing != nil {
		role := model.RoleAdmin
		if _, err := s.userRepo.Update(ctx, existing.ID, model.UserUpdate{Role: &role}, s.now().UTC()); err != nil {
			return false, fmt.Errorf("failed to promote admin: %w", err)
		}
		slog.Info("existing user promoted to admin", slog.String("user_id", existing.ID))
		return true, nil
	}

	name := admin.Name
	if name == "" {
		name = "Admin User"
	}
	user, err := s.CreateUser(ctx, name, admin.Email, admin.Password, model.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	slog.Info("bootstrap admin created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return true, nil
}

// startSession はセッションとBearerトークンを発行する。
func (s *Service) startSession(ctx context.Context, user *model.User) (*LoginResult, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := &LoginResult{User: user, Session: session}
	if s.tokens != nil {
		token, err := s.tokens.Issue(session, user.Role)
		if err != nil {
			return nil, err
		}
		result.Token = token
	}
	return result, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// fallbackHash は未登録メールアドレスの照合に使うハッシュを遅延生成する。
func (s *Service) fallbackHash() string {
	s.dummyOnce.Do(func() {
		h, err := HashPassword("not-a-real-password", s.config.BcryptCost)
		if err != nil {
			slog.Error("failed to prepare fallback hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) recordLogin(result string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(result)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
