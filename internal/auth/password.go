package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// 入力値の上限。
const (
	MaxNameLength = 100
	// bcryptは72バイトを超える入力を扱えない
	MaxPasswordBytes = 72
)

// HashPassword はbcryptでパスワードをハッシュ化する。
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword はハッシュと平文パスワードを定数時間で照合する。
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// NormalizeEmail は前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName は表示名を検証する。
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewValidationError("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}
	return nil
}

// ValidateEmail はメールアドレスの形式を検証する。表示名付きの形式は受け付けない。
func ValidateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return model.NewValidationError("email is invalid")
	}
	return nil
}

// ValidatePassword はパスワードを検証する。最小長は設けず、空とbcryptの上限超過のみ拒否する。
func ValidatePassword(password string) error {
	if password == "" {
		return model.NewValidationError("password is required")
	}
	if len(password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

