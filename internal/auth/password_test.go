package auth

import "testing"

func TestHashPassword_VerifiesOnlyOriginal(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the plain password")
	}
	if !VerifyPassword(hash, "correct horse") {
		t.Error("VerifyPassword() = false for the original password")
	}
	if VerifyPassword(hash, "battery staple") {
		t.Error("VerifyPassword() = true for a different password")
	}
	if VerifyPassword("not-a-hash", "correct horse") {
		t.Error("VerifyPassword() = true for a malformed hash")
	}
}

func TestHashPassword_OutOfRangeCostFallsBackToDefault(t *testing.T) {
	hash, err := HashPassword("pw-123456", 0)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !VerifyPassword(hash, "pw-123456") {
		t.Error("VerifyPassword() = false")
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.co.jp", true},
		{"", false},
		{"user", false},
		{"user@localhost", false},
		{"User <user@example.com>", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateEmail(%q) error = %v, want valid=%v", tt.email, err, tt.valid)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Mixed@Example.COM "); got != "mixed@example.com" {
		t.Errorf("NormalizeEmail() = %q, want %q", got, "mixed@example.com")
	}
}
