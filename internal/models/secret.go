package models

import "time"

// Secret is an opaque encrypted record with a bounded view budget and an
// absolute expiry. The server never inspects Ciphertext or EncryptedTitle.
type Secret struct {
	ID             string
	Ciphertext     []byte
	EncryptedTitle []byte
	MaxViews       int
	RemainingViews int
	PreventBurn    bool
	PasswordHash   []byte
	AllowedIP      string
	CreatorIP      string
	OwnerID        string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Expired reports whether the secret's expiry instant has passed.
func (s *Secret) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Exhausted reports whether the view budget is spent.
func (s *Secret) Exhausted() bool {
	return s.RemainingViews <= 0
}
