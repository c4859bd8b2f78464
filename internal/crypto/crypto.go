package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

const idLength = 12

// GenerateID returns a random URL-safe secret identifier.
func GenerateID() string {
	bytes := make([]byte, idLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// HashPassword hashes a secret password with bcrypt.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// VerifyPassword checks a password against a bcrypt hash.
func VerifyPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// VisitorHash computes a keyed one-way hash of visitor-identifying data.
// The salt is an instance secret; without it the hash cannot be reversed
// into or matched against an identity.
func VisitorHash(salt, identity string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(identity))
	return hex.EncodeToString(mac.Sum(nil))
}
