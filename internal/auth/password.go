package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong password, an unknown user and
// a disabled account alike.
var ErrInvalidCredentials = errors.New("invalid credentials or disabled account")

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// LegacyDigest is the unsalted SHA-256 hex digest older databases store.
// It is only ever compared against, never written for new passwords.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func isLegacyDigest(stored string) bool {
	if len(stored) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(stored)
	return err == nil
}

// VerifyPassword checks password against a stored bcrypt hash or legacy
// SHA-256 digest. needsRehash is true when the stored form should be
// replaced by a bcrypt hash.
func VerifyPassword(stored, password string) (ok, needsRehash bool) {
	switch {
	case strings.HasPrefix(stored, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
	case isLegacyDigest(stored):
		want := strings.ToLower(stored)
		ok := subtle.ConstantTimeCompare([]byte(want), []byte(LegacyDigest(password))) == 1
		return ok, ok
	default:
		return false, false
	}
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// burnCompare spends roughly the time of one bcrypt comparison so an unknown
// username is not distinguishable from a wrong password by latency.
func burnCompare(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sopdesk-dummy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
