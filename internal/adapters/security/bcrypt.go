package security

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes email verification codes via bcrypt.
// Codes are upper-cased before hashing so verification is case-insensitive.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt-based hasher with default fallback cost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(code string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(normalizeCode(code)), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Compare(hash, code string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalizeCode(code)))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
