package ports

import "time"

// SessionClaims is the payload of a license session token.
// RestTime and Reminder are only set on heartbeat responses.
type SessionClaims struct {
	ToolCode   string
	DeviceHash string
	OrderID    string
	Email      string
	ExpireTime *time.Time
	RestTime   *int64
	Reminder   *bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SessionTokenSigner signs and verifies session tokens with a caller-supplied key.
type SessionTokenSigner interface {
	Sign(claims SessionClaims, key []byte) (string, error)
	Parse(raw string, key []byte) (SessionClaims, error)
}

// TOTPProvider implements the time-based one-time password primitive.
type TOTPProvider interface {
	GenerateSecret() (string, error)
	ProvisioningURI(secret, accountName, issuer string) (string, error)
	// MatchStep returns the time step the code belongs to when it is valid at
	// the given instant within the configured skew.
	MatchStep(secret, code string, at time.Time) (int64, bool)
}

// CodeHasher stores email verification codes as one-way hashes.
type CodeHasher interface {
	Hash(code string) (string, error)
	Compare(hash, code string) error
}
