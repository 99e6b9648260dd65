package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// SessionTokens implements HS256 session tokens whose key is supplied per call.
type SessionTokens struct {
	leeway time.Duration
}

// NewSessionTokens builds a signer/verifier with the given clock leeway.
func NewSessionTokens(leeway time.Duration) *SessionTokens {
	if leeway < 0 {
		leeway = 0
	}
	return &SessionTokens{leeway: leeway}
}

type sessionJWTClaims struct {
	ToolCode   string `json:"tool_code"`
	DeviceHash string `json:"device_hash"`
	OrderID    string `json:"order_id"`
	Email      string `json:"email"`
	ExpireTime *int64 `json:"expire_time"`
	RestTime   *int64 `json:"rest_time,omitempty"`
	Reminder   *bool  `json:"reminder,omitempty"`
	jwt.RegisteredClaims
}

func (s *SessionTokens) Sign(claims ports.SessionClaims, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("session signing key is required")
	}
	if claims.ExpiresAt.IsZero() {
		return "", errors.New("session token expiry is required")
	}

	var expireTime *int64
	if claims.ExpireTime != nil {
		unix := claims.ExpireTime.Unix()
		expireTime = &unix
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionJWTClaims{
		ToolCode:   claims.ToolCode,
		DeviceHash: claims.DeviceHash,
		OrderID:    claims.OrderID,
		Email:      claims.Email,
		ExpireTime: expireTime,
		RestTime:   claims.RestTime,
		Reminder:   claims.Reminder,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.OrderID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	return token.SignedString(key)
}

func (s *SessionTokens) Parse(raw string, key []byte) (ports.SessionClaims, error) {
	if len(key) == 0 {
		return ports.SessionClaims{}, errors.New("session signing key is required")
	}
	parsed, err := jwt.ParseWithClaims(raw, &sessionJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(s.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return ports.SessionClaims{}, err
	}
	claims, ok := parsed.Claims.(*sessionJWTClaims)
	if !ok || !parsed.Valid {
		return ports.SessionClaims{}, errors.New("invalid token claims")
	}

	out := ports.SessionClaims{
		ToolCode:   claims.ToolCode,
		DeviceHash: claims.DeviceHash,
		OrderID:    claims.OrderID,
		Email:      claims.Email,
		RestTime:   claims.RestTime,
		Reminder:   claims.Reminder,
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpireTime != nil {
		t := time.Unix(*claims.ExpireTime, 0).UTC()
		out.ExpireTime = &t
	}
	return out, nil
}
