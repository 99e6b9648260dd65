package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func TestSessionTokensRoundTrip(t *testing.T) {
	t.Parallel()

	tokens := NewSessionTokens(0)
	now := time.Now().UTC().Truncate(time.Second)
	expire := now.Add(10 * time.Minute)
	rest := int64(600)
	reminder := false
	key := domain.SessionKey("clicker", "dev-a", "order-1", "a@example.com", true)

	raw, err := tokens.Sign(ports.SessionClaims{
		ToolCode:   "clicker",
		DeviceHash: "dev-a",
		OrderID:    "order-1",
		Email:      "a@example.com",
		ExpireTime: &expire,
		RestTime:   &rest,
		Reminder:   &reminder,
		IssuedAt:   now,
		ExpiresAt:  expire,
	}, key)
	require.NoError(t, err)

	claims, err := tokens.Parse(raw, key)
	require.NoError(t, err)
	assert.Equal(t, "clicker", claims.ToolCode)
	assert.Equal(t, "dev-a", claims.DeviceHash)
	assert.Equal(t, "order-1", claims.OrderID)
	assert.Equal(t, "a@example.com", claims.Email)
	require.NotNil(t, claims.ExpireTime)
	assert.True(t, expire.Equal(*claims.ExpireTime))
	require.NotNil(t, claims.RestTime)
	assert.Equal(t, rest, *claims.RestTime)
	require.NotNil(t, claims.Reminder)
	assert.False(t, *claims.Reminder)
}

func TestSessionTokensRejectOtherOrderKey(t *testing.T) {
	t.Parallel()

	tokens := NewSessionTokens(0)
	now := time.Now().UTC()
	raw, err := tokens.Sign(ports.SessionClaims{
		ToolCode:   "clicker",
		DeviceHash: "dev-a",
		OrderID:    "order-1",
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Minute),
	}, domain.SessionKey("clicker", "dev-a", "order-1", "", false))
	require.NoError(t, err)

	_, err = tokens.Parse(raw, domain.SessionKey("clicker", "dev-b", "order-1", "", false))
	assert.Error(t, err)
	_, err = tokens.Parse(raw, domain.SessionKey("clicker", "dev-a", "order-1", "", true))
	assert.Error(t, err, "key with trailing email separator must differ")
}

func TestSessionTokensRejectExpired(t *testing.T) {
	t.Parallel()

	tokens := NewSessionTokens(0)
	past := time.Now().UTC().Add(-time.Hour)
	key := []byte("clicker_dev_order")
	raw, err := tokens.Sign(ports.SessionClaims{
		OrderID:   "order",
		IssuedAt:  past.Add(-time.Minute),
		ExpiresAt: past,
	}, key)
	require.NoError(t, err)

	_, err = tokens.Parse(raw, key)
	assert.Error(t, err)
}

func TestSessionTokensRequireKeyAndExpiry(t *testing.T) {
	t.Parallel()

	tokens := NewSessionTokens(0)
	_, err := tokens.Sign(ports.SessionClaims{ExpiresAt: time.Now().Add(time.Minute)}, nil)
	assert.Error(t, err)
	_, err = tokens.Sign(ports.SessionClaims{}, []byte("k"))
	assert.Error(t, err)
	_, err = tokens.Parse("not-a-token", []byte("k"))
	assert.Error(t, err)
}
