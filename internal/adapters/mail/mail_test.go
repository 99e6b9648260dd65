package mail

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	gomail "github.com/wneessen/go-mail"
)

func TestOutboxSenderQueuesEmailEvent(t *testing.T) {
	t.Parallel()

	outbox := memory.NewOutbox()
	sender := NewOutboxSender(outbox)
	require.NoError(t, sender.Send(context.Background(), "owner@example.com", "Clicker verification code", "Your verification code is ABC123."))

	records := outbox.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EventEmailDeliveryRequired, records[0].EventType)
	assert.Equal(t, "owner@example.com", records[0].PartitionKey)

	var req domain.EmailRequest
	require.NoError(t, json.Unmarshal(records[0].Payload, &req))
	assert.Equal(t, "Clicker verification code", req.Subject)
	assert.Contains(t, req.Body, "ABC123")
}

func TestSMTPSenderConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPSender(SMTPConfig{From: "license@example.com"})
	assert.Error(t, err)
	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	assert.Error(t, err)

	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "license@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, sender.cfg.Port)

	_, err = sender.message("not an address", "s", "b")
	assert.Error(t, err)
	msg, err := sender.message("owner@example.com", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, []string{"subject"}, msg.GetGenHeader(gomail.HeaderSubject))
}

func TestTLSPolicy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, gomail.NoTLS, tlsPolicy("none"))
	assert.Equal(t, gomail.TLSOpportunistic, tlsPolicy("opportunistic"))
	assert.Equal(t, gomail.TLSMandatory, tlsPolicy(""))
}
