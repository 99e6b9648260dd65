package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

type fakeHost struct {
	macs []string
}

func (h fakeHost) BoardSerial(context.Context) string     { return "board" }
func (h fakeHost) CPUID(context.Context) string           { return "cpu" }
func (h fakeHost) MACs(context.Context) []string          { return h.macs }
func (h fakeHost) VendorStrings(context.Context) []string { return nil }

type nopSender struct{}

func (nopSender) Send(context.Context, string, string, string) error { return nil }

func runCLI(t *testing.T, host client.Host, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(host)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewBufferString(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func licenseServer(t *testing.T) string {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), domain.Tool{Code: "clicker", Name: "Clicker"}))
	svc := application.NewService(application.Dependencies{
		Orders:   store,
		Tools:    store,
		Lockouts: memory.NewLockoutStore(nil),
		TOTP:     security.NewTOTP(1),
		Codes:    security.NewBcryptHasher(4),
		Tokens:   security.NewSessionTokens(0),
		Emails:   nopSender{},
	})
	srv := httptest.NewServer(httpadapter.NewRouter(httpadapter.NewHandler(svc, nil), httpadapter.Options{}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFingerprintCommandReportsVM(t *testing.T) {
	out, err := runCLI(t, fakeHost{macs: []string{"08:00:27:00:00:01"}}, "fingerprint")
	require.NoError(t, err)
	assert.Contains(t, out, "device_hash: ")
	assert.Contains(t, out, "virtual_machine: true")
	assert.Contains(t, out, "hypervisor mac: 08:00:27:00:00:01")
}

func TestBindRequiresTool(t *testing.T) {
	t.Setenv("LICENSE_TOOL", "")
	_, err := runCLI(t, fakeHost{}, "bind", "--state", filepath.Join(t.TempDir(), "s.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool code is required")
}

func TestBindRefusesVirtualMachine(t *testing.T) {
	_, err := runCLI(t, fakeHost{macs: []string{"00:0C:29:00:00:01"}}, "bind", "--tool", "clicker", "--state", filepath.Join(t.TempDir(), "s.json"))
	require.ErrorIs(t, err, client.ErrVirtualMachine)
}

func TestBindUsesEnvironmentServer(t *testing.T) {
	t.Setenv("LICENSE_SERVER", licenseServer(t))
	t.Setenv("LICENSE_TOOL", "clicker")
	statePath := filepath.Join(t.TempDir(), "state.json")

	out, err := runCLI(t, fakeHost{macs: []string{"00:1A:2B:3C:4D:5E"}}, "bind", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "order_id: ")
	assert.Contains(t, out, "not enrolled yet")

	state, err := client.LoadState(statePath)
	require.NoError(t, err)
	assert.NotEmpty(t, state.OrderID())
}

func TestLoginRejectsUnknownMethod(t *testing.T) {
	_, err := runCLI(t, fakeHost{}, "login", "--tool", "clicker", "--method", "sms", "--state", filepath.Join(t.TempDir(), "s.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown method "sms"`)
}

func TestSendCodeRequiresEnrollment(t *testing.T) {
	server := licenseServer(t)
	_, err := runCLI(t, fakeHost{macs: []string{"00:1A:2B:3C:4D:5E"}}, "send-code",
		"--server", server, "--tool", "clicker", "--state", filepath.Join(t.TempDir(), "s.json"))
	require.ErrorIs(t, err, domain.ErrForbidden)
}
