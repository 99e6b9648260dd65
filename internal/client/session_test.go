package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/api"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

const toolCode = "clicker"

type fakeHost struct {
	board   string
	macs    []string
	vendors []string
}

func (h fakeHost) BoardSerial(context.Context) string     { return h.board }
func (h fakeHost) CPUID(context.Context) string           { return "cpu" }
func (h fakeHost) MACs(context.Context) []string          { return h.macs }
func (h fakeHost) VendorStrings(context.Context) []string { return h.vendors }

var codePattern = regexp.MustCompile(`code is ([A-Z0-9]{6})`)

type capturingSender struct {
	mu   sync.Mutex
	last string
}

func (c *capturingSender) Send(_ context.Context, _, _, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := codePattern.FindStringSubmatch(body); m != nil {
		c.last = m[1]
	}
	return nil
}

func (c *capturingSender) code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fixture struct {
	url    string
	store  *memory.Store
	totp   *security.TOTP
	emails *capturingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), domain.Tool{Code: toolCode, Name: "Clicker"}))
	f := &fixture{store: store, totp: security.NewTOTP(1), emails: &capturingSender{}}
	svc := application.NewService(application.Dependencies{
		Orders:   store,
		Tools:    store,
		Lockouts: memory.NewLockoutStore(nil),
		TOTP:     f.totp,
		Codes:    security.NewBcryptHasher(4),
		Tokens:   security.NewSessionTokens(0),
		Emails:   f.emails,
	})
	srv := httptest.NewServer(httpadapter.NewRouter(httpadapter.NewHandler(svc, nil), httpadapter.Options{}))
	t.Cleanup(srv.Close)
	f.url = srv.URL
	return f
}

func (f *fixture) session(t *testing.T, host Host) *Session {
	t.Helper()
	state, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return NewSession(api.New(f.url), host, state, toolCode, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := f.totp.CodeAt(secret, at)
	require.NoError(t, err)
	return code
}

var (
	hostA = fakeHost{board: "board-a", macs: []string{"00:1A:2B:3C:4D:5E"}, vendors: []string{"dell inc."}}
	hostB = fakeHost{board: "board-b", macs: []string{"00:1A:2B:3C:4D:5F"}, vendors: []string{"lenovo"}}
)

func TestPrepareRejectsVirtualMachine(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, fakeHost{board: "vm", macs: []string{"08:00:27:00:00:01"}})

	require.ErrorIs(t, s.Prepare(context.Background()), ErrVirtualMachine)
	assert.Empty(t, s.DeviceHash())

	_, err := s.Bind(context.Background())
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestEnrollLoginAndHeartbeatDecode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t, hostA)
	require.NoError(t, s.Prepare(ctx))
	assert.Len(t, s.DeviceHash(), 64)

	claims, err := s.Bind(ctx)
	require.NoError(t, err)
	assert.Empty(t, claims.Email)
	orderID := s.OrderID()
	require.NotEmpty(t, orderID)

	uri, err := s.SetupTOTP(ctx)
	require.NoError(t, err)
	assert.Contains(t, uri, "otpauth://")

	order, err := f.store.GetByID(ctx, orderID)
	require.NoError(t, err)
	claims, err = s.ConfirmTOTP(ctx, " Owner@Example.com ", f.totpCode(t, order.PendingTOTPSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", claims.Email)

	reloaded, err := LoadState(s.state.path)
	require.NoError(t, err)
	assert.Equal(t, orderID, reloaded.OrderID())
	assert.Equal(t, "owner@example.com", reloaded.Email())

	_, err = s.SendEmailCode(ctx)
	require.NoError(t, err)
	claims, err = s.Login(ctx, f.emails.code(), domain.CheckMethodEmail)
	require.NoError(t, err)
	assert.Equal(t, orderID, claims.OrderID)

	token, err := api.New(f.url).SubCheck(ctx, orderID)
	require.NoError(t, err)
	hbClaims, err := s.Decode(token)
	require.NoError(t, err)
	require.NotNil(t, hbClaims.RestTime)
	assert.NotNil(t, hbClaims.ExpireTime)
}

func TestRebindMovesLicenseToNewDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.session(t, hostA)
	require.NoError(t, first.Prepare(ctx))
	_, err := first.Bind(ctx)
	require.NoError(t, err)
	_, err = first.SetupTOTP(ctx)
	require.NoError(t, err)
	order, err := f.store.GetByID(ctx, first.OrderID())
	require.NoError(t, err)
	now := time.Now()
	_, err = first.ConfirmTOTP(ctx, "owner@example.com", f.totpCode(t, order.PendingTOTPSecret, now))
	require.NoError(t, err)

	second := f.session(t, hostB)
	require.NoError(t, second.Prepare(ctx))
	_, err = second.Bind(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID(), second.OrderID())

	res, err := second.CheckExisting(ctx, "Owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, api.CheckStatusRebindRequired, res.Status)
	require.NotNil(t, res.ExistingOrderID)
	assert.Equal(t, first.OrderID(), *res.ExistingOrderID)

	order, err = f.store.GetByID(ctx, first.OrderID())
	require.NoError(t, err)
	claims, err := second.Rebind(ctx, "owner@example.com", f.totpCode(t, order.TOTPSecret, now.Add(30*time.Second)), domain.CheckMethodTOTP)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID(), claims.OrderID)
	assert.Equal(t, second.DeviceHash(), claims.DeviceHash)
	assert.Equal(t, first.OrderID(), second.OrderID())
	assert.Equal(t, "owner@example.com", second.Email())

	_, err = first.SendEmailCode(ctx)
	require.NoError(t, err)
	_, err = first.Login(ctx, f.emails.code(), domain.CheckMethodEmail)
	assert.ErrorIs(t, err, domain.ErrDeviceMismatch)
}

func TestOldDeviceRebindsFreshTrialAfterLicenseMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.session(t, hostA)
	require.NoError(t, first.Prepare(ctx))
	_, err := first.Bind(ctx)
	require.NoError(t, err)
	_, err = first.SetupTOTP(ctx)
	require.NoError(t, err)
	order, err := f.store.GetByID(ctx, first.OrderID())
	require.NoError(t, err)
	now := time.Now()
	_, err = first.ConfirmTOTP(ctx, "owner@example.com", f.totpCode(t, order.PendingTOTPSecret, now))
	require.NoError(t, err)
	movedID := first.OrderID()
	require.Equal(t, "owner@example.com", first.Email())

	second := f.session(t, hostB)
	require.NoError(t, second.Prepare(ctx))
	_, err = second.Bind(ctx)
	require.NoError(t, err)
	order, err = f.store.GetByID(ctx, movedID)
	require.NoError(t, err)
	_, err = second.Rebind(ctx, "owner@example.com", f.totpCode(t, order.TOTPSecret, now.Add(30*time.Second)), domain.CheckMethodTOTP)
	require.NoError(t, err)

	claims, err := first.Bind(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, movedID, claims.OrderID)
	assert.Empty(t, claims.Email)
	assert.Empty(t, first.Email())

	reloaded, err := LoadState(first.state.path)
	require.NoError(t, err)
	assert.Equal(t, claims.OrderID, reloaded.OrderID())
	assert.Empty(t, reloaded.Email())

	token, err := api.New(f.url).SubCheck(ctx, first.OrderID())
	require.NoError(t, err)
	hbClaims, err := first.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, claims.OrderID, hbClaims.OrderID)
}

func TestSessionRequiresOrder(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, hostA)
	require.NoError(t, s.Prepare(context.Background()))

	_, err := s.SetupTOTP(context.Background())
	assert.ErrorIs(t, err, ErrNoOrder)
}

func TestPeekOrderID(t *testing.T) {
	t.Parallel()
	_, err := peekOrderID("not-a-jwt")
	assert.Error(t, err)
}
