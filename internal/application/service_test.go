package application

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	testTool  = "clicker"
	testEmail = "owner@example.com"
)

type sentEmail struct {
	to, subject, body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentEmail
	fail error
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

var codePattern = regexp.MustCompile(`code is ([A-Z0-9]{6})`)

func (r *recordingSender) lastCode(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if m := codePattern.FindStringSubmatch(r.sent[i].body); m != nil {
			return m[1]
		}
	}
	t.Fatal("no verification code was sent")
	return ""
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Service
	store  *memory.Store
	totp   *security.TOTP
	tokens *security.SessionTokens
	emails *recordingSender
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Tokens are verified against the wall clock, so the fake clock starts near it.
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), domain.Tool{Code: testTool, Name: "Top Utils Clicker"}))

	h := &harness{
		store:  store,
		totp:   security.NewTOTP(1),
		tokens: security.NewSessionTokens(0),
		emails: &recordingSender{},
		clock:  clock,
	}
	h.svc = NewService(Dependencies{
		Orders:   store,
		Tools:    store,
		Lockouts: memory.NewLockoutStore(clock.Now),
		TOTP:     h.totp,
		Codes:    security.NewBcryptHasher(4),
		Tokens:   h.tokens,
		Emails:   h.emails,
		Clock:    clock.Now,
	})
	return h
}

func (h *harness) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

// wrongCode returns a code that no step inside the skew window accepts.
func (h *harness) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := h.totp.CodeAt(secret, h.clock.Now().Add(offset))
		require.NoError(t, err)
		valid[code] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no unused candidate code")
	return ""
}

// enroll binds device and confirms TOTP with email, returning the order id and secret.
func (h *harness) enroll(t *testing.T, device, email string) (string, string) {
	t.Helper()
	ctx := context.Background()
	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: device})
	require.NoError(t, err)

	_, err = h.svc.SetupTOTP(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)
	order, err := h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)
	secret := order.PendingTOTPSecret

	_, err = h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: email, Code: h.code(t, secret)})
	require.NoError(t, err)
	return bound.OrderID, secret
}

func TestBindIsIdempotentPerDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)
	assert.Len(t, first.OrderID, 32)

	second, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	other, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-b"})
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, other.OrderID)

	_, err = h.svc.Bind(ctx, BindRequest{ToolCode: "unknown", DeviceHash: "dev-a"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Bind(ctx, BindRequest{ToolCode: testTool})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentBindCreatesOneOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ids := make([]string, 16)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			resp, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-race"})
			ids[i] = resp.OrderID
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestBindRejectsExpiredOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)
	_, err = h.svc.SubCheck(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	assert.ErrorIs(t, err, domain.ErrLicenseExpired)

	_, err = h.svc.IsValid(ctx, OrderIDRequest{OrderID: bound.OrderID})
	assert.ErrorIs(t, err, domain.ErrLicenseExpired)
	_, err = h.svc.SubCheck(ctx, OrderIDRequest{OrderID: bound.OrderID})
	assert.ErrorIs(t, err, domain.ErrLicenseExpired)
}

func TestIsValidTokenOmitsEmailFromKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	resp, err := h.svc.IsValid(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)

	order, err := h.store.GetByID(ctx, orderID)
	require.NoError(t, err)
	claims, err := h.tokens.Parse(resp.Token, domain.SessionKeyFor(order, false))
	require.NoError(t, err)
	assert.Equal(t, orderID, claims.OrderID)
	assert.Equal(t, "dev-a", claims.DeviceHash)

	_, err = h.tokens.Parse(resp.Token, domain.SessionKeyFor(order, true))
	assert.Error(t, err)

	_, err = h.svc.IsValid(ctx, OrderIDRequest{OrderID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubCheckStartsTrialOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)

	resp, err := h.svc.SubCheck(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)

	order, err := h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.ExpireTime)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), *order.ExpireTime)

	claims, err := h.tokens.Parse(resp.Token, domain.SessionKeyFor(order, true))
	require.NoError(t, err)
	require.NotNil(t, claims.RestTime)
	require.NotNil(t, claims.Reminder)
	assert.Equal(t, int64(300), *claims.RestTime)
	assert.True(t, *claims.Reminder)
	assert.Equal(t, *order.ExpireTime, claims.ExpiresAt)

	h.clock.Advance(2 * time.Minute)
	_, err = h.svc.SubCheck(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)
	again, err := h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)
	assert.Equal(t, *order.ExpireTime, *again.ExpireTime, "second heartbeat must not extend the trial")
}

func TestSubCheckOnSubscribedOrderHasNoReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	_, err := h.svc.ExtendSubscription(ctx, ExtendSubscriptionRequest{OrderID: orderID, ExpireTime: h.clock.Now().Add(30 * 24 * time.Hour)})
	require.NoError(t, err)

	resp, err := h.svc.SubCheck(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)
	order, err := h.store.GetByID(ctx, orderID)
	require.NoError(t, err)
	claims, err := h.tokens.Parse(resp.Token, domain.SessionKeyFor(order, true))
	require.NoError(t, err)
	assert.False(t, *claims.Reminder)
	assert.Equal(t, h.clock.Now().Add(time.Hour), claims.ExpiresAt)
}

func TestConfirmTOTPEnrollsAndRejectsReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)

	_, err = h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: testEmail, Code: "123456"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "confirm before setup")

	setup, err := h.svc.SetupTOTP(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)
	assert.Contains(t, setup.URI, "otpauth://totp/")
	assert.Contains(t, setup.URI, "issuer=Top")

	order, err := h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)
	secret := order.PendingTOTPSecret

	_, err = h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: testEmail, Code: h.code(t, secret), DeviceHash: "dev-b"})
	assert.ErrorIs(t, err, domain.ErrDeviceMismatch)

	_, err = h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: testEmail, Code: "000000"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	code := h.code(t, secret)
	resp, err := h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: " Owner@Example.com ", Code: code})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	order, err = h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)
	assert.True(t, order.TOTPEnabled)
	assert.Equal(t, testEmail, order.Email)
	assert.Equal(t, secret, order.TOTPSecret)
	assert.Empty(t, order.PendingTOTPSecret)

	_, err = h.svc.Login(ctx, LoginRequest{OrderID: bound.OrderID, Code: code, DeviceHash: "dev-a", CheckMethod: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "same code must not be accepted twice")

	h.clock.Advance(30 * time.Second)
	_, err = h.svc.Login(ctx, LoginRequest{OrderID: bound.OrderID, Code: h.code(t, secret), DeviceHash: "dev-a", CheckMethod: 1})
	require.NoError(t, err)

	h.emails.mu.Lock()
	defer h.emails.mu.Unlock()
	require.NotEmpty(t, h.emails.sent)
	assert.Equal(t, testEmail, h.emails.sent[0].to)
}

func TestEmailUniquePerTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "dev-a", testEmail)

	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-b"})
	require.NoError(t, err)
	_, err = h.svc.SetupTOTP(ctx, OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)
	order, err := h.store.GetByID(ctx, bound.OrderID)
	require.NoError(t, err)

	_, err = h.svc.ConfirmTOTP(ctx, ConfirmTOTPRequest{OrderID: bound.OrderID, Email: testEmail, Code: h.code(t, order.PendingTOTPSecret)})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestLoginRejectsOtherDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, secret := h.enroll(t, "dev-a", testEmail)

	h.clock.Advance(30 * time.Second)
	_, err := h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: h.code(t, secret), DeviceHash: "dev-b", CheckMethod: 1})
	assert.ErrorIs(t, err, domain.ErrDeviceMismatch)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)

	h.clock.Advance(30 * time.Second)
	wrong := h.wrongCode(t, secret)
	_, err = h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: wrong, DeviceHash: "dev-a", CheckMethod: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.NotErrorIs(t, err, domain.ErrDeviceMismatch)

	_, err = h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: "123456", DeviceHash: "dev-a", CheckMethod: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoginRequiresEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-a"})
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, LoginRequest{OrderID: bound.OrderID, Code: "123456", DeviceHash: "dev-a", CheckMethod: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: bound.OrderID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestEmailCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	msg, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.Equal(t, "verification code sent", msg.Message)
	code := h.emails.lastCode(t)

	resp, err := h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: strings.ToLower(code), DeviceHash: "dev-a", CheckMethod: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: code, DeviceHash: "dev-a", CheckMethod: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidEmailCode)
}

func TestEmailCodeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	_, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)
	code := h.emails.lastCode(t)

	h.clock.Advance(11 * time.Minute)
	_, err = h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: code, DeviceHash: "dev-a", CheckMethod: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidEmailCode)

	order, err := h.store.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, order.EmailCodeHash, "expired code is cleared")
}

func TestSendEmailCodeDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	h.emails.mu.Lock()
	h.emails.fail = errors.New("smtp down")
	h.emails.mu.Unlock()

	_, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestSendEmailCodeIsThrottled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	for i := 0; i < 4; i++ {
		_, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
		require.NoError(t, err)
	}
	_, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	h.clock.Advance(11 * time.Minute)
	_, err = h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	assert.NoError(t, err)
}

func TestRepeatedBadCodesLockOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, secret := h.enroll(t, "dev-a", testEmail)

	for i := 0; i < 5; i++ {
		_, err := h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: "000000", DeviceHash: "dev-a", CheckMethod: 1})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	h.clock.Advance(30 * time.Second)
	_, err := h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: h.code(t, secret), DeviceHash: "dev-a", CheckMethod: 1})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	h.clock.Advance(15 * time.Minute)
	_, err = h.svc.Login(ctx, LoginRequest{OrderID: orderID, Code: h.code(t, secret), DeviceHash: "dev-a", CheckMethod: 1})
	assert.NoError(t, err)
}

func TestCheckOrderExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	fresh, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-b"})
	require.NoError(t, err)

	resp, err := h.svc.CheckOrderExists(ctx, CheckOrderExistRequest{
		Email: "nobody@example.com", ToolCode: testTool, CurrentOrderID: fresh.OrderID, CurrentDeviceHash: "dev-b",
	})
	require.NoError(t, err)
	assert.Equal(t, CheckStatusOK, resp.Status)
	assert.Nil(t, resp.ExistingOrderID)

	resp, err = h.svc.CheckOrderExists(ctx, CheckOrderExistRequest{
		Email: testEmail, ToolCode: testTool, CurrentOrderID: fresh.OrderID, CurrentDeviceHash: "dev-b",
	})
	require.NoError(t, err)
	assert.Equal(t, CheckStatusRebindRequired, resp.Status)
	require.NotNil(t, resp.ExistingOrderID)
	assert.Equal(t, orderID, *resp.ExistingOrderID)

	resp, err = h.svc.CheckOrderExists(ctx, CheckOrderExistRequest{
		Email: testEmail, ToolCode: testTool, CurrentOrderID: orderID, CurrentDeviceHash: "dev-a",
	})
	require.NoError(t, err)
	assert.Equal(t, CheckStatusLoginRequired, resp.Status)

	_, err = h.svc.CheckOrderExists(ctx, CheckOrderExistRequest{
		Email: testEmail, ToolCode: testTool, CurrentOrderID: fresh.OrderID, CurrentDeviceHash: "dev-z",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRebindMovesOrderAndEnforcesCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, secret := h.enroll(t, "dev-a", testEmail)

	speculative, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-b"})
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	resp, err := h.svc.Rebind(ctx, RebindRequest{
		Email: testEmail, ToolCode: testTool, Code: h.code(t, secret), CheckMethod: 1, DeviceHash: "dev-b",
	})
	require.NoError(t, err)

	order, err := h.store.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "dev-b", order.DeviceHash)
	require.NotNil(t, order.LastRebindTime)
	_, err = h.tokens.Parse(resp.Token, domain.SessionKeyFor(order, true))
	require.NoError(t, err)

	_, err = h.store.GetByID(ctx, speculative.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "speculative order on the new device is dropped")

	bound, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-b"})
	require.NoError(t, err)
	assert.Equal(t, orderID, bound.OrderID)

	h.clock.Advance(30 * time.Second)
	_, err = h.svc.Rebind(ctx, RebindRequest{
		Email: testEmail, ToolCode: testTool, Code: h.code(t, secret), CheckMethod: 1, DeviceHash: "dev-c",
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	third, err := h.svc.Bind(ctx, BindRequest{ToolCode: testTool, DeviceHash: "dev-c"})
	require.NoError(t, err)
	_, err = h.svc.CheckOrderExists(ctx, CheckOrderExistRequest{
		Email: testEmail, ToolCode: testTool, CurrentOrderID: third.OrderID, CurrentDeviceHash: "dev-c",
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	h.clock.Advance(24 * time.Hour)
	_, err = h.svc.Rebind(ctx, RebindRequest{
		Email: testEmail, ToolCode: testTool, Code: h.code(t, secret), CheckMethod: 1, DeviceHash: "dev-c",
	})
	require.NoError(t, err)

	var rebinds int
	for _, rec := range h.store.Outbox().Records() {
		if rec.EventType == domain.EventOrderRebound {
			rebinds++
		}
	}
	assert.Equal(t, 2, rebinds)
}

func TestRebindSameDeviceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, secret := h.enroll(t, "dev-a", testEmail)

	h.clock.Advance(30 * time.Second)
	_, err := h.svc.Rebind(ctx, RebindRequest{
		Email: testEmail, ToolCode: testTool, Code: h.code(t, secret), CheckMethod: 1, DeviceHash: "dev-a",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.svc.Rebind(ctx, RebindRequest{
		Email: "nobody@example.com", ToolCode: testTool, Code: "123456", CheckMethod: 1, DeviceHash: "dev-b",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentRebindSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	_, err := h.svc.SendEmailCode(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)
	code := h.emails.lastCode(t)

	devices := []string{"dev-b", "dev-c", "dev-d", "dev-e"}
	results := make([]error, len(devices))
	var wg sync.WaitGroup
	for i, device := range devices {
		i, device := i, device
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = h.svc.Rebind(ctx, RebindRequest{
				Email: testEmail, ToolCode: testTool, Code: code, CheckMethod: 2, DeviceHash: device,
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestVerifySessionTokenAndExtendSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, _ := h.enroll(t, "dev-a", testEmail)

	valid, err := h.svc.IsValid(ctx, OrderIDRequest{OrderID: orderID})
	require.NoError(t, err)
	claims, err := h.svc.VerifySessionToken(ctx, orderID, valid.Token)
	require.NoError(t, err)
	assert.Equal(t, orderID, claims.OrderID)

	_, err = h.svc.VerifySessionToken(ctx, orderID, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.ExtendSubscription(ctx, ExtendSubscriptionRequest{OrderID: orderID, ExpireTime: h.clock.Now().Add(-time.Minute)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	until := h.clock.Now().Add(90 * 24 * time.Hour)
	status, err := h.svc.ExtendSubscription(ctx, ExtendSubscriptionRequest{OrderID: orderID, ExpireTime: until})
	require.NoError(t, err)
	assert.Equal(t, "subscribed", status.PaidStatus)
	assert.True(t, status.Active)

	got, err := h.svc.GetOrderStatus(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, until, *got.ExpireTime)
	assert.True(t, got.TOTPEnabled)
}
