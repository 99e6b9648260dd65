// Package client drives the licensed-client protocol: host checks, binding,
// second-factor flows and the heartbeat that gates a feature.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/api"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/fingerprint"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/heartbeat"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/vmcheck"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

var (
	// ErrVirtualMachine blocks binding on hosts that look virtualized.
	ErrVirtualMachine = errors.New("running inside a virtual machine is not supported")
	ErrNotPrepared    = errors.New("session has no device fingerprint; call Prepare first")
	ErrNoOrder        = errors.New("no order bound on this device; run bind first")
)

// Host answers both the fingerprint and the anti-VM queries.
type Host interface {
	fingerprint.Source
	vmcheck.Source
}

// Session is the process-owned client context.
type Session struct {
	api      *api.Client
	host     Host
	state    *State
	tokens   *security.SessionTokens
	toolCode string
	logger   *slog.Logger

	deviceHash string
}

func NewSession(apiClient *api.Client, host Host, state *State, toolCode string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:      apiClient,
		host:     host,
		state:    state,
		tokens:   security.NewSessionTokens(0),
		toolCode: toolCode,
		logger:   logger,
	}
}

// Prepare runs the anti-VM check and the fingerprint concurrently.
func (s *Session) Prepare(ctx context.Context) error {
	var (
		evidence vmcheck.Evidence
		hash     string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		evidence = vmcheck.Inspect(gctx, s.host)
		return nil
	})
	g.Go(func() error {
		hash = fingerprint.Fingerprint(gctx, s.host)
		return nil
	})
	_ = g.Wait()

	if evidence.Virtual() {
		s.logger.WarnContext(ctx, "virtual machine detected",
			"module", "client.session",
			"layer", "client",
			"operation", "prepare",
			"outcome", "rejected",
			"mac", evidence.MAC,
			"keyword", evidence.Keyword,
		)
		return ErrVirtualMachine
	}
	s.deviceHash = hash
	return nil
}

func (s *Session) DeviceHash() string { return s.deviceHash }

func (s *Session) OrderID() string { return s.state.OrderID() }

func (s *Session) Email() string { return s.state.Email() }

// Bind looks up or creates the order for this device and validates it. The
// returned claims carry the enrolled email, if any.
func (s *Session) Bind(ctx context.Context) (ports.SessionClaims, error) {
	if s.deviceHash == "" {
		return ports.SessionClaims{}, ErrNotPrepared
	}
	orderID, err := s.api.Bind(ctx, s.toolCode, s.deviceHash)
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("bind: %w", err)
	}
	token, err := s.api.IsValid(ctx, orderID)
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("is-valid: %w", err)
	}
	claims, err := s.decode(token, orderID, "", false)
	if err != nil {
		return ports.SessionClaims{}, err
	}
	if err := s.state.Save(orderID, claims.Email); err != nil {
		return ports.SessionClaims{}, err
	}
	return claims, nil
}

// CheckExisting asks whether email already owns a license for this tool.
func (s *Session) CheckExisting(ctx context.Context, email string) (api.CheckOrderResult, error) {
	orderID, err := s.requireOrder()
	if err != nil {
		return api.CheckOrderResult{}, err
	}
	return s.api.CheckOrderExists(ctx, api.CheckOrderRequest{
		Email:             normalizeEmail(email),
		ToolCode:          s.toolCode,
		CurrentOrderID:    orderID,
		CurrentDeviceHash: s.deviceHash,
	})
}

// SetupTOTP returns the provisioning URI for an authenticator app.
func (s *Session) SetupTOTP(ctx context.Context) (string, error) {
	orderID, err := s.requireOrder()
	if err != nil {
		return "", err
	}
	return s.api.SetupTOTP(ctx, orderID)
}

func (s *Session) ConfirmTOTP(ctx context.Context, email, code string) (ports.SessionClaims, error) {
	orderID, err := s.requireOrder()
	if err != nil {
		return ports.SessionClaims{}, err
	}
	email = normalizeEmail(email)
	token, err := s.api.ConfirmTOTP(ctx, api.ConfirmTOTPRequest{OrderID: orderID, Email: email, Code: code, DeviceHash: s.deviceHash})
	if err != nil {
		return ports.SessionClaims{}, err
	}
	return s.accept(token, orderID, email)
}

func (s *Session) SendEmailCode(ctx context.Context) (string, error) {
	orderID, err := s.requireOrder()
	if err != nil {
		return "", err
	}
	return s.api.SendEmailCode(ctx, orderID)
}

// Login verifies a second factor. domain.ErrDeviceMismatch means the order is
// bound elsewhere and the rebind flow applies.
func (s *Session) Login(ctx context.Context, code string, method domain.CheckMethod) (ports.SessionClaims, error) {
	orderID, err := s.requireOrder()
	if err != nil {
		return ports.SessionClaims{}, err
	}
	token, err := s.api.Login(ctx, api.LoginRequest{OrderID: orderID, Code: code, DeviceHash: s.deviceHash, CheckMethod: method})
	if err != nil {
		return ports.SessionClaims{}, err
	}
	return s.accept(token, orderID, s.state.Email())
}

// Rebind moves the license owned by email onto this device.
func (s *Session) Rebind(ctx context.Context, email, code string, method domain.CheckMethod) (ports.SessionClaims, error) {
	if s.deviceHash == "" {
		return ports.SessionClaims{}, ErrNotPrepared
	}
	email = normalizeEmail(email)
	token, err := s.api.Rebind(ctx, api.RebindRequest{
		Email:       email,
		ToolCode:    s.toolCode,
		Code:        code,
		CheckMethod: method,
		DeviceHash:  s.deviceHash,
	})
	if err != nil {
		return ports.SessionClaims{}, err
	}
	// The token names the moved order; trust it only after it verifies
	// against a key derived from that order id.
	unverified, err := peekOrderID(token)
	if err != nil {
		return ports.SessionClaims{}, err
	}
	return s.accept(token, unverified, email)
}

// Decode verifies a heartbeat token for the current order.
func (s *Session) Decode(token string) (ports.SessionClaims, error) {
	return s.decode(token, s.state.OrderID(), s.state.Email(), true)
}

// Heartbeat builds the re-validation loop for this session.
func (s *Session) Heartbeat(gate heartbeat.Gate, cfg heartbeat.Config) *heartbeat.Heartbeat {
	return heartbeat.New(s.api, s, gate, cfg, s.logger)
}

func (s *Session) accept(token, orderID, email string) (ports.SessionClaims, error) {
	claims, err := s.decode(token, orderID, email, true)
	if err != nil {
		return ports.SessionClaims{}, err
	}
	if err := s.state.Save(orderID, claims.Email); err != nil {
		return ports.SessionClaims{}, err
	}
	return claims, nil
}

func (s *Session) decode(token, orderID, email string, withEmail bool) (ports.SessionClaims, error) {
	key := domain.SessionKey(s.toolCode, s.deviceHash, orderID, email, withEmail)
	claims, err := s.tokens.Parse(token, key)
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("verify session token: %w", err)
	}
	if claims.OrderID != orderID || claims.DeviceHash != s.deviceHash {
		return ports.SessionClaims{}, fmt.Errorf("verify session token: claims do not match this session")
	}
	return claims, nil
}

func (s *Session) requireOrder() (string, error) {
	if s.deviceHash == "" {
		return "", ErrNotPrepared
	}
	orderID := s.state.OrderID()
	if orderID == "" {
		return "", ErrNoOrder
	}
	return orderID, nil
}

// normalizeEmail matches the server's canonical form, which is part of the
// session key.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func peekOrderID(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("read rebind token: %w", err)
	}
	orderID, _ := claims["order_id"].(string)
	if orderID == "" {
		return "", errors.New("rebind token carries no order_id")
	}
	return orderID, nil
}
