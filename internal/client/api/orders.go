package api

import (
	"context"
	"errors"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// Check-order-exist outcomes.
const (
	CheckStatusOK             = "ok"
	CheckStatusRebindRequired = "rebind_required"
	CheckStatusLoginRequired  = "login_required"
)

type ConfirmTOTPRequest struct {
	OrderID    string `json:"order_id"`
	Email      string `json:"email"`
	Code       string `json:"code"`
	DeviceHash string `json:"device_hash,omitempty"`
}

type LoginRequest struct {
	OrderID     string             `json:"order_id"`
	Code        string             `json:"code"`
	DeviceHash  string             `json:"device_hash"`
	CheckMethod domain.CheckMethod `json:"check_method"`
}

type RebindRequest struct {
	Email       string             `json:"email"`
	ToolCode    string             `json:"tool_code"`
	Code        string             `json:"code"`
	CheckMethod domain.CheckMethod `json:"check_method"`
	DeviceHash  string             `json:"device_hash"`
}

type CheckOrderRequest struct {
	Email             string `json:"email"`
	ToolCode          string `json:"tool_code"`
	CurrentOrderID    string `json:"current_order_id"`
	CurrentDeviceHash string `json:"current_device_hash"`
}

type CheckOrderResult struct {
	Status          string  `json:"status"`
	ExistingOrderID *string `json:"existing_order_id"`
}

type orderIDBody struct {
	OrderID string `json:"order_id"`
}

type tokenData struct {
	Token string `json:"token"`
}

var errEmptyToken = errors.New("license server returned an empty token")

func (c *Client) token(ctx context.Context, path string, body any) (string, error) {
	var out tokenData
	if err := c.post(ctx, path, body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errEmptyToken
	}
	return out.Token, nil
}

// Bind returns the order bound to (tool, device), creating it on first use.
func (c *Client) Bind(ctx context.Context, toolCode, deviceHash string) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	body := struct {
		ToolCode   string `json:"tool_code"`
		DeviceHash string `json:"device_hash"`
	}{toolCode, deviceHash}
	if err := c.post(ctx, "/order/bind", body, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func (c *Client) IsValid(ctx context.Context, orderID string) (string, error) {
	return c.token(ctx, "/order/is-valid", orderIDBody{orderID})
}

func (c *Client) SubCheck(ctx context.Context, orderID string) (string, error) {
	return c.token(ctx, "/order/sub-check", orderIDBody{orderID})
}

// SetupTOTP returns the otpauth:// provisioning URI.
func (c *Client) SetupTOTP(ctx context.Context, orderID string) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	if err := c.post(ctx, "/order/auth/setup-totp", orderIDBody{orderID}, &out); err != nil {
		return "", err
	}
	return out.URI, nil
}

func (c *Client) ConfirmTOTP(ctx context.Context, req ConfirmTOTPRequest) (string, error) {
	return c.token(ctx, "/order/auth/confirm-totp", req)
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	return c.token(ctx, "/order/auth/login", req)
}

func (c *Client) SendEmailCode(ctx context.Context, orderID string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/order/auth/send-email-code", orderIDBody{orderID}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) Rebind(ctx context.Context, req RebindRequest) (string, error) {
	return c.token(ctx, "/order/auth/rebind", req)
}

func (c *Client) CheckOrderExists(ctx context.Context, req CheckOrderRequest) (CheckOrderResult, error) {
	var out CheckOrderResult
	if err := c.post(ctx, "/order/check-order-exist", req, &out); err != nil {
		return CheckOrderResult{}, err
	}
	return out, nil
}
