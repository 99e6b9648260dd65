package domain

import "strings"

// SessionKey derives the signing key of a session token from the identifiers
// the token carries: tool, device, order and, when withEmail is set, email.
// A verifier rebuilds it from the order it looked up, so a token never
// validates against a different order, device or tool.
func SessionKey(toolCode, deviceHash, orderID, email string, withEmail bool) []byte {
	parts := []string{toolCode, deviceHash, orderID}
	if withEmail {
		parts = append(parts, email)
	}
	return []byte(strings.Join(parts, "_"))
}

// SessionKeyFor is SessionKey applied to a stored order.
func SessionKeyFor(o Order, withEmail bool) []byte {
	return SessionKey(o.ToolCode, o.DeviceHash, o.OrderID, o.Email, withEmail)
}
