package domain

import "fmt"

// CheckMethod selects which second factor a verification call uses.
type CheckMethod int

const (
	CheckMethodTOTP  CheckMethod = 1
	CheckMethodEmail CheckMethod = 2
)

// ParseCheckMethod validates the wire discriminator.
func ParseCheckMethod(raw int) (CheckMethod, error) {
	switch CheckMethod(raw) {
	case CheckMethodTOTP, CheckMethodEmail:
		return CheckMethod(raw), nil
	default:
		return 0, fmt.Errorf("%w: unsupported check_method %d", ErrInvalidInput, raw)
	}
}

func (m CheckMethod) String() string {
	switch m {
	case CheckMethodTOTP:
		return "totp"
	case CheckMethodEmail:
		return "email"
	default:
		return fmt.Sprintf("check_method(%d)", int(m))
	}
}
