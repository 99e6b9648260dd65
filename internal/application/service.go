package application

import (
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type Service struct {
	cfg      Config
	orders   ports.OrderRepository
	tools    ports.ToolRepository
	lockouts ports.LockoutStore
	totp     ports.TOTPProvider
	codes    ports.CodeHasher
	tokens   ports.SessionTokenSigner
	emails   ports.EmailSender
	nowFn    func() time.Time
}

type Dependencies struct {
	Config   Config
	Orders   ports.OrderRepository
	Tools    ports.ToolRepository
	Lockouts ports.LockoutStore
	TOTP     ports.TOTPProvider
	Codes    ports.CodeHasher
	Tokens   ports.SessionTokenSigner
	Emails   ports.EmailSender
	// Clock overrides the wall clock. Nil means time.Now in UTC.
	Clock func() time.Time
}

func NewService(deps Dependencies) *Service {
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:      withDefaults(deps.Config),
		orders:   deps.Orders,
		tools:    deps.Tools,
		lockouts: deps.Lockouts,
		totp:     deps.TOTP,
		codes:    deps.Codes,
		tokens:   deps.Tokens,
		emails:   deps.Emails,
		nowFn:    nowFn,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TrialGrace <= 0 {
		cfg.TrialGrace = 5 * time.Minute
	}
	if cfg.ReminderThreshold <= 0 {
		cfg.ReminderThreshold = 5 * time.Minute
	}
	if cfg.RebindCooldown <= 0 {
		cfg.RebindCooldown = 24 * time.Hour
	}
	if cfg.EmailCodeTTL <= 0 {
		cfg.EmailCodeTTL = 10 * time.Minute
	}
	if cfg.CodeFailureThreshold <= 0 {
		cfg.CodeFailureThreshold = 5
	}
	if cfg.CodeLockoutDuration <= 0 {
		cfg.CodeLockoutDuration = 15 * time.Minute
	}
	if cfg.EmailCodeSendThreshold <= 0 {
		cfg.EmailCodeSendThreshold = 5
	}
	if cfg.EmailCodeSendWindow <= 0 {
		cfg.EmailCodeSendWindow = 10 * time.Minute
	}
	return cfg
}
