package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/api"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/fingerprint"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/heartbeat"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/vmcheck"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func (a *app) fingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this device's hash and anti-VM evidence.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device_hash: %s\n", fingerprint.Fingerprint(ctx, a.host))
			ev := vmcheck.Inspect(ctx, a.host)
			fmt.Fprintf(out, "virtual_machine: %t\n", ev.Virtual())
			if ev.MAC != "" {
				fmt.Fprintf(out, "  hypervisor mac: %s\n", ev.MAC)
			}
			if ev.Keyword != "" {
				fmt.Fprintf(out, "  vendor keyword: %s\n", ev.Keyword)
			}
			return nil
		},
	}
}

func (a *app) bindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bind",
		Short: "Bind this device and show the license status.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			claims, err := s.Bind(cmd.Context())
			if err != nil {
				return err
			}
			printClaims(cmd.OutOrStdout(), claims)
			if claims.Email == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "not enrolled yet; run `enroll --email you@example.com`")
			}
			return nil
		},
	}
}

func (a *app) enrollCommand() *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Attach an email and an authenticator app to this device's license.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			claims, err := s.Bind(ctx)
			if err != nil {
				return err
			}
			if claims.Email != "" {
				fmt.Fprintf(out, "already enrolled as %s; use `login`\n", claims.Email)
				return nil
			}

			existing, err := s.CheckExisting(ctx, email)
			if err != nil {
				return err
			}
			switch existing.Status {
			case api.CheckStatusRebindRequired:
				fmt.Fprintf(out, "%s already owns order %s on another device; run `rebind --email %s`\n", email, deref(existing.ExistingOrderID), email)
				return nil
			case api.CheckStatusLoginRequired:
				fmt.Fprintf(out, "%s is already enrolled on this device; use `login`\n", email)
				return nil
			}

			uri, err := s.SetupTOTP(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "add this key to your authenticator app:\n%s\n", uri)
			if code == "" {
				if code, err = prompt(cmd, "6-digit code: "); err != nil {
					return err
				}
			}
			claims, err = s.ConfirmTOTP(ctx, email, code)
			if err != nil {
				return err
			}
			printClaims(out, claims)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to enroll")
	cmd.Flags().StringVar(&code, "code", "", "authenticator code (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) sendCodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send-code",
		Short: "Email a one-time login code for this device's license.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := s.Bind(cmd.Context()); err != nil {
				return err
			}
			msg, err := s.SendEmailCode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

// authFlags are shared by the commands that present a second factor.
type authFlags struct {
	code   string
	method string
}

func (f *authFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.code, "code", "", "verification code (prompted when empty)")
	cmd.Flags().StringVar(&f.method, "method", "totp", "second factor: totp or email")
}

func (f *authFlags) checkMethod() (domain.CheckMethod, error) {
	switch strings.ToLower(f.method) {
	case "totp", "1":
		return domain.CheckMethodTOTP, nil
	case "email", "2":
		return domain.CheckMethodEmail, nil
	default:
		return 0, fmt.Errorf("unknown method %q (want totp or email)", f.method)
	}
}

func (a *app) login(cmd *cobra.Command, f *authFlags) (*client.Session, ports.SessionClaims, error) {
	ctx := cmd.Context()
	method, err := f.checkMethod()
	if err != nil {
		return nil, ports.SessionClaims{}, err
	}
	s, err := a.session(ctx)
	if err != nil {
		return nil, ports.SessionClaims{}, err
	}
	if _, err := s.Bind(ctx); err != nil {
		return nil, ports.SessionClaims{}, err
	}
	code := f.code
	if code == "" {
		if method == domain.CheckMethodEmail {
			if _, err := s.SendEmailCode(ctx); err != nil {
				return nil, ports.SessionClaims{}, err
			}
		}
		if code, err = prompt(cmd, method.String()+" code: "); err != nil {
			return nil, ports.SessionClaims{}, err
		}
	}
	claims, err := s.Login(ctx, code, method)
	if errors.Is(err, domain.ErrDeviceMismatch) {
		return nil, ports.SessionClaims{}, fmt.Errorf("%w: this license is bound to another device; run `rebind`", err)
	}
	if err != nil {
		return nil, ports.SessionClaims{}, err
	}
	return s, claims, nil
}

func (a *app) loginCommand() *cobra.Command {
	var f authFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify a second factor for this device.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, claims, err := a.login(cmd, &f)
			if err != nil {
				return err
			}
			printClaims(cmd.OutOrStdout(), claims)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) rebindCommand() *cobra.Command {
	var f authFlags
	var email string
	cmd := &cobra.Command{
		Use:   "rebind",
		Short: "Move the license owned by an email onto this device.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			method, err := f.checkMethod()
			if err != nil {
				return err
			}
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			if _, err := s.Bind(ctx); err != nil {
				return err
			}
			code := f.code
			if code == "" {
				if code, err = prompt(cmd, method.String()+" code for "+email+": "); err != nil {
					return err
				}
			}
			claims, err := s.Rebind(ctx, email, code, method)
			if err != nil {
				return err
			}
			printClaims(cmd.OutOrStdout(), claims)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&email, "email", "", "email that owns the license")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) runCommand() *cobra.Command {
	var f authFlags
	var cfg heartbeat.Config
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in and keep the licensed feature running while heartbeats succeed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.login(cmd, &f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gate := &consoleGate{out: cmd.OutOrStdout()}
			hb := s.Heartbeat(gate, cfg)
			fmt.Fprintln(cmd.OutOrStdout(), "feature started")
			hb.Start(ctx, s.OrderID())
			select {
			case <-ctx.Done():
				hb.Stop()
				fmt.Fprintln(cmd.OutOrStdout(), "feature stopped")
				return nil
			case <-hb.Done():
				return gate.reason()
			}
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&cfg.MaxInterval, "max-interval", 15*time.Minute, "longest wait between heartbeats")
	cmd.Flags().DurationVar(&cfg.RetryInterval, "retry-interval", 30*time.Second, "wait after a failed heartbeat")
	cmd.Flags().IntVar(&cfg.MaxFailures, "max-failures", 3, "consecutive failures before the feature stops")
	return cmd
}

// consoleGate stands in for the licensed feature.
type consoleGate struct {
	out     io.Writer
	stopped error
}

func (g *consoleGate) Refresh(status heartbeat.Status) {
	if status.ExpireTime == nil {
		fmt.Fprintln(g.out, "license refreshed: no expiry")
		return
	}
	fmt.Fprintf(g.out, "license refreshed: %s remaining\n", status.Remaining.Round(time.Second))
	if status.Reminder {
		fmt.Fprintln(g.out, "reminder: the license expires soon; renew to keep the feature running")
	}
}

func (g *consoleGate) ForceStop(reason error) {
	g.stopped = reason
	fmt.Fprintf(g.out, "feature stopped: %v\n", reason)
}

func (g *consoleGate) reason() error {
	if g.stopped == nil {
		return errors.New("heartbeat stopped")
	}
	return g.stopped
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printClaims(out io.Writer, claims ports.SessionClaims) {
	fmt.Fprintf(out, "order_id: %s\n", claims.OrderID)
	if claims.Email != "" {
		fmt.Fprintf(out, "email: %s\n", claims.Email)
	}
	if claims.ExpireTime != nil {
		fmt.Fprintf(out, "expires: %s\n", claims.ExpireTime.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "expires: trial starts on first heartbeat")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ heartbeat.Gate = (*consoleGate)(nil)
