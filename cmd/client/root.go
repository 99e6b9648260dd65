package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/api"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/hostinfo"
)

// app carries resolved settings shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
	host   client.Host
}

// newRootCommand builds the CLI. A nil host probes the real machine.
func newRootCommand(host client.Host) *cobra.Command {
	a := &app{v: viper.New(), host: host}
	root := &cobra.Command{
		Use:          "license-client",
		Short:        "Device-bound license client.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "optional config file (yaml, json or toml)")
	flags.String("server", "http://127.0.0.1:8080", "license server base URL")
	flags.String("tool", "", "tool code this client is licensed for")
	flags.String("state", defaultStatePath(), "path of the persisted client state")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix("LICENSE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.fingerprintCommand(),
		a.bindCommand(),
		a.enrollCommand(),
		a.sendCodeCommand(),
		a.loginCommand(),
		a.rebindCommand(),
		a.runCommand(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	if a.host == nil {
		a.host = hostinfo.NewProbe(a.logger)
	}
	return nil
}

// session loads state and runs the host checks every licensed command needs.
func (a *app) session(ctx context.Context) (*client.Session, error) {
	tool := strings.TrimSpace(a.v.GetString("tool"))
	if tool == "" {
		return nil, errors.New("tool code is required (--tool or LICENSE_TOOL)")
	}
	state, err := client.LoadState(a.v.GetString("state"))
	if err != nil {
		return nil, err
	}
	s := client.NewSession(api.New(a.v.GetString("server")), a.host, state, tool, a.logger)
	if err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "license-state.json"
	}
	return filepath.Join(dir, "m91-license", "state.json")
}
