// Package hostinfo reads the hardware identifiers the licensed client binds
// to. Every query degrades to an empty value on failure.
package hostinfo

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

const defaultCommandTimeout = 3 * time.Second

// Probe collects host identifiers through injectable OS accessors.
type Probe struct {
	Runner     Runner
	ReadFile   func(path string) ([]byte, error)
	Interfaces func() ([]net.Interface, error)
	Logger     *slog.Logger
}

// NewProbe returns a probe backed by the real OS.
func NewProbe(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		Runner:     ExecRunner{Timeout: defaultCommandTimeout},
		ReadFile:   os.ReadFile,
		Interfaces: net.Interfaces,
		Logger:     logger,
	}
}

// BoardSerial returns the mainboard serial number.
func (p *Probe) BoardSerial(ctx context.Context) string {
	return strings.TrimSpace(p.boardSerial(ctx))
}

// CPUID returns a platform-specific processor identifier.
func (p *Probe) CPUID(ctx context.Context) string {
	return strings.TrimSpace(p.cpuID(ctx))
}

// VendorStrings returns lower-cased manufacturer strings for the anti-VM check.
func (p *Probe) VendorStrings(ctx context.Context) []string {
	raw := p.vendorStrings(ctx)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MACs returns the upper-cased hardware addresses of every non-loopback
// interface, sorted.
func (p *Probe) MACs(ctx context.Context) []string {
	ifaces, err := p.Interfaces()
	if err != nil {
		p.debug(ctx, "list_interfaces", err)
		return nil
	}
	macs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, strings.ToUpper(iface.HardwareAddr.String()))
	}
	sort.Strings(macs)
	return macs
}

func (p *Probe) readTrimmed(ctx context.Context, path string) string {
	raw, err := p.ReadFile(path)
	if err != nil {
		p.debug(ctx, "read_file", err, "path", path)
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (p *Probe) run(ctx context.Context, name string, args ...string) string {
	out, err := p.Runner.Run(ctx, name, args...)
	if err != nil {
		p.debug(ctx, "run_command", err, "command", name)
		return ""
	}
	return strings.TrimSpace(out)
}

func (p *Probe) debug(ctx context.Context, operation string, err error, attrs ...any) {
	args := append([]any{
		"module", "client.hostinfo",
		"layer", "client",
		"operation", operation,
		"outcome", "degraded",
		"error", err,
	}, attrs...)
	p.Logger.DebugContext(ctx, "host query failed", args...)
}

// ParseCPUInfo builds a CPU identifier from /proc/cpuinfo: the sorted,
// de-duplicated values of vendor_id, model name and processor joined by "-".
func ParseCPUInfo(raw string) string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "vendor_id", "model name", "processor":
		default:
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			seen[value] = struct{}{}
		}
	}
	parts := make([]string, 0, len(seen))
	for v := range seen {
		parts = append(parts, v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "-")
}

// ParseIORegValue extracts the quoted value of key from `ioreg -l` output,
// e.g. `"IOPlatformSerialNumber" = "C02XYZ"`.
func ParseIORegValue(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, `"`+key+`"`) {
			continue
		}
		_, rest, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		return strings.Trim(strings.TrimSpace(rest), `"`)
	}
	return ""
}
