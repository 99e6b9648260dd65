package hostinfo

import (
	"context"
	"strings"
)

func (p *Probe) ioreg(ctx context.Context) string {
	return p.run(ctx, "ioreg", "-l")
}

func (p *Probe) boardSerial(ctx context.Context) string {
	return ParseIORegValue(p.ioreg(ctx), "IOPlatformSerialNumber")
}

// cpuID reuses the platform serial; macOS exposes no stable processor id.
func (p *Probe) cpuID(ctx context.Context) string {
	return p.boardSerial(ctx)
}

func (p *Probe) vendorStrings(ctx context.Context) []string {
	var out []string
	for _, line := range strings.Split(p.ioreg(ctx), "\n") {
		if strings.Contains(line, "IOPlatformExpertDevice") || strings.Contains(line, "manufacturer") || strings.Contains(line, "Manufacturer") {
			out = append(out, line)
		}
	}
	return out
}
