//go:build !linux && !windows && !darwin

package hostinfo

import "context"

func (p *Probe) boardSerial(context.Context) string { return "" }

func (p *Probe) cpuID(context.Context) string { return "" }

func (p *Probe) vendorStrings(context.Context) []string { return nil }
