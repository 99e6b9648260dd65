// Package vmcheck flags hosts that look like virtual machines.
package vmcheck

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// HypervisorOUIs are MAC prefixes assigned to virtualization vendors.
var HypervisorOUIs = []string{
	"00:05:69", // VMware
	"00:0C:29", // VMware
	"00:1C:42", // Parallels
	"08:00:27", // VirtualBox
	"00:50:56", // VMware
	"00:16:3E", // Xen
}

// VendorKeywords are lower-case fragments of hypervisor manufacturer strings.
var VendorKeywords = []string{
	"vmware",
	"virtualbox",
	"qemu",
	"kvm",
	"hyper-v",
	"microsoft corporation",
	"innotek gmbh",
	"parallels",
	"xen",
}

// Source supplies the two signals. Failed queries yield empty results.
type Source interface {
	MACs(ctx context.Context) []string
	VendorStrings(ctx context.Context) []string
}

// Evidence records which signal matched, if any.
type Evidence struct {
	MAC     string
	Keyword string
}

func (e Evidence) Virtual() bool {
	return e.MAC != "" || e.Keyword != ""
}

// Inspect evaluates both signals concurrently.
func Inspect(ctx context.Context, src Source) Evidence {
	var ev Evidence
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev.MAC = matchMAC(src.MACs(ctx))
		return nil
	})
	g.Go(func() error {
		ev.Keyword = matchVendor(src.VendorStrings(ctx))
		return nil
	})
	_ = g.Wait()
	return ev
}

// IsVirtualMachine reports whether either signal matched.
func IsVirtualMachine(ctx context.Context, src Source) bool {
	return Inspect(ctx, src).Virtual()
}

func matchMAC(macs []string) string {
	for _, mac := range macs {
		normalized := strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
		if len(normalized) < 8 {
			continue
		}
		for _, prefix := range HypervisorOUIs {
			if normalized[:8] == prefix {
				return normalized
			}
		}
	}
	return ""
}

func matchVendor(vendors []string) string {
	combined := strings.ToLower(strings.Join(vendors, " "))
	if combined == "" {
		return ""
	}
	for _, keyword := range VendorKeywords {
		if strings.Contains(combined, keyword) {
			return keyword
		}
	}
	return ""
}
