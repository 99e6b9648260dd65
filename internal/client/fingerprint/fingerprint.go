// Package fingerprint derives the stable device hash a license is bound to.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Source supplies the hardware components of a fingerprint. Implementations
// return empty values instead of errors.
type Source interface {
	BoardSerial(ctx context.Context) string
	CPUID(ctx context.Context) string
	MACs(ctx context.Context) []string
}

// Components are the raw inputs of a device hash.
type Components struct {
	Board string
	CPU   string
	MACs  []string
}

// Canonical renders components as BOARD:<b>-CPU:<c>-MACS:<macs> with MACs
// upper-cased, sorted and concatenated.
func (c Components) Canonical() string {
	macs := make([]string, len(c.MACs))
	for i, mac := range c.MACs {
		macs[i] = strings.ToUpper(mac)
	}
	sort.Strings(macs)
	return fmt.Sprintf("BOARD:%s-CPU:%s-MACS:%s", c.Board, c.CPU, strings.Join(macs, ""))
}

// Hash is the hex SHA-256 of the canonical form.
func (c Components) Hash() string {
	sum := sha256.Sum256([]byte(c.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Collect queries the source concurrently.
func Collect(ctx context.Context, src Source) Components {
	var c Components
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Board = src.BoardSerial(ctx)
		return nil
	})
	g.Go(func() error {
		c.CPU = src.CPUID(ctx)
		return nil
	})
	g.Go(func() error {
		c.MACs = src.MACs(ctx)
		return nil
	})
	_ = g.Wait()
	return c
}

// Fingerprint returns the device hash for the host described by src. It
// never fails; missing components only weaken uniqueness.
func Fingerprint(ctx context.Context, src Source) string {
	return Collect(ctx, src).Hash()
}
