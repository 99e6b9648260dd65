package vmcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	macs    []string
	vendors []string
}

func (f fakeSource) MACs(context.Context) []string          { return f.macs }
func (f fakeSource) VendorStrings(context.Context) []string { return f.vendors }

func TestIsVirtualMachine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		src  fakeSource
		want bool
	}{
		{name: "physical", src: fakeSource{macs: []string{"00:1A:2B:3C:4D:5E"}, vendors: []string{"dell inc."}}, want: false},
		{name: "virtualbox mac", src: fakeSource{macs: []string{"08:00:27:12:34:56"}}, want: true},
		{name: "lower-case dashed mac", src: fakeSource{macs: []string{"00-0c-29-aa-bb-cc"}}, want: true},
		{name: "qemu vendor", src: fakeSource{vendors: []string{"QEMU"}}, want: true},
		{name: "hyper-v board", src: fakeSource{vendors: []string{"microsoft corporation"}}, want: true},
		{name: "nothing known", src: fakeSource{}, want: false},
		{name: "short mac ignored", src: fakeSource{macs: []string{"08:00"}}, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsVirtualMachine(context.Background(), tc.src))
		})
	}
}

func TestInspectReportsEvidence(t *testing.T) {
	t.Parallel()
	ev := Inspect(context.Background(), fakeSource{macs: []string{"00:16:3e:00:00:01"}, vendors: []string{"xen hvm domu"}})
	assert.Equal(t, "00:16:3E:00:00:01", ev.MAC)
	assert.Equal(t, "xen", ev.Keyword)
}
