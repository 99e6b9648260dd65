package hostinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinuxBoardSerialPrefersDMI(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{out: map[string]string{"dmidecode": "FROM-DMIDECODE\n"}}
	p := newTestProbe(map[string]string{dmiDir + "board_serial": " SN-1 \n"}, runner, nil)

	assert.Equal(t, "SN-1", p.BoardSerial(context.Background()))
	assert.Empty(t, runner.calls)
}

func TestLinuxBoardSerialFallsBackToDmidecode(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{out: map[string]string{"dmidecode": "FROM-DMIDECODE\n"}}
	p := newTestProbe(nil, runner, nil)

	assert.Equal(t, "FROM-DMIDECODE", p.BoardSerial(context.Background()))
}

func TestLinuxMissingSourcesDegradeToEmpty(t *testing.T) {
	t.Parallel()
	p := newTestProbe(nil, &fakeRunner{}, nil)

	assert.Equal(t, "", p.BoardSerial(context.Background()))
	assert.Equal(t, "", p.CPUID(context.Background()))
	assert.Empty(t, p.VendorStrings(context.Background()))
}

func TestLinuxVendorStringsLowerCased(t *testing.T) {
	t.Parallel()
	p := newTestProbe(map[string]string{
		dmiDir + "sys_vendor":   "QEMU\n",
		dmiDir + "product_name": "Standard PC (Q35 + ICH9, 2009)\n",
	}, &fakeRunner{}, nil)

	assert.Equal(t, []string{"qemu", "standard pc (q35 + ich9, 2009)"}, p.VendorStrings(context.Background()))
}
