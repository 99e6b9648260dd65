package hostinfo

import "context"

const dmiDir = "/sys/class/dmi/id/"

func (p *Probe) boardSerial(ctx context.Context) string {
	if serial := p.readTrimmed(ctx, dmiDir+"board_serial"); serial != "" {
		return serial
	}
	return p.run(ctx, "dmidecode", "-s", "baseboard-serial-number")
}

func (p *Probe) cpuID(ctx context.Context) string {
	raw, err := p.ReadFile("/proc/cpuinfo")
	if err != nil {
		p.debug(ctx, "read_cpuinfo", err)
		return ""
	}
	return ParseCPUInfo(string(raw))
}

func (p *Probe) vendorStrings(ctx context.Context) []string {
	return []string{
		p.readTrimmed(ctx, dmiDir+"sys_vendor"),
		p.readTrimmed(ctx, dmiDir+"product_name"),
		p.readTrimmed(ctx, dmiDir+"board_vendor"),
	}
}
