package hostinfo

import "context"

func (p *Probe) cim(ctx context.Context, class, property string) string {
	return p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Get-CimInstance -ClassName "+class+" | Select-Object -ExpandProperty "+property)
}

func (p *Probe) boardSerial(ctx context.Context) string {
	return p.cim(ctx, "Win32_BaseBoard", "SerialNumber")
}

func (p *Probe) cpuID(ctx context.Context) string {
	return p.cim(ctx, "Win32_Processor", "ProcessorId")
}

func (p *Probe) vendorStrings(ctx context.Context) []string {
	return []string{
		p.cim(ctx, "Win32_ComputerSystem", "Manufacturer"),
		p.cim(ctx, "Win32_BIOS", "Manufacturer"),
		p.cim(ctx, "Win32_BaseBoard", "Manufacturer"),
	}
}
