package capture

import "golang.org/x/net/bpf"

const (
	etherTypeARP   = 0x0806
	etherTypeIPv4  = 0x0800
	ipProtoUDP     = 17
	dhcpClientPort = 68
)

// FilterProgram accepts ARP frames and unfragmented IPv4/UDP datagrams sent to
// the DHCP client port. Everything else is dropped in the kernel.
func FilterProgram() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeARP, SkipTrue: 8},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 8},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: ipProtoUDP, SkipFalse: 6},
		// more-fragments flag or a non-zero offset
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x3fff, SkipTrue: 4},
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: dhcpClientPort, SkipFalse: 1},
		bpf.RetConstant{Val: maxFrameSize},
		bpf.RetConstant{Val: 0},
	}
}

func assembleFilter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(FilterProgram())
}
