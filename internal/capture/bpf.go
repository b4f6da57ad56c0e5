package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/satchel/internal/config"
)

// FilterExpr returns the BPF expression selecting game traffic. An explicit
// expression in cfg wins over the one derived from the port range.
func FilterExpr(cfg config.CaptureConfig) string {
	if cfg.BPFFilter != "" {
		return cfg.BPFFilter
	}
	pr := cfg.PortRange
	if pr.Min == pr.Max {
		return fmt.Sprintf("udp port %d", pr.Min)
	}
	return fmt.Sprintf("udp portrange %d-%d", pr.Min, pr.Max)
}

// compileBPF compiles expr for Ethernet frames into raw socket-filter
// instructions.
func compileBPF(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("compile BPF filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}
