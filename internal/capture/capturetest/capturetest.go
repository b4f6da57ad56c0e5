// Package capturetest synthesizes capture files for tests and replay.
package capturetest

import (
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/satchel/internal/core"
)

// UDPFrame serializes an Ethernet/IPv4/UDP frame carrying payload.
func UDPFrame(src, dst core.Endpoint, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       []byte{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.Addr.AsSlice(),
		DstIP:    dst.Addr.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Datagram is one UDP payload between two endpoints.
type Datagram struct {
	Src, Dst core.Endpoint
	Payload  []byte
}

// WriteFile writes datagrams as an Ethernet pcap file, one millisecond apart.
func WriteFile(path string, datagrams []Datagram) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return err
	}
	ts := time.Unix(1700000000, 0)
	for _, d := range datagrams {
		frame, err := UDPFrame(d.Src, d.Dst, d.Payload)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
		if err := w.WritePacket(ci, frame); err != nil {
			return err
		}
		ts = ts.Add(time.Millisecond)
	}
	return f.Close()
}

// Endpoint is a shorthand for building endpoints in tests.
func Endpoint(addr string, port uint16) core.Endpoint {
	return core.Endpoint{Addr: netip.MustParseAddr(addr), Port: port}
}
