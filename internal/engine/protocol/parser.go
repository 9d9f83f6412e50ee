package protocol

import (
	"errors"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIP is returned for packets without an IPv4 or IPv6 layer.
	ErrNotIP = errors.New("not an IP packet")
	// ErrNotTransport is returned for IP packets that carry neither TCP nor UDP.
	ErrNotTransport = errors.New("not a TCP or UDP packet")
)

// TCP flag bits recorded in PacketInfo.Flags.
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse returns the tuple as seen from the opposite direction.
func (ft FiveTuple) Reverse() FiveTuple {
	return FiveTuple{SrcIP: ft.DstIP, DstIP: ft.SrcIP, SrcPort: ft.DstPort, DstPort: ft.SrcPort, Protocol: ft.Protocol}
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp  time.Time
	FiveTuple  FiveTuple
	Length     int
	PayloadLen int
	Flags      uint8
}

// HasFlag reports whether the TCP flag bit is set.
func (p *PacketInfo) HasFlag(flag uint8) bool {
	return p.Flags&flag != 0
}

// ParsePacket uses gopacket to decode a packet and extract key information.
func ParsePacket(packet gopacket.Packet) (*PacketInfo, error) {
	info := &PacketInfo{
		Timestamp: time.Now(), // overwritten by capture metadata when present
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var ft FiveTuple
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		ft.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		ft.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
		ft.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		ft.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		ft.DstIP, _ = netip.AddrFromSlice(ip.DstIP)
		ft.Protocol = uint8(ip.NextHeader)
	} else {
		return nil, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ft.SrcPort = uint16(tcp.SrcPort)
		ft.DstPort = uint16(tcp.DstPort)
		ft.Protocol = uint8(layers.IPProtocolTCP)
		info.PayloadLen = len(tcp.Payload)
		info.Flags = tcpFlags(tcp)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ft.SrcPort = uint16(udp.SrcPort)
		ft.DstPort = uint16(udp.DstPort)
		ft.Protocol = uint8(layers.IPProtocolUDP)
		info.PayloadLen = len(udp.Payload)
	} else {
		return nil, ErrNotTransport
	}

	info.FiveTuple = ft
	return info, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= FlagFIN
	}
	if tcp.SYN {
		f |= FlagSYN
	}
	if tcp.RST {
		f |= FlagRST
	}
	if tcp.PSH {
		f |= FlagPSH
	}
	if tcp.ACK {
		f |= FlagACK
	}
	if tcp.URG {
		f |= FlagURG
	}
	return f
}
