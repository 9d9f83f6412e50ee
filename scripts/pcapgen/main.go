package main

import (
	"flag"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// Writes a sample capture mixing short benign TCP sessions with a SYN flood
// from a single source, for exercising ng-extract and the classifiers.
func main() {
	outputFile := flag.String("o", "sample.pcap", "Output pcap file path")
	benign := flag.Int("benign", 50, "Number of benign sessions")
	flood := flag.Int("flood", 2000, "Number of SYN packets sent by the attacker")
	attacker := flag.String("attacker", "203.0.113.66", "Source address of the flood")
	victim := flag.String("victim", "192.168.1.10", "Address under attack")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	victimIP := net.ParseIP(*victim).To4()
	attackerIP := net.ParseIP(*attacker).To4()
	if victimIP == nil || attackerIP == nil {
		log.Fatalf("Attacker and victim must be IPv4 addresses")
	}

	start := time.Now()
	g := &generator{w: w}

	// Benign sessions: handshake, a few data packets, one reply each.
	for i := 0; i < *benign; i++ {
		client := net.IP{10, 0, byte(rng.Intn(256)), byte(rng.Intn(254) + 1)}
		sport := layers.TCPPort(rng.Intn(65535-1024) + 1024)
		at := start.Add(time.Duration(rng.Intn(5000)) * time.Millisecond)
		g.tcp(at, client, victimIP, sport, 443, flags{syn: true}, 0)
		g.tcp(at.Add(2*time.Millisecond), victimIP, client, 443, sport, flags{syn: true, ack: true}, 0)
		for j := 0; j < 3; j++ {
			at = at.Add(time.Duration(20+rng.Intn(80)) * time.Millisecond)
			g.tcp(at, client, victimIP, sport, 443, flags{ack: true, psh: true}, rng.Intn(1400)+50)
			g.tcp(at.Add(time.Millisecond), victimIP, client, 443, sport, flags{ack: true}, rng.Intn(1400)+50)
		}
	}

	// The flood reuses one source port so it collapses into a single high-rate flow.
	for i := 0; i < *flood; i++ {
		at := start.Add(time.Duration(i) * 500 * time.Microsecond)
		g.tcp(at, attackerIP, victimIP, 31337, 80, flags{syn: true}, 0)
	}

	log.Printf("Wrote %d packets to %s", g.count, *outputFile)
}

type flags struct {
	syn, ack, psh bool
}

type generator struct {
	w     *pcapgo.Writer
	count int
}

func (g *generator) tcp(at time.Time, src, dst net.IP, sport, dport layers.TCPPort, fl flags, payloadSize int) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
	tcp := &layers.TCP{SrcPort: sport, DstPort: dport, SYN: fl.syn, ACK: fl.ack, PSH: fl.psh, Window: 14600}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		log.Fatalf("Failed to set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(make([]byte, payloadSize))); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}

	ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
	if err := g.w.WritePacket(ci, buf.Bytes()); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
	g.count++
}
