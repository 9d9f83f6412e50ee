package extract

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetGuard/internal/flowdata"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPacket struct {
	at       time.Duration
	src, dst string
	sport    uint16
	dport    uint16
	udp      bool
	syn, ack bool
	payload  int
}

var base = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func writePcap(t *testing.T, packets []testPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{SrcIP: net.ParseIP(p.src).To4(), DstIP: net.ParseIP(p.dst).To4(), Version: 4, TTL: 64}
		payload := gopacket.Payload(make([]byte, p.payload))

		var transport gopacket.SerializableLayer
		if p.udp {
			ip.Protocol = layers.IPProtocolUDP
			udp := &layers.UDP{SrcPort: layers.UDPPort(p.sport), DstPort: layers.UDPPort(p.dport)}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			transport = udp
		} else {
			ip.Protocol = layers.IPProtocolTCP
			tcp := &layers.TCP{SrcPort: layers.TCPPort(p.sport), DstPort: layers.TCPPort(p.dport), SYN: p.syn, ACK: p.ack, Window: 14600}
			require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
			transport = tcp
		}

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, payload))

		ci := gopacket.CaptureInfo{Timestamp: base.Add(p.at), CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
		require.NoError(t, w.WritePacket(ci, buf.Bytes()))
	}
	return path
}

func column(t *testing.T, ds *flowdata.Dataset, row int, name string) float64 {
	t.Helper()
	for i, n := range ds.FeatureNames {
		if n == name {
			return ds.Records[row].Features[i]
		}
	}
	t.Fatalf("column %s not found", name)
	return 0
}

func TestFlowMeter_BidirectionalFlows(t *testing.T) {
	pcapPath := writePcap(t, []testPacket{
		{at: 0, src: "10.0.0.5", dst: "10.0.0.1", sport: 40000, dport: 80, syn: true},
		{at: 10 * time.Millisecond, src: "10.0.0.1", dst: "10.0.0.5", sport: 80, dport: 40000, syn: true, ack: true},
		{at: 20 * time.Millisecond, src: "10.0.0.7", dst: "10.0.0.1", sport: 5000, dport: 53, udp: true, payload: 40},
		{at: 30 * time.Millisecond, src: "10.0.0.5", dst: "10.0.0.1", sport: 40000, dport: 80, ack: true, payload: 100},
	})
	csvPath := filepath.Join(t.TempDir(), "flows.csv")

	meter := NewFlowMeter(2 * time.Minute)
	require.NoError(t, meter.Extract(context.Background(), pcapPath, csvPath))

	ds, err := flowdata.ParseFile(csvPath, 1)
	require.NoError(t, err)
	require.Len(t, ds.Records, 2)
	assert.Len(t, ds.FeatureNames, len(FeatureColumns))

	tcp := ds.Records[0].Metadata
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), tcp.SrcIP, "forward direction follows the first packet")
	assert.Equal(t, uint16(80), tcp.DstPort)
	assert.Equal(t, base, tcp.StartTime)
	assert.Equal(t, base.Add(30*time.Millisecond), tcp.EndTime)

	assert.Equal(t, 30000.0, column(t, ds, 0, "flow_duration"))
	assert.Equal(t, 2.0, column(t, ds, 0, "tot_fwd_pkts"))
	assert.Equal(t, 1.0, column(t, ds, 0, "tot_bwd_pkts"))
	assert.Equal(t, 100.0, column(t, ds, 0, "totlen_fwd_pkts"))
	assert.Equal(t, 2.0, column(t, ds, 0, "syn_flag_cnt"))
	assert.Equal(t, 2.0, column(t, ds, 0, "ack_flag_cnt"))
	assert.Equal(t, 100.0, column(t, ds, 0, "fwd_pkt_len_max"))
	assert.Equal(t, 0.0, column(t, ds, 0, "fwd_pkt_len_min"))
	assert.InDelta(t, 15000.0, column(t, ds, 0, "flow_iat_mean"), 0.001)
	assert.InDelta(t, 100.0, column(t, ds, 0, "flow_pkts_s"), 0.001)

	udp := ds.Records[1].Metadata
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), udp.SrcIP)
	assert.Equal(t, uint8(17), udp.Protocol)
	assert.Equal(t, 0.0, column(t, ds, 1, "flow_byts_s"), "single packet flow has no rate")
}

func TestFlowMeter_IdleTimeoutSplitsFlow(t *testing.T) {
	pcapPath := writePcap(t, []testPacket{
		{at: 0, src: "10.0.0.5", dst: "10.0.0.1", sport: 40000, dport: 80, syn: true},
		{at: 5 * time.Second, src: "10.0.0.5", dst: "10.0.0.1", sport: 40000, dport: 80, ack: true},
	})
	csvPath := filepath.Join(t.TempDir(), "flows.csv")

	require.NoError(t, NewFlowMeter(time.Second).Extract(context.Background(), pcapPath, csvPath))

	ds, err := flowdata.ParseFile(csvPath, 1)
	require.NoError(t, err)
	assert.Len(t, ds.Records, 2)
}

func TestFlowMeter_EmptyCaptureYieldsInsufficientData(t *testing.T) {
	pcapPath := writePcap(t, nil)
	csvPath := filepath.Join(t.TempDir(), "flows.csv")

	require.NoError(t, NewFlowMeter(time.Minute).Extract(context.Background(), pcapPath, csvPath))

	_, err := flowdata.ParseFile(csvPath, 1)
	assert.ErrorIs(t, err, flowdata.ErrInsufficientFlowData)
}

func TestFlowMeter_Cancelled(t *testing.T) {
	pcapPath := writePcap(t, []testPacket{{src: "10.0.0.5", dst: "10.0.0.1", sport: 1, dport: 2, udp: true}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFlowMeter(time.Minute).Extract(ctx, pcapPath, filepath.Join(t.TempDir(), "flows.csv"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCICFlowMeter_ExpandsPlaceholders(t *testing.T) {
	c := NewCICFlowMeter("cicflowmeter", []string{"-f", "{pcap}", "-c", "{csv}"})
	assert.Equal(t, []string{"-f", "/tmp/a.pcap", "-c", "/tmp/a.csv"}, c.expand("/tmp/a.pcap", "/tmp/a.csv"))
}

func TestCICFlowMeter_MissingCommand(t *testing.T) {
	c := NewCICFlowMeter(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	err := c.Extract(context.Background(), "in.pcap", "out.csv")
	assert.Error(t, err)
}
