package capture

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource replays a fixed set of packets and then reports io.EOF.
type fakeSource struct {
	packets [][]byte
	next    int
}

func (f *fakeSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if f.next >= len(f.packets) {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data := f.packets[f.next]
	f.next++
	return data, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}, nil
}

func udpPacket(t *testing.T, port uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11}, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{SrcIP: net.IP{10, 0, 0, 5}, DstIP: net.IP{10, 0, 0, 1}, Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(port), DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}, eth, ip, udp, gopacket.Payload([]byte("q"))))
	return buf.Bytes()
}

func countPackets(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	n := 0
	for {
		_, _, err := r.ReadPacketData()
		if err == io.EOF {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestRecord_StopsAtPacketBudget(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 10; i++ {
		src.packets = append(src.packets, udpPacket(t, uint16(1000+i)))
	}

	path := filepath.Join(t.TempDir(), "out.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)

	c := NewLiveCapturer(Options{Interface: "test0", Duration: time.Minute, MaxPackets: 4})
	artifact, err := c.record(context.Background(), src, layers.LinkTypeEthernet, file)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, 4, artifact.Packets)
	assert.Equal(t, 4, countPackets(t, path))
}

func TestRecord_StopsAtEndOfSource(t *testing.T) {
	src := &fakeSource{packets: [][]byte{udpPacket(t, 1000), udpPacket(t, 1001)}}

	path := filepath.Join(t.TempDir(), "out.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)

	c := NewLiveCapturer(Options{Interface: "test0", Duration: time.Minute})
	artifact, err := c.record(context.Background(), src, layers.LinkTypeEthernet, file)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, 2, artifact.Packets)
	assert.False(t, artifact.FinishedAt.Before(artifact.StartedAt))
}

func TestRecord_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	file, err := os.Create(filepath.Join(t.TempDir(), "out.pcap"))
	require.NoError(t, err)
	defer file.Close()

	c := NewLiveCapturer(Options{Interface: "test0", Duration: time.Minute})
	_, err = c.record(ctx, &blockingSource{}, layers.LinkTypeEthernet, file)
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingSource never yields a packet within the test's lifetime.
type blockingSource struct{}

func (blockingSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	time.Sleep(time.Hour)
	return nil, gopacket.CaptureInfo{}, io.EOF
}
