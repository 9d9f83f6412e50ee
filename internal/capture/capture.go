package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// readTimeout bounds how long a blocked read waits before the capture loop
// re-checks its deadline.
const readTimeout = 500 * time.Millisecond

// Artifact describes the transient pcap file produced by one capture.
type Artifact struct {
	Path       string
	Packets    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Capturer produces a finite capture artifact for a single cycle.
type Capturer interface {
	Capture(ctx context.Context, outPath string) (*Artifact, error)
}

// Options configures a LiveCapturer.
type Options struct {
	Interface   string
	SnapshotLen int
	Promiscuous bool
	Duration    time.Duration
	MaxPackets  int
	BPFFilter   string
}

// LiveCapturer captures from a network interface with libpcap and writes
// the packets to a pcap artifact.
type LiveCapturer struct {
	opts Options
}

// NewLiveCapturer creates a capturer for the configured interface.
func NewLiveCapturer(opts Options) *LiveCapturer {
	if opts.SnapshotLen <= 0 {
		opts.SnapshotLen = 1600
	}
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Second
	}
	return &LiveCapturer{opts: opts}
}

// Capture records packets until the configured duration elapses, the packet
// budget is exhausted or ctx is done. The handle and the artifact file are
// closed on every path.
func (c *LiveCapturer) Capture(ctx context.Context, outPath string) (*Artifact, error) {
	handle, err := pcap.OpenLive(c.opts.Interface, int32(c.opts.SnapshotLen), c.opts.Promiscuous, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", c.opts.Interface, err)
	}
	defer handle.Close()

	if c.opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(c.opts.BPFFilter); err != nil {
			return nil, fmt.Errorf("failed to set BPF filter '%s': %w", c.opts.BPFFilter, err)
		}
	}

	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture artifact '%s': %w", outPath, err)
	}
	defer file.Close()

	artifact, err := c.record(ctx, handle, handle.LinkType(), file)
	if err != nil {
		return nil, err
	}
	artifact.Path = outPath
	return artifact, nil
}

func (c *LiveCapturer) record(ctx context.Context, src gopacket.PacketDataSource, linkType layers.LinkType, file *os.File) (*Artifact, error) {
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(uint32(c.opts.SnapshotLen), linkType); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	artifact := &Artifact{StartedAt: time.Now()}
	deadline := time.NewTimer(c.opts.Duration)
	defer deadline.Stop()

	packetSource := gopacket.NewPacketSource(src, linkType)
	packetSource.NoCopy = true
	packets := packetSource.Packets()

	log.WithField("duration", c.opts.Duration).Debugf("Capturing on %s", c.opts.Interface)

loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			break loop
		case packet, ok := <-packets:
			if !ok {
				break loop
			}
			if err := writer.WritePacket(packet.Metadata().CaptureInfo, packet.Data()); err != nil {
				return nil, fmt.Errorf("failed to write packet to artifact: %w", err)
			}
			artifact.Packets++
			if c.opts.MaxPackets > 0 && artifact.Packets >= c.opts.MaxPackets {
				break loop
			}
		}
	}

	artifact.FinishedAt = time.Now()
	log.Printf("Captured %d packets on %s", artifact.Packets, c.opts.Interface)
	return artifact, nil
}
