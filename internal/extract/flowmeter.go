package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"time"

	"Go2NetGuard/internal/engine/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// MetadataColumns are the leading identity columns of every dataset row.
var MetadataColumns = []string{
	"src_ip", "dst_ip", "src_port", "dst_port", "protocol", "timestamp", "end_timestamp",
}

// FeatureColumns are the numeric columns FlowMeter emits, in order.
var FeatureColumns = []string{
	"flow_duration",
	"tot_fwd_pkts", "tot_bwd_pkts",
	"totlen_fwd_pkts", "totlen_bwd_pkts",
	"fwd_pkt_len_max", "fwd_pkt_len_min", "fwd_pkt_len_mean", "bwd_pkt_len_mean",
	"flow_byts_s", "flow_pkts_s",
	"flow_iat_mean", "flow_iat_std", "flow_iat_max", "flow_iat_min",
	"syn_flag_cnt", "ack_flag_cnt", "fin_flag_cnt", "rst_flag_cnt", "psh_flag_cnt", "urg_flag_cnt",
	"pkt_len_mean", "pkt_len_std",
}

// ctxCheckEvery is how many packets are read between context checks.
const ctxCheckEvery = 1024

// flowKey identifies a bidirectional flow regardless of packet direction.
type flowKey struct {
	lo, hi   netip.AddrPort
	protocol uint8
}

func keyOf(ft protocol.FiveTuple) flowKey {
	a := netip.AddrPortFrom(ft.SrcIP, ft.SrcPort)
	b := netip.AddrPortFrom(ft.DstIP, ft.DstPort)
	if b.Compare(a) < 0 {
		a, b = b, a
	}
	return flowKey{lo: a, hi: b, protocol: ft.Protocol}
}

// stats accumulates count, sum, sum of squares and extremes of a series.
type stats struct {
	n        int
	sum, sq  float64
	min, max float64
}

func (s *stats) add(v float64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
	s.sq += v * v
}

func (s *stats) mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

// std is the sample standard deviation.
func (s *stats) std() float64 {
	if s.n < 2 {
		return 0
	}
	m := s.mean()
	v := (s.sq - float64(s.n)*m*m) / float64(s.n-1)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

type flowState struct {
	seq     int
	forward protocol.FiveTuple
	start   time.Time
	last    time.Time

	fwdLen, bwdLen, allLen stats
	iat                    stats
	syn, ack, fin, rst     int
	psh, urg               int
}

func newFlowState(seq int, p *protocol.PacketInfo) *flowState {
	return &flowState{seq: seq, forward: p.FiveTuple, start: p.Timestamp, last: p.Timestamp}
}

func (f *flowState) add(p *protocol.PacketInfo) {
	if f.allLen.n > 0 {
		f.iat.add(float64(p.Timestamp.Sub(f.last).Microseconds()))
	}
	if p.Timestamp.After(f.last) {
		f.last = p.Timestamp
	}

	size := float64(p.PayloadLen)
	f.allLen.add(size)
	if p.FiveTuple == f.forward {
		f.fwdLen.add(size)
	} else {
		f.bwdLen.add(size)
	}

	if p.HasFlag(protocol.FlagSYN) {
		f.syn++
	}
	if p.HasFlag(protocol.FlagACK) {
		f.ack++
	}
	if p.HasFlag(protocol.FlagFIN) {
		f.fin++
	}
	if p.HasFlag(protocol.FlagRST) {
		f.rst++
	}
	if p.HasFlag(protocol.FlagPSH) {
		f.psh++
	}
	if p.HasFlag(protocol.FlagURG) {
		f.urg++
	}
}

// features returns the values of FeatureColumns for the flow.
func (f *flowState) features() []float64 {
	durationUS := float64(f.last.Sub(f.start).Microseconds())
	var bytesPerSec, pktsPerSec float64
	if durationUS > 0 {
		seconds := durationUS / 1e6
		bytesPerSec = f.allLen.sum / seconds
		pktsPerSec = float64(f.allLen.n) / seconds
	}
	return []float64{
		durationUS,
		float64(f.fwdLen.n), float64(f.bwdLen.n),
		f.fwdLen.sum, f.bwdLen.sum,
		f.fwdLen.max, f.fwdLen.min, f.fwdLen.mean(), f.bwdLen.mean(),
		bytesPerSec, pktsPerSec,
		f.iat.mean(), f.iat.std(), f.iat.max, f.iat.min,
		float64(f.syn), float64(f.ack), float64(f.fin), float64(f.rst), float64(f.psh), float64(f.urg),
		f.allLen.mean(), f.allLen.std(),
	}
}

func (f *flowState) row() []string {
	row := []string{
		f.forward.SrcIP.String(),
		f.forward.DstIP.String(),
		strconv.Itoa(int(f.forward.SrcPort)),
		strconv.Itoa(int(f.forward.DstPort)),
		strconv.Itoa(int(f.forward.Protocol)),
		f.start.UTC().Format(time.RFC3339Nano),
		f.last.UTC().Format(time.RFC3339Nano),
	}
	for _, v := range f.features() {
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return row
}

// FlowMeter converts a pcap artifact into a flow dataset using gopacket.
// Packets are grouped into bidirectional flows; the direction of the first
// packet is the forward direction and an idle gap longer than FlowTimeout
// starts a new flow.
type FlowMeter struct {
	FlowTimeout time.Duration
}

// NewFlowMeter creates the builtin extractor.
func NewFlowMeter(flowTimeout time.Duration) *FlowMeter {
	return &FlowMeter{FlowTimeout: flowTimeout}
}

// Extract implements Extractor.
func (m *FlowMeter) Extract(ctx context.Context, pcapPath, csvPath string) error {
	in, err := os.Open(pcapPath)
	if err != nil {
		return fmt.Errorf("failed to open capture artifact: %w", err)
	}
	defer in.Close()

	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	flows, err := m.aggregate(ctx, reader, reader.LinkType())
	if err != nil {
		return err
	}

	out, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	if err := writeDataset(out, flows); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	log.Printf("Extracted %d flows from %s", len(flows), pcapPath)
	return nil
}

func (m *FlowMeter) aggregate(ctx context.Context, src gopacket.PacketDataSource, decoder gopacket.Decoder) ([]*flowState, error) {
	active := make(map[flowKey]*flowState)
	var done []*flowState
	seq := 0

	for i := 0; ; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, decoder, gopacket.NoCopy)
		packet.Metadata().CaptureInfo = ci
		info, err := protocol.ParsePacket(packet)
		if err != nil {
			continue
		}

		key := keyOf(info.FiveTuple)
		flow, ok := active[key]
		if ok && m.FlowTimeout > 0 && info.Timestamp.Sub(flow.last) > m.FlowTimeout {
			done = append(done, flow)
			ok = false
		}
		if !ok {
			flow = newFlowState(seq, info)
			seq++
			active[key] = flow
		}
		flow.add(info)
	}

	for _, flow := range active {
		done = append(done, flow)
	}
	sort.Slice(done, func(i, j int) bool {
		if !done[i].start.Equal(done[j].start) {
			return done[i].start.Before(done[j].start)
		}
		return done[i].seq < done[j].seq
	})
	return done, nil
}

func writeDataset(w io.Writer, flows []*flowState) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, MetadataColumns...), FeatureColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write dataset header: %w", err)
	}
	for _, flow := range flows {
		if err := cw.Write(flow.row()); err != nil {
			return fmt.Errorf("failed to write dataset row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
