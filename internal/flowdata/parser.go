package flowdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"Go2NetGuard/internal/model"
)

// ErrInsufficientFlowData is matched by errors.Is for datasets that are too
// small to classify. It is the one recoverable cycle error.
var ErrInsufficientFlowData = errors.New("insufficient flow data")

// InsufficientFlowDataError reports how many rows a rejected dataset had.
type InsufficientFlowDataError struct {
	Rows    int
	MinRows int
}

func (e *InsufficientFlowDataError) Error() string {
	return fmt.Sprintf("too little flow data: %d rows, need at least %d", e.Rows, e.MinRows)
}

func (e *InsufficientFlowDataError) Is(target error) bool {
	return target == ErrInsufficientFlowData
}

// ParseError locates a malformed value in the dataset.
type ParseError struct {
	Row    int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Dataset is one cycle's parsed flows.
type Dataset struct {
	FeatureNames []string
	Records      []model.FlowRecord
}

// Metadata returns the flow metadata in row order.
func (d *Dataset) Metadata() []model.FlowMetadata {
	out := make([]model.FlowMetadata, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Metadata
	}
	return out
}

// Features returns the feature vectors in row order.
func (d *Dataset) Features() [][]float64 {
	out := make([][]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Features
	}
	return out
}

type metaField int

const (
	metaSrcIP metaField = iota
	metaDstIP
	metaSrcPort
	metaDstPort
	metaProtocol
	metaStart
	metaEnd
)

// metadataAliases maps normalized header names to metadata fields. Both the
// builtin extractor's names and CICFlowMeter's variants are accepted.
var metadataAliases = map[string]metaField{
	"src_ip":           metaSrcIP,
	"source_ip":        metaSrcIP,
	"dst_ip":           metaDstIP,
	"destination_ip":   metaDstIP,
	"src_port":         metaSrcPort,
	"source_port":      metaSrcPort,
	"dst_port":         metaDstPort,
	"destination_port": metaDstPort,
	"protocol":         metaProtocol,
	"timestamp":        metaStart,
	"end_timestamp":    metaEnd,
}

// ignoredColumns carry neither metadata nor features.
var ignoredColumns = map[string]bool{
	"flow_id": true,
	"label":   true,
	"src_mac": true,
	"dst_mac": true,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"02/01/2006 03:04:05 PM",
}

// NormalizeColumn lower-cases a header name and replaces separators with '_'.
func NormalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "/", "_", "-", "_").Replace(name)
}

// ParseFile parses the dataset stored at path.
func ParseFile(path string, minRows int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return Parse(f, minRows)
}

// Parse reads a CSV flow dataset, separating metadata columns from numeric
// features. A dataset with fewer than minRows rows, including an empty
// input, yields an *InsufficientFlowDataError.
func Parse(r io.Reader, minRows int) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &InsufficientFlowDataError{Rows: 0, MinRows: minRows}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	meta := make(map[metaField]int)
	var featureIdx []int
	var featureNames []string
	for i, col := range header {
		name := NormalizeColumn(col)
		if field, ok := metadataAliases[name]; ok {
			if _, dup := meta[field]; !dup {
				meta[field] = i
			}
			continue
		}
		if ignoredColumns[name] {
			continue
		}
		featureIdx = append(featureIdx, i)
		featureNames = append(featureNames, name)
	}
	for _, required := range []metaField{metaSrcIP, metaDstIP} {
		if _, ok := meta[required]; !ok {
			return nil, fmt.Errorf("dataset is missing the source or destination address column")
		}
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset rows: %w", err)
	}
	if len(rows) < minRows || len(rows) == 0 {
		return nil, &InsufficientFlowDataError{Rows: len(rows), MinRows: minRows}
	}

	ds := &Dataset{FeatureNames: featureNames, Records: make([]model.FlowRecord, 0, len(rows))}
	for n, row := range rows {
		line := n + 2 // 1-based, after the header
		md, err := parseMetadata(row, header, meta, line)
		if err != nil {
			return nil, err
		}

		features := make(model.FlowFeatures, len(featureIdx))
		for j, idx := range featureIdx {
			v, err := parseFeature(row[idx])
			if err != nil {
				return nil, &ParseError{Row: line, Column: featureNames[j], Err: err}
			}
			features[j] = v
		}
		ds.Records = append(ds.Records, model.FlowRecord{Metadata: md, Features: features})
	}
	return ds, nil
}

func parseMetadata(row, header []string, meta map[metaField]int, line int) (model.FlowMetadata, error) {
	var md model.FlowMetadata
	for field, idx := range meta {
		value := strings.TrimSpace(row[idx])
		if value == "" {
			continue
		}
		var err error
		switch field {
		case metaSrcIP:
			md.SrcIP, err = netip.ParseAddr(value)
		case metaDstIP:
			md.DstIP, err = netip.ParseAddr(value)
		case metaSrcPort:
			md.SrcPort, err = parseUint16(value)
		case metaDstPort:
			md.DstPort, err = parseUint16(value)
		case metaProtocol:
			var p uint64
			p, err = strconv.ParseUint(value, 10, 8)
			md.Protocol = uint8(p)
		case metaStart:
			md.StartTime, err = parseTime(value)
		case metaEnd:
			md.EndTime, err = parseTime(value)
		}
		if err != nil {
			return md, &ParseError{Row: line, Column: header[idx], Err: err}
		}
	}
	if !md.SrcIP.IsValid() || !md.DstIP.IsValid() {
		return md, &ParseError{Row: line, Column: "address", Err: fmt.Errorf("missing flow address")}
	}
	if md.EndTime.IsZero() {
		md.EndTime = md.StartTime
	}
	return md, nil
}

// parseFeature reads a numeric cell. Empty and non-finite values become 0.
func parseFeature(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil
	}
	return v, nil
}

func parseUint16(value string) (uint16, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("port %s out of range", value)
	}
	return uint16(v), nil
}

func parseTime(value string) (time.Time, error) {
	if unix, err := strconv.ParseFloat(value, 64); err == nil {
		sec, frac := math.Modf(unix)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp '%s'", value)
}
