package events

import (
	"fmt"
	"net/netip"
	"time"

	"Go2NetGuard/internal/firewall"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message is the wire form of a firewall event.
type Message struct {
	Type    string    `json:"type"`
	Address string    `json:"address"`
	Count   int       `json:"count"`
	Time    time.Time `json:"time"`
	Error   string    `json:"error,omitempty"`
}

// Command actions accepted on the control subject.
const (
	ActionUnblock   = "unblock"
	ActionReconcile = "reconcile"
)

// Command is an operator request sent over the control subject.
type Command struct {
	Action  string
	Address string
}

// Reply answers a Command.
type Reply struct {
	OK        bool
	Error     string
	Removed   []string
	Installed []string
}

// EncodeEvent serializes ev as a protobuf Struct.
func EncodeEvent(ev firewall.Event) ([]byte, error) {
	fields := map[string]any{
		"type":    ev.Type.String(),
		"address": ev.Addr.String(),
		"count":   ev.Count,
		"time":    ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}
	return marshal(fields)
}

// DecodeEvent parses a message produced by EncodeEvent.
func DecodeEvent(data []byte) (Message, error) {
	s, err := unmarshal(data)
	if err != nil {
		return Message{}, err
	}
	m := s.AsMap()
	msg := Message{
		Type:    stringField(m, "type"),
		Address: stringField(m, "address"),
		Error:   stringField(m, "error"),
	}
	if c, ok := m["count"].(float64); ok {
		msg.Count = int(c)
	}
	if ts := stringField(m, "time"); ts != "" {
		if msg.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Message{}, fmt.Errorf("invalid event time: %w", err)
		}
	}
	return msg, nil
}

// EncodeCommand serializes cmd as a protobuf Struct.
func EncodeCommand(cmd Command) ([]byte, error) {
	return marshal(map[string]any{"action": cmd.Action, "address": cmd.Address})
}

// DecodeCommand parses and validates a control command.
func DecodeCommand(data []byte) (Command, error) {
	s, err := unmarshal(data)
	if err != nil {
		return Command{}, err
	}
	m := s.AsMap()
	cmd := Command{Action: stringField(m, "action"), Address: stringField(m, "address")}
	switch cmd.Action {
	case ActionReconcile:
	case ActionUnblock:
		if _, err := netip.ParseAddr(cmd.Address); err != nil {
			return Command{}, fmt.Errorf("invalid address '%s': %w", cmd.Address, err)
		}
	default:
		return Command{}, fmt.Errorf("unknown action '%s'", cmd.Action)
	}
	return cmd, nil
}

// EncodeReply serializes r as a protobuf Struct.
func EncodeReply(r Reply) ([]byte, error) {
	return marshal(map[string]any{
		"ok":        r.OK,
		"error":     r.Error,
		"removed":   toAny(r.Removed),
		"installed": toAny(r.Installed),
	})
}

// DecodeReply parses a message produced by EncodeReply.
func DecodeReply(data []byte) (Reply, error) {
	s, err := unmarshal(data)
	if err != nil {
		return Reply{}, err
	}
	m := s.AsMap()
	r := Reply{Error: stringField(m, "error")}
	r.OK, _ = m["ok"].(bool)
	r.Removed = stringList(m["removed"])
	r.Installed = stringList(m["installed"])
	return r, nil
}

func marshal(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return proto.Marshal(s)
}

func unmarshal(data []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}
	return &s, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringList(v any) []string {
	list, _ := v.([]any)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func addrStrings(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
