package events

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"Go2NetGuard/internal/firewall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncoding(t *testing.T) {
	at := time.Date(2026, 10, 18, 7, 30, 0, 123, time.UTC)
	data, err := EncodeEvent(firewall.Event{
		Type:  firewall.EventBlockFailed,
		Addr:  netip.MustParseAddr("10.0.0.5"),
		Count: 3,
		Time:  at,
		Err:   errors.New("netlink busy"),
	})
	require.NoError(t, err)

	msg, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, Message{Type: "block_failed", Address: "10.0.0.5", Count: 3, Time: at, Error: "netlink busy"}, msg)
}

func TestDecodeEvent_Garbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	data, err := EncodeCommand(Command{Action: ActionUnblock, Address: "fd00::5"})
	require.NoError(t, err)
	cmd, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionUnblock, Address: "fd00::5"}, cmd)

	for _, bad := range []Command{{Action: "drop"}, {Action: ActionUnblock, Address: "nope"}} {
		data, err := EncodeCommand(bad)
		require.NoError(t, err)
		_, err = DecodeCommand(data)
		assert.Error(t, err)
	}
}

type fakeController struct {
	unblocked []netip.Addr
	result    firewall.ReconcileResult
	err       error
}

func (f *fakeController) Unblock(addr netip.Addr) error {
	f.unblocked = append(f.unblocked, addr)
	return f.err
}

func (f *fakeController) Reconcile() (firewall.ReconcileResult, error) {
	return f.result, f.err
}

func TestHandle(t *testing.T) {
	ctrl := &fakeController{result: firewall.ReconcileResult{
		Removed:   []netip.Addr{netip.MustParseAddr("10.0.0.3")},
		Installed: []netip.Addr{netip.MustParseAddr("10.0.0.1")},
	}}

	data, _ := EncodeCommand(Command{Action: ActionUnblock, Address: "10.0.0.9"})
	assert.Equal(t, Reply{OK: true}, Handle(ctrl, data))
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.9")}, ctrl.unblocked)

	data, _ = EncodeCommand(Command{Action: ActionReconcile})
	reply := Handle(ctrl, data)
	assert.True(t, reply.OK)
	assert.Equal(t, []string{"10.0.0.3"}, reply.Removed)
	assert.Equal(t, []string{"10.0.0.1"}, reply.Installed)

	ctrl.err = firewall.ErrNotTracked
	data, _ = EncodeCommand(Command{Action: ActionUnblock, Address: "10.0.0.9"})
	reply = Handle(ctrl, data)
	assert.False(t, reply.OK)
	assert.Equal(t, firewall.ErrNotTracked.Error(), reply.Error)
}

func TestReplyEncoding(t *testing.T) {
	data, err := EncodeReply(Reply{OK: true, Removed: []string{"10.0.0.3"}})
	require.NoError(t, err)
	r, err := DecodeReply(data)
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.Equal(t, []string{"10.0.0.3"}, r.Removed)
	assert.Empty(t, r.Installed)
}
