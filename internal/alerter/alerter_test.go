package alerter

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2NetGuard/internal/firewall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func TestAlerter_FlushConsolidates(t *testing.T) {
	n := &recordingNotifier{}
	a := NewAlerter(time.Hour, n)
	l := a.Listener()

	at := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)
	l(firewall.Event{Type: firewall.EventBlocked, Addr: netip.MustParseAddr("10.0.0.5"), Count: 3, Time: at})
	l(firewall.Event{Type: firewall.EventUnblocked, Addr: netip.MustParseAddr("10.0.0.6"), Time: at})
	l(firewall.Event{Type: firewall.EventBlockFailed, Addr: netip.MustParseAddr("10.0.0.7"), Count: 4, Time: at, Err: errors.New("<busy>")})

	a.Flush()
	a.Flush()

	require.Len(t, n.subjects, 1)
	assert.Equal(t, "Go2NetGuard: 1 blocked, 1 failed", n.subjects[0])
	assert.Contains(t, n.bodies[0], "2026-10-18T06:00:00Z blocked 10.0.0.5 (offenses: 3)")
	assert.Contains(t, n.bodies[0], "&lt;busy&gt;")
	assert.NotContains(t, n.bodies[0], "10.0.0.6")
}

func TestAlerter_StopFlushes(t *testing.T) {
	n := &recordingNotifier{}
	a := NewAlerter(time.Hour, n)
	a.Start()
	a.Listener()(firewall.Event{Type: firewall.EventBlocked, Addr: netip.MustParseAddr("10.0.0.5")})
	a.Stop()

	assert.Len(t, n.subjects, 1)
}
