package firewall

import (
	"net/netip"
	"sort"
	"sync"
)

// Backend is the live enforcement rule set, keyed by source address.
// Implementations need not be safe for concurrent use; the Manager
// serializes every call.
type Backend interface {
	InstallBlock(addr netip.Addr) error
	RemoveBlock(addr netip.Addr) error
	ListActiveBlocks() ([]netip.Addr, error)
	Close() error
}

// MemoryBackend keeps block rules in process memory. It backs dry runs with
// firewall_enabled=false and the tests.
type MemoryBackend struct {
	mu    sync.Mutex
	rules map[netip.Addr]struct{}

	// FailInstall, FailRemove and FailList inject errors into the matching call.
	FailInstall func(netip.Addr) error
	FailRemove  func(netip.Addr) error
	FailList    func() error

	Installs int
	Removes  int
}

// NewMemoryBackend returns an empty rule set.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rules: make(map[netip.Addr]struct{})}
}

func (b *MemoryBackend) InstallBlock(addr netip.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailInstall != nil {
		if err := b.FailInstall(addr); err != nil {
			return err
		}
	}
	b.Installs++
	b.rules[addr] = struct{}{}
	return nil
}

func (b *MemoryBackend) RemoveBlock(addr netip.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailRemove != nil {
		if err := b.FailRemove(addr); err != nil {
			return err
		}
	}
	b.Removes++
	delete(b.rules, addr)
	return nil
}

func (b *MemoryBackend) ListActiveBlocks() ([]netip.Addr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailList != nil {
		if err := b.FailList(); err != nil {
			return nil, err
		}
	}
	out := make([]netip.Addr, 0, len(b.rules))
	for a := range b.rules {
		out = append(out, a)
	}
	sortAddrs(out)
	return out, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// Inject adds a rule behind the manager's back, as an external tool would.
func (b *MemoryBackend) Inject(addr netip.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[addr] = struct{}{}
}

// Flush drops every rule, as an external `nft flush ruleset` would.
func (b *MemoryBackend) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = make(map[netip.Addr]struct{})
}

func sortAddrs(addrs []netip.Addr) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
