//go:build linux
// +build linux

package firewall

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	chainName = "input"
	setV4     = "blocked_v4"
	setV6     = "blocked_v6"
)

// NFTablesBackend enforces blocks with an inet table holding one address set
// per family and an input chain that drops traffic from set members.
type NFTablesBackend struct {
	conn  *nftables.Conn
	table *nftables.Table
	chain *nftables.Chain
	v4    *nftables.Set
	v6    *nftables.Set
}

// NewNFTablesBackend creates (or takes over) the named table. Missing
// privileges are reported as *PrivilegeError.
func NewNFTablesBackend(tableName string) (*NFTablesBackend, error) {
	if os.Geteuid() != 0 {
		return nil, &PrivilegeError{Op: "manage nftables", Err: fmt.Errorf("effective uid %d is not root", os.Geteuid())}
	}

	conn, err := nftables.New()
	if err != nil {
		return nil, classify("open netlink connection", err)
	}

	b := &NFTablesBackend{conn: conn}
	if err := b.setup(tableName); err != nil {
		return nil, err
	}
	log.WithField("table", tableName).Println("nftables block table ready")
	return b, nil
}

func (b *NFTablesBackend) setup(tableName string) error {
	b.table = b.conn.AddTable(&nftables.Table{Name: tableName, Family: nftables.TableFamilyINet})

	policy := nftables.ChainPolicyAccept
	b.chain = b.conn.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    b.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	b.v4 = &nftables.Set{Table: b.table, Name: setV4, KeyType: nftables.TypeIPAddr}
	if err := b.conn.AddSet(b.v4, nil); err != nil {
		return fmt.Errorf("failed to add set %s: %w", setV4, err)
	}
	b.v6 = &nftables.Set{Table: b.table, Name: setV6, KeyType: nftables.TypeIP6Addr}
	if err := b.conn.AddSet(b.v6, nil); err != nil {
		return fmt.Errorf("failed to add set %s: %w", setV6, err)
	}

	// Rebuild the chain so a restart never stacks duplicate rules.
	b.conn.FlushChain(b.chain)
	b.conn.AddRule(&nftables.Rule{Table: b.table, Chain: b.chain, Exprs: dropFromSet(unix.NFPROTO_IPV4, 12, 4, b.v4)})
	b.conn.AddRule(&nftables.Rule{Table: b.table, Chain: b.chain, Exprs: dropFromSet(unix.NFPROTO_IPV6, 8, 16, b.v6)})

	if err := b.conn.Flush(); err != nil {
		return classify("create nftables table", err)
	}
	return nil
}

// dropFromSet matches the network-layer source address of one family
// against set and drops on a hit.
func dropFromSet(family byte, offset, length uint32, set *nftables.Set) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{family}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: length},
		&expr.Lookup{SourceRegister: 1, SetName: set.Name, SetID: set.ID},
		&expr.Counter{},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}

func (b *NFTablesBackend) setFor(addr netip.Addr) (*nftables.Set, []byte) {
	if addr.Is4() || addr.Is4In6() {
		a := addr.Unmap().As4()
		return b.v4, a[:]
	}
	a := addr.As16()
	return b.v6, a[:]
}

func (b *NFTablesBackend) InstallBlock(addr netip.Addr) error {
	set, key := b.setFor(addr)
	if err := b.conn.SetAddElements(set, []nftables.SetElement{{Key: key}}); err != nil {
		return err
	}
	return b.conn.Flush()
}

func (b *NFTablesBackend) RemoveBlock(addr netip.Addr) error {
	set, key := b.setFor(addr)
	if err := b.conn.SetDeleteElements(set, []nftables.SetElement{{Key: key}}); err != nil {
		return err
	}
	return b.conn.Flush()
}

func (b *NFTablesBackend) ListActiveBlocks() ([]netip.Addr, error) {
	var out []netip.Addr
	for _, set := range []*nftables.Set{b.v4, b.v6} {
		elements, err := b.conn.GetSetElements(set)
		if err != nil {
			return nil, fmt.Errorf("failed to list set %s: %w", set.Name, err)
		}
		for _, e := range elements {
			if addr, ok := netip.AddrFromSlice(e.Key); ok {
				out = append(out, addr)
			}
		}
	}
	sortAddrs(out)
	return out, nil
}

// Close removes the table, and with it every block this process installed.
func (b *NFTablesBackend) Close() error {
	b.conn.DelTable(b.table)
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("failed to delete nftables table: %w", err)
	}
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return &PrivilegeError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
