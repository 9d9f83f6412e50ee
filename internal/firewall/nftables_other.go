//go:build !linux
// +build !linux

package firewall

import (
	"errors"
	"net/netip"
)

// NFTablesBackend is only available on Linux.
type NFTablesBackend struct{}

func NewNFTablesBackend(string) (*NFTablesBackend, error) {
	return nil, &PrivilegeError{Op: "manage nftables", Err: errors.New("nftables requires linux")}
}

func (b *NFTablesBackend) InstallBlock(netip.Addr) error           { return errors.ErrUnsupported }
func (b *NFTablesBackend) RemoveBlock(netip.Addr) error            { return errors.ErrUnsupported }
func (b *NFTablesBackend) ListActiveBlocks() ([]netip.Addr, error) { return nil, errors.ErrUnsupported }
func (b *NFTablesBackend) Close() error                            { return nil }
