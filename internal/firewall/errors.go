package firewall

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrNotTracked is returned by Unblock for an address the manager has never seen.
var ErrNotTracked = errors.New("address is not tracked")

// PrivilegeError reports that the firewall subsystem cannot be driven with the
// current privileges. It is fatal at startup.
type PrivilegeError struct {
	Op  string
	Err error
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("insufficient privilege to %s: %v", e.Op, e.Err)
}

func (e *PrivilegeError) Unwrap() error {
	return e.Err
}

// EnforcementError reports a failed rule operation for one address. The
// manager logs it and retries on the next tracking call.
type EnforcementError struct {
	Op   string // "install", "remove" or "list"
	Addr netip.Addr
	Err  error
}

func (e *EnforcementError) Error() string {
	if !e.Addr.IsValid() {
		return fmt.Sprintf("failed to %s block rules: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s block rule for %s: %v", e.Op, e.Addr, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}
