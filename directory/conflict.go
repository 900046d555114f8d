package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/mdlayher/arp"
)

var ErrAddressInUse = errors.New("address already in use")

// Resolver is the part of *arp.Client the guard needs.
type Resolver interface {
	Resolve(ip netip.Addr) (net.HardwareAddr, error)
	SetDeadline(t time.Time) error
}

// ConflictGuard probes every address the wrapped directory hands out and
// declines it when another host answers ARP for it.
type ConflictGuard struct {
	next     Directory
	resolver Resolver
	timeout  time.Duration
	mu       sync.Mutex
}

func NewConflictGuard(next Directory, resolver Resolver, timeout time.Duration) *ConflictGuard {
	return &ConflictGuard{
		next:     next,
		resolver: resolver,
		timeout:  timeout,
	}
}

// DialARP opens an ARP client on the named interface.
func DialARP(ifaceName string) (*arp.Client, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface by name of %s: %w", ifaceName, err)
	}
	client, err := arp.Dial(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open arp client on %s: %w", ifaceName, err)
	}
	return client, nil
}

func (g *ConflictGuard) Lookup(ctx context.Context, mac net.HardwareAddr, hints Hints) (*Lease, error) {
	lease, err := g.next.Lookup(ctx, mac, hints)
	if err != nil {
		return nil, err
	}

	owner, ok := g.probe(lease.OfferedIP)
	if ok && !bytes.Equal(owner, mac) {
		return nil, fmt.Errorf("%w: %s answered arp for %s", ErrAddressInUse, owner, lease.OfferedIP)
	}
	return lease, nil
}

// probe returns the hardware address answering for ip, if any answered
// before the timeout.
func (g *ConflictGuard) probe(ip net.IP) (net.HardwareAddr, bool) {
	addr, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return nil, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.resolver.SetDeadline(time.Now().Add(g.timeout)); err != nil {
		slog.Error("Failed to set arp deadline", "error", err)
		return nil, false
	}
	owner, err := g.resolver.Resolve(addr)
	if err != nil {
		slog.Debug("No arp reply, address looks free", "ip", ip.String(), "error", err)
		return nil, false
	}
	slog.Debug("Received arp reply", "ip", ip.String(), "mac", owner.String())
	return owner, true
}
