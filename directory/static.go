package directory

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Static answers from a fixed set of reservations keyed by MAC address.
type Static struct {
	leases   map[string]Lease
	defaults Lease
}

func NewStatic(defaults Lease) *Static {
	return &Static{
		leases:   make(map[string]Lease),
		defaults: defaults,
	}
}

// Reserve binds mac to lease, replacing an earlier reservation.
func (s *Static) Reserve(mac string, lease Lease) error {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return fmt.Errorf("invalid reservation mac %q: %w", mac, err)
	}
	if lease.OfferedIP.To4() == nil {
		return fmt.Errorf("reservation %s: %v is not an ipv4 address", hw, lease.OfferedIP)
	}
	s.leases[hw.String()] = lease
	return nil
}

func (s *Static) Len() int {
	return len(s.leases)
}

func (s *Static) Lookup(_ context.Context, mac net.HardwareAddr, _ Hints) (*Lease, error) {
	lease, ok := s.leases[mac.String()]
	if !ok {
		return nil, ErrNoLease
	}
	merged := lease.WithDefaults(s.defaults)
	return &merged, nil
}
