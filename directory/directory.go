// Package directory describes where lease parameters come from. The server
// asks a Directory once per DISCOVER and stays silent when it declines.
package directory

import (
	"context"
	"errors"
	"net"
	"time"

	"bmcdhcp/options"
)

// ErrNoLease is returned when the directory has nothing for a client.
var ErrNoLease = errors.New("no lease available")

// Lease is the directory's answer for one client.
type Lease struct {
	OfferedIP     net.IP
	SubnetMask    net.IP
	Gateway       net.IP
	BroadcastAddr net.IP
	DNSServers    []net.IP
	Hostname      string
	DomainName    string
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	ExtraOptions  map[string]options.Value
}

// Hints are the request fields a directory may use to pick an answer.
type Hints struct {
	VendorClass string
	ClientID    []byte
	RequestedIP net.IP
	Hostname    string
}

type Directory interface {
	Lookup(ctx context.Context, mac net.HardwareAddr, hints Hints) (*Lease, error)
}

// Func adapts a function to Directory.
type Func func(ctx context.Context, mac net.HardwareAddr, hints Hints) (*Lease, error)

func (f Func) Lookup(ctx context.Context, mac net.HardwareAddr, hints Hints) (*Lease, error) {
	return f(ctx, mac, hints)
}

// WithDefaults returns a copy of l where every unset field is taken from d.
func (l Lease) WithDefaults(d Lease) Lease {
	if l.SubnetMask == nil {
		l.SubnetMask = d.SubnetMask
	}
	if l.Gateway == nil {
		l.Gateway = d.Gateway
	}
	if l.BroadcastAddr == nil {
		l.BroadcastAddr = d.BroadcastAddr
	}
	if len(l.DNSServers) == 0 {
		l.DNSServers = d.DNSServers
	}
	if l.DomainName == "" {
		l.DomainName = d.DomainName
	}
	if l.LeaseTime == 0 {
		l.LeaseTime = d.LeaseTime
	}
	if l.RenewalTime == 0 {
		l.RenewalTime = d.RenewalTime
	}
	if len(d.ExtraOptions) > 0 {
		extra := make(map[string]options.Value, len(d.ExtraOptions)+len(l.ExtraOptions))
		for name, v := range d.ExtraOptions {
			extra[name] = v
		}
		for name, v := range l.ExtraOptions {
			extra[name] = v
		}
		l.ExtraOptions = extra
	}
	return l
}

// Recorder is implemented by directories that keep a record of
// acknowledged leases.
type Recorder interface {
	RecordLease(ctx context.Context, mac net.HardwareAddr, ip net.IP, leaseTime time.Duration) error
}
