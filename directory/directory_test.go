package directory

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmcdhcp/options"
)

var clientMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}

func defaultLease() Lease {
	return Lease{
		SubnetMask:  net.IPv4(255, 255, 255, 0),
		Gateway:     net.IPv4(10, 0, 0, 1),
		LeaseTime:   time.Hour,
		RenewalTime: 30 * time.Minute,
		ExtraOptions: map[string]options.Value{
			options.DomainName: options.String("lab"),
			options.TFTPServer: options.String("10.0.0.2"),
		},
	}
}

func TestStaticLookup(t *testing.T) {
	s := NewStatic(defaultLease())
	require.NoError(t, s.Reserve("AA:BB:CC:DD:EE:01", Lease{
		OfferedIP: net.IPv4(10, 0, 0, 50),
		Hostname:  "bmc-01",
		LeaseTime: 2 * time.Hour,
		ExtraOptions: map[string]options.Value{
			options.DomainName: options.String("bmc.lab"),
		},
	}))

	lease, err := s.Lookup(context.Background(), clientMAC, Hints{})
	require.NoError(t, err)

	assert.True(t, lease.OfferedIP.Equal(net.IPv4(10, 0, 0, 50)))
	assert.True(t, lease.SubnetMask.Equal(net.IPv4(255, 255, 255, 0)))
	assert.Equal(t, 2*time.Hour, lease.LeaseTime)
	assert.Equal(t, 30*time.Minute, lease.RenewalTime)
	assert.Equal(t, "bmc-01", lease.Hostname)
	assert.Equal(t, "bmc.lab", lease.ExtraOptions[options.DomainName].String())
	assert.Equal(t, "10.0.0.2", lease.ExtraOptions[options.TFTPServer].String())
}

func TestStaticUnknownMAC(t *testing.T) {
	s := NewStatic(defaultLease())

	lease, err := s.Lookup(context.Background(), clientMAC, Hints{})
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrNoLease)
}

func TestStaticReserveValidation(t *testing.T) {
	s := NewStatic(Lease{})

	assert.Error(t, s.Reserve("not-a-mac", Lease{OfferedIP: net.IPv4(10, 0, 0, 1)}))
	assert.Error(t, s.Reserve("aa:bb:cc:dd:ee:01", Lease{}))
	assert.Equal(t, 0, s.Len())
}

type fakeResolver struct {
	answers map[netip.Addr]net.HardwareAddr
	asked   []netip.Addr
}

func (f *fakeResolver) Resolve(ip netip.Addr) (net.HardwareAddr, error) {
	f.asked = append(f.asked, ip)
	if mac, ok := f.answers[ip]; ok {
		return mac, nil
	}
	return nil, errors.New("i/o timeout")
}

func (f *fakeResolver) SetDeadline(time.Time) error {
	return nil
}

func TestConflictGuard(t *testing.T) {
	offered := net.IPv4(10, 0, 0, 50)
	next := Func(func(context.Context, net.HardwareAddr, Hints) (*Lease, error) {
		return &Lease{OfferedIP: offered}, nil
	})

	resolver := &fakeResolver{answers: map[netip.Addr]net.HardwareAddr{}}
	g := NewConflictGuard(next, resolver, 10*time.Millisecond)

	lease, err := g.Lookup(context.Background(), clientMAC, Hints{})
	require.NoError(t, err)
	assert.True(t, lease.OfferedIP.Equal(offered))
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.50")}, resolver.asked)

	// The client itself answering is not a conflict.
	resolver.answers[netip.MustParseAddr("10.0.0.50")] = clientMAC
	_, err = g.Lookup(context.Background(), clientMAC, Hints{})
	require.NoError(t, err)

	resolver.answers[netip.MustParseAddr("10.0.0.50")] = net.HardwareAddr{1, 2, 3, 4, 5, 6}
	lease, err = g.Lookup(context.Background(), clientMAC, Hints{})
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrAddressInUse)
}

func TestConflictGuardPassesDecline(t *testing.T) {
	resolver := &fakeResolver{}
	g := NewConflictGuard(NewStatic(Lease{}), resolver, time.Millisecond)

	_, err := g.Lookup(context.Background(), clientMAC, Hints{})
	assert.ErrorIs(t, err, ErrNoLease)
	assert.Empty(t, resolver.asked)
}
