package database

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmcdhcp/directory"
	"bmcdhcp/options"
)

var hostMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := ConnectDatabase(":memory:")
	require.NoError(t, err)

	d := New(db, options.NewRegistry(), directory.Lease{
		SubnetMask: net.IPv4(255, 255, 255, 0),
		LeaseTime:  time.Hour,
	})
	t.Cleanup(func() { d.Close() })
	return d
}

func TestLookup(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertHost(ctx, Host{
		MAC:      "aa:bb:cc:dd:ee:01",
		IP:       "10.0.0.50",
		Gateway:  "10.0.0.1",
		Hostname: "bmc-01",
		Options:  map[string]string{"tftp-filename": "pxelinux.0", "domain-name-servers": "10.0.0.2,10.0.0.3"},
		Enabled:  true,
	}))

	lease, err := d.Lookup(ctx, hostMAC, directory.Hints{})
	require.NoError(t, err)

	assert.True(t, lease.OfferedIP.Equal(net.IPv4(10, 0, 0, 50)))
	assert.True(t, lease.Gateway.Equal(net.IPv4(10, 0, 0, 1)))
	assert.True(t, lease.SubnetMask.Equal(net.IPv4(255, 255, 255, 0)))
	assert.Equal(t, time.Hour, lease.LeaseTime)
	assert.Equal(t, "bmc-01", lease.Hostname)
	assert.Equal(t, "pxelinux.0", lease.ExtraOptions[options.TFTPFilename].String())
	assert.Equal(t, "10.0.0.2,10.0.0.3", lease.ExtraOptions[options.DomainNameServers].String())
}

func TestLookupUnknownAndDisabled(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	_, err := d.Lookup(ctx, hostMAC, directory.Hints{})
	assert.ErrorIs(t, err, directory.ErrNoLease)

	require.NoError(t, d.UpsertHost(ctx, Host{MAC: hostMAC.String(), IP: "10.0.0.50", Enabled: false}))
	_, err = d.Lookup(ctx, hostMAC, directory.Hints{})
	assert.ErrorIs(t, err, directory.ErrNoLease)
}

func TestUpsertReplaces(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertHost(ctx, Host{MAC: hostMAC.String(), IP: "10.0.0.50", Enabled: true}))
	require.NoError(t, d.UpsertHost(ctx, Host{MAC: hostMAC.String(), IP: "10.0.0.51", LeaseLen: 60, Enabled: true}))

	lease, err := d.Lookup(ctx, hostMAC, directory.Hints{})
	require.NoError(t, err)
	assert.True(t, lease.OfferedIP.Equal(net.IPv4(10, 0, 0, 51)))
	assert.Equal(t, time.Minute, lease.LeaseTime)

	require.NoError(t, d.DeleteHost(ctx, hostMAC))
	_, err = d.Lookup(ctx, hostMAC, directory.Hints{})
	assert.ErrorIs(t, err, directory.ErrNoLease)
}

func TestUpsertValidation(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	assert.Error(t, d.UpsertHost(ctx, Host{MAC: "zz", IP: "10.0.0.1"}))
	assert.Error(t, d.UpsertHost(ctx, Host{MAC: hostMAC.String(), IP: "fe80::1"}))
}

func TestLookupBadOption(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertHost(ctx, Host{
		MAC:     hostMAC.String(),
		IP:      "10.0.0.50",
		Options: map[string]string{"router": "nope"},
		Enabled: true,
	}))

	_, err := d.Lookup(ctx, hostMAC, directory.Hints{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, directory.ErrNoLease)
}

func TestRecordLease(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.RecordLease(ctx, hostMAC, net.IPv4(10, 0, 0, 50), time.Hour))
	require.NoError(t, d.RecordLease(ctx, hostMAC, net.IPv4(10, 0, 0, 51), time.Hour))

	leases, err := d.GetLeases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, "10.0.0.51", leases[0].IP)
	assert.Equal(t, 3600, leases[0].LeaseLen)
}
