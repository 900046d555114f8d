package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bmcdhcp/directory"
	"bmcdhcp/options"
)

const timeLayout = "2006-01-02 15:04:05"

// Host is one inventory row.
type Host struct {
	ID         int
	MAC        string
	IP         string
	SubnetMask string
	Gateway    string
	Broadcast  string
	Hostname   string
	LeaseLen   int
	RenewalLen int
	Options    map[string]string
	Enabled    bool
}

// Lease is one acknowledged address, kept for bookkeeping.
type Lease struct {
	MAC      string
	IP       string
	LeaseLen int
	LeasedOn string
}

const hostsTableSQL = `CREATE TABLE IF NOT EXISTS hosts (
	"id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"mac" TEXT UNIQUE NOT NULL,
	"ip" TEXT UNIQUE NOT NULL,
	"subnet_mask" TEXT NOT NULL DEFAULT '',
	"gateway" TEXT NOT NULL DEFAULT '',
	"broadcast" TEXT NOT NULL DEFAULT '',
	"hostname" TEXT NOT NULL DEFAULT '',
	"lease_len" INTEGER NOT NULL DEFAULT 0,
	"renewal_len" INTEGER NOT NULL DEFAULT 0,
	"options" TEXT NOT NULL DEFAULT '{}',
	"enabled" BOOLEAN NOT NULL DEFAULT 1
);`

const leasesTableSQL = `CREATE TABLE IF NOT EXISTS leases (
	"id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"mac" TEXT UNIQUE NOT NULL,
	"ip" TEXT NOT NULL,
	"lease_len" INTEGER,
	"leased_on" TEXT
);`

// Database is a directory backed by a sqlite inventory.
type Database struct {
	db       *sql.DB
	registry *options.Registry
	defaults directory.Lease
}

func ConnectDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One connection, so ":memory:" databases are shared by every query.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", path, err)
	}

	if err := CreateTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func CreateTables(db *sql.DB) error {
	if _, err := db.Exec(hostsTableSQL); err != nil {
		return fmt.Errorf("error creating hosts table: %w", err)
	}
	if _, err := db.Exec(leasesTableSQL); err != nil {
		return fmt.Errorf("error creating leases table: %w", err)
	}
	return nil
}

// New wraps an open connection. Option values stored as text are parsed
// with registry; unset lease fields fall back to defaults.
func New(db *sql.DB, registry *options.Registry, defaults directory.Lease) *Database {
	return &Database{
		db:       db,
		registry: registry,
		defaults: defaults,
	}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// UpsertHost inserts or replaces the inventory row for host.MAC.
func (d *Database) UpsertHost(ctx context.Context, host Host) error {
	mac, err := net.ParseMAC(host.MAC)
	if err != nil {
		return fmt.Errorf("invalid host mac %q: %w", host.MAC, err)
	}
	if net.ParseIP(host.IP).To4() == nil {
		return fmt.Errorf("host %s: invalid ipv4 address %q", mac, host.IP)
	}
	opts, err := json.Marshal(host.Options)
	if err != nil {
		return fmt.Errorf("host %s: failed to marshal options: %w", mac, err)
	}

	upsert := `INSERT INTO hosts (mac, ip, subnet_mask, gateway, broadcast, hostname, lease_len, renewal_len, options, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			ip = excluded.ip,
			subnet_mask = excluded.subnet_mask,
			gateway = excluded.gateway,
			broadcast = excluded.broadcast,
			hostname = excluded.hostname,
			lease_len = excluded.lease_len,
			renewal_len = excluded.renewal_len,
			options = excluded.options,
			enabled = excluded.enabled;`
	_, err = d.db.ExecContext(ctx, upsert, mac.String(), host.IP, host.SubnetMask, host.Gateway, host.Broadcast,
		host.Hostname, host.LeaseLen, host.RenewalLen, string(opts), host.Enabled)
	if err != nil {
		return fmt.Errorf("error saving host %s: %w", mac, err)
	}
	return nil
}

func (d *Database) DeleteHost(ctx context.Context, mac net.HardwareAddr) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM hosts WHERE mac = ?;`, mac.String())
	if err != nil {
		return fmt.Errorf("error deleting host %s: %w", mac, err)
	}
	return nil
}

func (d *Database) GetHost(ctx context.Context, mac net.HardwareAddr) (*Host, error) {
	query := `SELECT id, mac, ip, subnet_mask, gateway, broadcast, hostname, lease_len, renewal_len, options, enabled
		FROM hosts WHERE mac = ?;`

	var host Host
	var opts string
	err := d.db.QueryRowContext(ctx, query, mac.String()).Scan(&host.ID, &host.MAC, &host.IP, &host.SubnetMask,
		&host.Gateway, &host.Broadcast, &host.Hostname, &host.LeaseLen, &host.RenewalLen, &opts, &host.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, directory.ErrNoLease
		}
		return nil, fmt.Errorf("error querying host %s: %w", mac, err)
	}
	if err := json.Unmarshal([]byte(opts), &host.Options); err != nil {
		return nil, fmt.Errorf("host %s: invalid options column: %w", mac, err)
	}
	return &host, nil
}

// Lookup implements directory.Directory.
func (d *Database) Lookup(ctx context.Context, mac net.HardwareAddr, _ directory.Hints) (*directory.Lease, error) {
	host, err := d.GetHost(ctx, mac)
	if err != nil {
		return nil, err
	}
	if !host.Enabled {
		slog.Debug("Host is disabled in inventory", "mac", mac.String())
		return nil, directory.ErrNoLease
	}

	lease, err := d.toLease(host)
	if err != nil {
		return nil, err
	}
	merged := lease.WithDefaults(d.defaults)
	return &merged, nil
}

func (d *Database) toLease(host *Host) (directory.Lease, error) {
	lease := directory.Lease{
		OfferedIP:     net.ParseIP(host.IP).To4(),
		SubnetMask:    parseOptionalIP(host.SubnetMask),
		Gateway:       parseOptionalIP(host.Gateway),
		BroadcastAddr: parseOptionalIP(host.Broadcast),
		Hostname:      host.Hostname,
		LeaseTime:     time.Duration(host.LeaseLen) * time.Second,
		RenewalTime:   time.Duration(host.RenewalLen) * time.Second,
	}
	if lease.OfferedIP == nil {
		return directory.Lease{}, fmt.Errorf("host %s: invalid ipv4 address %q", host.MAC, host.IP)
	}

	if len(host.Options) > 0 {
		lease.ExtraOptions = make(map[string]options.Value, len(host.Options))
		for name, text := range host.Options {
			v, err := d.registry.ParseValue(name, text)
			if err != nil {
				return directory.Lease{}, fmt.Errorf("host %s: %w", host.MAC, err)
			}
			lease.ExtraOptions[name] = v
		}
	}
	return lease, nil
}

func parseOptionalIP(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s).To4()
}

// RecordLease remembers that ip was acknowledged to mac.
func (d *Database) RecordLease(ctx context.Context, mac net.HardwareAddr, ip net.IP, leaseLen time.Duration) error {
	upsert := `INSERT INTO leases (mac, ip, lease_len, leased_on) VALUES (?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET ip = excluded.ip, lease_len = excluded.lease_len, leased_on = excluded.leased_on;`
	_, err := d.db.ExecContext(ctx, upsert, mac.String(), ip.String(), int(leaseLen.Seconds()), time.Now().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("error recording lease for %s: %w", mac, err)
	}
	return nil
}

func (d *Database) GetLeases(ctx context.Context) ([]Lease, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT mac, ip, lease_len, leased_on FROM leases ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("error querying leases: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var lease Lease
		if err := rows.Scan(&lease.MAC, &lease.IP, &lease.LeaseLen, &lease.LeasedOn); err != nil {
			return nil, fmt.Errorf("error scanning lease: %w", err)
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}
