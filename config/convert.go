package config

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/gopacket/layers"

	"bmcdhcp/directory"
	"bmcdhcp/options"
)

// Registry returns the built-in option registry extended with the
// configured definitions. The caller freezes it.
func (c *Config) Registry() (*options.Registry, error) {
	reg := options.NewRegistry()

	keys := make([]string, 0, len(c.Options))
	for key := range c.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		def := c.Options[key]
		code, err := optionCode(key)
		if err != nil {
			return nil, err
		}
		codec, err := options.ParseCodec(def.Codec)
		if err != nil {
			return nil, fmt.Errorf("options.%s: %w", key, err)
		}
		if err := reg.Register(layers.DHCPOpt(code), def.Name, codec); err != nil {
			return nil, fmt.Errorf("options.%s: %w", key, err)
		}
	}
	return reg, nil
}

// DefaultLease converts the dhcp section into the lease every directory
// answer is completed with.
func (c *Config) DefaultLease() directory.Lease {
	d := c.DHCP
	lease := directory.Lease{
		SubnetMask:    parseIP(d.SubnetMask),
		Gateway:       parseIP(d.Router),
		BroadcastAddr: parseIP(d.BroadcastAddr),
		DNSServers:    parseIPs(d.DNSServer),
		DomainName:    d.DomainName,
		LeaseTime:     time.Duration(d.LeaseLen) * time.Second,
		RenewalTime:   time.Duration(d.RenewalLen) * time.Second,
	}

	extra := make(map[string]options.Value)
	if ntp := parseIPs(d.NTPServer); len(ntp) > 0 {
		extra[options.NTPServers] = options.IPs(ntp...)
	}
	if d.TFTPServer != "" {
		extra[options.TFTPServer] = options.String(d.TFTPServer)
	}
	if d.BootFile != "" {
		extra[options.TFTPFilename] = options.String(d.BootFile)
	}
	if len(extra) > 0 {
		lease.ExtraOptions = extra
	}
	return lease
}

// StaticDirectory builds a directory from the configured reservations.
// Option values are parsed with reg.
func (c *Config) StaticDirectory(reg *options.Registry) (*directory.Static, error) {
	static := directory.NewStatic(c.DefaultLease())

	for i, r := range c.Directory.Reservations {
		lease := directory.Lease{
			OfferedIP:  parseIP(r.IP),
			Hostname:   r.Hostname,
			SubnetMask: parseIP(r.SubnetMask),
			Gateway:    parseIP(r.Router),
			LeaseTime:  time.Duration(r.LeaseLen) * time.Second,
		}
		if len(r.Options) > 0 {
			lease.ExtraOptions = make(map[string]options.Value, len(r.Options))
			for name, text := range r.Options {
				v, err := reg.ParseValue(name, text)
				if err != nil {
					return nil, fmt.Errorf("directory.reservations[%d]: %w", i, err)
				}
				lease.ExtraOptions[name] = v
			}
		}
		if err := static.Reserve(r.MAC, lease); err != nil {
			return nil, fmt.Errorf("directory.reservations[%d]: %w", i, err)
		}
	}
	return static, nil
}

func parseIP(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s).To4()
}

func parseIPs(list []string) []net.IP {
	var ips []net.IP
	for _, s := range list {
		if ip := parseIP(s); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}
