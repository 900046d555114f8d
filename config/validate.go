package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"bmcdhcp/options"
)

var (
	transports = map[string]bool{"udp": true, "pcap": true}
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
	backends   = map[string]bool{"static": true, "sqlite": true}
)

const messageTypeCode = 53

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ClientPort < 1 || c.Server.ClientPort > 65535 {
		add("server.clientPort %d out of range", c.Server.ClientPort)
	}
	if net.ParseIP(c.Server.ListenAddr).To4() == nil {
		add("server.listenAddr %q is not an ipv4 address", c.Server.ListenAddr)
	}
	if c.Server.ServerIP != "" && net.ParseIP(c.Server.ServerIP).To4() == nil {
		add("server.serverIP %q is not an ipv4 address", c.Server.ServerIP)
	}
	if !transports[c.Server.Transport] {
		add("server.transport %q must be udp or pcap", c.Server.Transport)
	}
	if c.Server.Transport == "pcap" && c.Server.ListenInterface == "" {
		add("server.transport pcap requires server.listenInterface")
	}
	if c.Server.ListenInterface == "" && c.Server.ServerIP == "" {
		add("one of server.listenInterface or server.serverIP must be set")
	}
	if !logLevels[strings.ToLower(c.Server.LogLevel)] {
		add("server.logLevel %q is not one of debug, info, warn, error", c.Server.LogLevel)
	}
	if !logFormats[strings.ToLower(c.Server.LogFormat)] {
		add("server.logFormat %q must be text or json", c.Server.LogFormat)
	}
	if c.Server.ReadBufferSize < 576 {
		add("server.readBufferSize %d is below the 576 byte dhcp minimum", c.Server.ReadBufferSize)
	}
	if c.Server.LookupTimeout < 0 {
		add("server.lookupTimeout must not be negative")
	}

	for key, value := range map[string]string{
		"dhcp.subnetMask":    c.DHCP.SubnetMask,
		"dhcp.router":        c.DHCP.Router,
		"dhcp.broadcastAddr": c.DHCP.BroadcastAddr,
	} {
		if value != "" && net.ParseIP(value).To4() == nil {
			add("%s %q is not an ipv4 address", key, value)
		}
	}
	for _, list := range [][]string{c.DHCP.DNSServer, c.DHCP.NTPServer} {
		for _, value := range list {
			if net.ParseIP(value).To4() == nil {
				add("dhcp server address %q is not an ipv4 address", value)
			}
		}
	}
	if c.DHCP.LeaseLen < 0 || c.DHCP.RenewalLen < 0 {
		add("dhcp.leaseLen and dhcp.renewalLen must not be negative")
	}

	if !backends[c.Directory.Backend] {
		add("directory.backend %q must be static or sqlite", c.Directory.Backend)
	}
	if c.Directory.Backend == "sqlite" && c.Directory.Path == "" {
		add("directory.backend sqlite requires directory.path")
	}
	if c.Directory.ARPProbe && c.Server.ListenInterface == "" {
		add("directory.arpProbe requires server.listenInterface")
	}
	for i, r := range c.Directory.Reservations {
		if _, err := net.ParseMAC(r.MAC); err != nil {
			add("directory.reservations[%d]: invalid mac %q", i, r.MAC)
		}
		if net.ParseIP(r.IP).To4() == nil {
			add("directory.reservations[%d]: %q is not an ipv4 address", i, r.IP)
		}
	}

	if c.Offers.TTL < 0 || c.Offers.MaxEntries < 0 {
		add("offers.ttl and offers.maxEntries must not be negative")
	}

	for key, def := range c.Options {
		if code, err := optionCode(key); err != nil {
			errs = append(errs, err)
		} else if code == messageTypeCode {
			add("options.%s: message-type cannot be redefined", key)
		}
		switch strings.ToLower(strings.TrimSpace(def.Name)) {
		case "":
			add("options.%s: name must be set", key)
		case options.MessageType:
			add("options.%s: name %s is reserved", key, options.MessageType)
		}
		if _, err := options.ParseCodec(def.Codec); err != nil {
			add("options.%s: %w", key, err)
		}
	}

	return errors.Join(errs...)
}

func optionCode(key string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil || code < 1 || code > 254 {
		return 0, fmt.Errorf("options.%s: option code must be between 1 and 254", key)
	}
	return code, nil
}
