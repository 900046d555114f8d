// Package device resolves the addresses the server answers from.
package device

import (
	"fmt"
	"net"
)

// Identity is the address the server stamps into replies plus the
// interface it was taken from. MAC is nil when the interface has none.
type Identity struct {
	Interface *net.Interface
	IP        net.IP
	MAC       net.HardwareAddr
}

// Resolve returns the identity for ifaceName. A non-nil override replaces
// the interface address. An empty ifaceName requires an override.
func Resolve(ifaceName string, override net.IP) (*Identity, error) {
	if ifaceName == "" || ifaceName == "any" {
		if override.To4() == nil {
			return nil, fmt.Errorf("server ip must be set when no listen interface is configured")
		}
		return &Identity{IP: override.To4()}, nil
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s by name: %w", ifaceName, err)
	}

	id := &Identity{Interface: iface}
	// Interfaces such as loopback have no hardware address.
	if mac, err := GetInterfaceMAC(iface); err == nil {
		id.MAC = mac
	}
	if override.To4() != nil {
		id.IP = override.To4()
		return id, nil
	}

	id.IP, err = GetInterfaceIP(iface)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Return first IPv4 address bound to iface
func GetInterfaceIP(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses bound to interface %s: %w", iface.Name, err)
	}
	return firstIPv4(addrs, iface.Name)
}

func firstIPv4(addrs []net.Addr, ifaceName string) (net.IP, error) {
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if ok && ipNet.IP.To4() != nil {
			return ipNet.IP.To4(), nil
		}
	}
	return nil, fmt.Errorf("no valid ipv4 address found on interface %s", ifaceName)
}

// Return hardware address associated with iface
func GetInterfaceMAC(iface *net.Interface) (net.HardwareAddr, error) {
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("iface %s does not have a hardware address", iface.Name)
	}
	return iface.HardwareAddr, nil
}
