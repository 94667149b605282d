package transport

import (
	"fmt"
	"net"
)

// interfaceMAC looks up the hardware address of a named network
// interface for use as an Ethernet frame's source address.
func interfaceMAC(name string) ([6]byte, error) {
	var mac [6]byte

	iface, err := net.InterfaceByName(name)
	if err != nil {
		return mac, fmt.Errorf("lookup interface %q: %w", name, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return mac, fmt.Errorf("interface %q has no Ethernet hardware address", name)
	}
	copy(mac[:], iface.HardwareAddr)
	return mac, nil
}
