// Package circuit tracks per-peer connection state over the datagram
// transport: outgoing sequence assignment, incoming gap detection, the
// health state machine and traffic statistics.
package circuit

import (
	"fmt"
	"net"
)

// Peer identifies the remote end of a circuit. It is a plain value type
// so it can key maps directly; re-resolving the host is an explicit
// operation, never a mutation.
type Peer struct {
	Host string
	Port uint16
}

// PeerFromAddr derives a Peer from a resolved UDP address.
func PeerFromAddr(addr *net.UDPAddr) Peer {
	return Peer{Host: addr.IP.String(), Port: uint16(addr.Port)}
}

// Resolve looks the peer up as a UDP address.
func (p Peer) Resolve() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", p.String())
}

func (p Peer) String() string {
	return net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
}
