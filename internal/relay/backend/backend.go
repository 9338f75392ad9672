// Package backend owns the media sockets. The relay core never touches a
// socket directly: it asks a Backend to listen, unlisten and send, and
// receives bind results and datagrams back as events.
package backend

import (
	"fmt"
	"net/netip"
)

// SocketID is an opaque handle for a bound socket.
type SocketID uint64

func (s SocketID) String() string {
	return fmt.Sprintf("sock-%d", uint64(s))
}

// Event is delivered on Backend.Events.
type Event interface {
	isEvent()
}

// ListenResult answers a Listen call. Token is echoed unchanged from the
// request. Err is set when the bind failed.
type ListenResult struct {
	Addr   netip.AddrPort
	Token  uint64
	Socket SocketID
	Err    error
}

// Packet is a datagram received on a bound socket.
type Packet struct {
	Socket SocketID
	From   netip.AddrPort
	Data   []byte
}

func (ListenResult) isEvent() {}
func (Packet) isEvent()       {}

// Backend performs socket IO on behalf of a shard.
type Backend interface {
	// Listen binds addr asynchronously; the outcome arrives as a ListenResult
	// carrying token.
	Listen(addr netip.AddrPort, token uint64)
	Unlisten(socket SocketID) error
	Send(socket SocketID, to netip.AddrPort, data []byte) error
	Events() <-chan Event
	Close() error
}
