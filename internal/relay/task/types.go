package task

import (
	"fmt"
	"net/netip"

	"github.com/spaolacci/murmur3"
)

// HashID reduces a signaling identifier (call-id, from-tag, to-tag) to the
// fixed-width key used for channels and correlation tables.
func HashID(id string) uint64 {
	return murmur3.Sum64([]byte(id))
}

// ChannelID is the call-scoped bus channel key.
type ChannelID uint64

func (c ChannelID) String() string {
	return fmt.Sprintf("call:%016x", uint64(c))
}

// Ref addresses a task inside a Group. Gen changes every time the slot is
// vacated, so a Ref kept past the task's removal never matches its successor.
type Ref struct {
	Slot uint32
	Gen  uint32
}

func (r Ref) String() string {
	return fmt.Sprintf("%d/%d", r.Slot, r.Gen)
}

// Token packs r into the opaque value carried through the socket backend.
func (r Ref) Token() uint64 {
	return uint64(r.Slot)<<32 | uint64(r.Gen)
}

// RefFromToken reverses Ref.Token.
func RefFromToken(token uint64) Ref {
	return Ref{Slot: uint32(token >> 32), Gen: uint32(token)}
}

// Packet is what travels on a call channel between legs.
type Packet struct {
	FromLeg uint64
	Data    []byte
}

// Input is an event delivered to a task through Group.Dispatch.
type Input interface {
	isInput()
}

// BindConfirmed reports that the backend bound the task's socket.
type BindConfirmed struct{}

// SocketPacket is a datagram received on the task's own socket.
type SocketPacket struct {
	Data []byte
}

// ChannelMessage is a publication from a sibling leg.
type ChannelMessage struct {
	Packet Packet
}

func (BindConfirmed) isInput()  {}
func (SocketPacket) isInput()   {}
func (ChannelMessage) isInput() {}

// Output is an effect emitted by a task.
type Output interface {
	isOutput()
}

// Subscribe asks the runtime to attach the task to its call channel.
type Subscribe struct {
	Channel ChannelID
}

// Unsubscribe detaches the task from its call channel.
type Unsubscribe struct {
	Channel ChannelID
}

// Publish fans a packet out to the other legs of the call.
type Publish struct {
	Channel ChannelID
	Packet  Packet
}

// Forward sends a payload to the leg's signaled remote address.
type Forward struct {
	To   netip.AddrPort
	Data []byte
}

// Destroy is the last output of a task; Port goes back to the pool.
type Destroy struct {
	Port int
}

func (Subscribe) isOutput()   {}
func (Unsubscribe) isOutput() {}
func (Publish) isOutput()     {}
func (Forward) isOutput()     {}
func (Destroy) isOutput()     {}
