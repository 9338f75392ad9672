package worker

import (
	"net/netip"
	"time"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/media"
	"github.com/sebas/relayengine/internal/relay/task"
)

// ReasonUnknownCommand is the error reason for requests the worker does not
// handle. The spelling is part of the wire protocol.
const ReasonUnknownCommand = "UNKNOW_COMMAND"

// Request is an external command.
type Request interface {
	isRequest()
}

type Ping struct{}

// Call offers a session description for one leg of a call.
type Call struct {
	CallID string
	LegID  string
	SDP    string
}

// End tears down every leg of a call.
type End struct {
	CallID string
}

// Unknown carries a command name the control layer could not map.
type Unknown struct {
	Command string
}

func (Ping) isRequest()    {}
func (Call) isRequest()    {}
func (End) isRequest()     {}
func (Unknown) isRequest() {}

// Response answers a Request.
type Response interface {
	isResponse()
}

type Pong struct{}

// Answer carries the local session description for a Call.
type Answer struct {
	SDP string
}

type Ended struct{}

// Error reports a failed request; Reason goes on the wire as is.
type Error struct {
	Reason string
}

func (Pong) isResponse()   {}
func (Answer) isResponse() {}
func (Ended) isResponse()  {}
func (Error) isResponse()  {}

// Output is an effect for the runtime to apply, in order.
type Output interface {
	isOutput()
}

// NetListen asks the backend to bind a socket at Addr for Owner. The bind
// result must name the same Owner to be applied.
type NetListen struct {
	Addr  netip.AddrPort
	Owner task.Ref
}

// NetUnlisten asks the backend to close Socket.
type NetUnlisten struct {
	Socket backend.SocketID
}

// NetSend asks the backend to send Data from Socket to To.
type NetSend struct {
	Socket backend.SocketID
	To     netip.AddrPort
	Data   []byte
}

// BusSubscribe attaches Owner to Channel.
type BusSubscribe struct {
	Channel task.ChannelID
	Owner   task.Ref
}

// BusUnsubscribe detaches Owner from Channel.
type BusUnsubscribe struct {
	Channel task.ChannelID
	Owner   task.Ref
}

// BusPublish fans Packet out to the subscribers of Channel other than Owner.
type BusPublish struct {
	Channel task.ChannelID
	Owner   task.Ref
	Packet  task.Packet
}

// ExtResponse answers the request that was submitted with ID.
type ExtResponse struct {
	ID       uint64
	Response Response
}

// Destroy reports that a leg is gone and its port has been returned.
type Destroy struct {
	Owner task.Ref
	Port  int
}

func (NetListen) isOutput()      {}
func (NetUnlisten) isOutput()    {}
func (NetSend) isOutput()        {}
func (BusSubscribe) isOutput()   {}
func (BusUnsubscribe) isOutput() {}
func (BusPublish) isOutput()     {}
func (ExtResponse) isOutput()    {}
func (Destroy) isOutput()        {}

// Stats is a point-in-time view of a worker.
type Stats struct {
	Legs      int `json:"legs"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Calls     int `json:"calls"`
	FreePorts int `json:"free_ports"`
}

// Leg describes one live leg for admin listings.
type Leg struct {
	ID      string         `json:"id"`
	CallID  string         `json:"call_id"`
	LegID   string         `json:"leg_id"`
	State   string         `json:"state"`
	Port    int            `json:"port"`
	Local   string         `json:"local"`
	Remote  string         `json:"remote"`
	Created time.Time      `json:"created"`
	Stats   media.Snapshot `json:"stats"`
}
