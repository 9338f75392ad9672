// Package task implements the per-leg relay state machine and the slot-indexed
// group that owns the tasks of one worker.
package task

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/sebas/relayengine/internal/relay/media"
	"github.com/sebas/relayengine/internal/relay/sdp"
)

// Task states.
const (
	StatePending   = "pending"
	StateActive    = "active"
	StateDestroyed = "destroyed"
)

const (
	eventBind     = "bind"
	eventShutdown = "shutdown"
)

// Params carries everything needed to build a leg.
type Params struct {
	CallID string
	LegID  string
	Port   int
	// BindIP is the local interface the leg's socket listens on.
	BindIP netip.Addr
	// Advertise is the address written into the answer.
	Advertise string
	Offer     string
	// BindTimeout reclaims the leg when the socket bind is never confirmed.
	// Zero disables it.
	BindTimeout time.Duration
}

// Task is one leg's media socket. It is not safe for concurrent use; the
// owning worker drives it from a single goroutine.
type Task struct {
	id       string
	call     uint64
	leg      uint64
	callName string
	legName  string
	port     int
	local    netip.AddrPort
	remote   netip.AddrPort
	answer   string
	created  time.Time
	timeout  time.Time

	machine *fsm.FSM
	out     outputQueue
	closed  bool
	stats   media.LegStats
}

// New parses the remote offer and prepares the answer. It allocates nothing
// outside the returned task, so the caller only has to give the port back
// when it fails.
func New(p Params, now time.Time) (*Task, error) {
	offer, err := sdp.ParseOffer(p.Offer)
	if err != nil {
		return nil, err
	}
	answer, err := sdp.BuildAnswer(sdp.AnswerConfig{
		Origin:  offer.Origin,
		Address: p.Advertise,
		Port:    p.Port,
	})
	if err != nil {
		return nil, err
	}
	if !p.BindIP.IsValid() {
		return nil, fmt.Errorf("task: invalid bind address for port %d", p.Port)
	}

	t := &Task{
		id:       uuid.New().String(),
		call:     HashID(p.CallID),
		leg:      HashID(p.LegID),
		callName: p.CallID,
		legName:  p.LegID,
		port:     p.Port,
		local:    netip.AddrPortFrom(p.BindIP, uint16(p.Port)),
		remote:   offer.Remote,
		answer:   answer,
		created:  now,
	}
	if p.BindTimeout > 0 {
		t.timeout = now.Add(p.BindTimeout)
	}

	t.machine = fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventBind, Src: []string{StatePending}, Dst: StateActive},
			{Name: eventShutdown, Src: []string{StatePending, StateActive}, Dst: StateDestroyed},
		},
		fsm.Callbacks{
			"enter_" + StateActive: func(_ context.Context, _ *fsm.Event) {
				t.timeout = time.Time{}
				t.push(Subscribe{Channel: t.Channel()})
			},
			"enter_" + StateDestroyed: func(_ context.Context, e *fsm.Event) {
				if e.Src == StateActive {
					t.push(Unsubscribe{Channel: t.Channel()})
				}
				t.push(Destroy{Port: t.port})
				t.closed = true
			},
		},
	)
	return t, nil
}

// ID is a unique identifier for logs and admin listings.
func (t *Task) ID() string { return t.id }

func (t *Task) CallID() uint64 { return t.call }
func (t *Task) LegID() uint64 { return t.leg }
func (t *Task) CallName() string { return t.callName }
func (t *Task) LegName() string { return t.legName }
func (t *Task) Port() int { return t.port }
func (t *Task) Local() netip.AddrPort { return t.local }
func (t *Task) Remote() netip.AddrPort { return t.remote }
func (t *Task) Answer() string { return t.answer }
func (t *Task) Created() time.Time { return t.created }
func (t *Task) State() string { return t.machine.Current() }
func (t *Task) Stats() media.Snapshot { return t.stats.Snapshot() }
func (t *Task) Channel() ChannelID { return ChannelID(t.call) }
func (t *Task) Pending() int { return t.out.len() }
func (t *Task) Destroyed() bool { return t.closed }

// UpdateOffer takes a renewed offer for the same leg (re-INVITE). The local
// port and answer are kept; only the forwarding address follows the offer.
func (t *Task) UpdateOffer(body string) error {
	if t.closed {
		return errors.New("task: leg already destroyed")
	}
	offer, err := sdp.ParseOffer(body)
	if err != nil {
		return err
	}
	t.remote = offer.Remote
	return nil
}

// OnEvent applies one input and returns the first resulting output.
func (t *Task) OnEvent(now time.Time, in Input) (Output, bool) {
	switch in := in.(type) {
	case BindConfirmed:
		t.OnBindConfirmed(now)
	case SocketPacket:
		t.OnSocketPacket(now, in.Data)
	case ChannelMessage:
		t.OnChannelMessage(now, in.Packet)
	}
	return t.PopOutput()
}

// OnBindConfirmed activates a pending leg.
func (t *Task) OnBindConfirmed(_ time.Time) {
	_ = t.machine.Event(context.Background(), eventBind)
}

// OnSocketPacket publishes a datagram from the leg's remote party to the
// other legs of the call.
func (t *Task) OnSocketPacket(now time.Time, data []byte) {
	if !t.machine.Is(StateActive) {
		return
	}
	t.stats.Inbound(now, data)
	t.push(Publish{
		Channel: t.Channel(),
		Packet:  Packet{FromLeg: t.leg, Data: data},
	})
}

// OnChannelMessage forwards a sibling's publication to the remote party.
// A leg never relays its own publication.
func (t *Task) OnChannelMessage(now time.Time, p Packet) {
	if !t.machine.Is(StateActive) {
		return
	}
	if p.FromLeg == t.leg {
		return
	}
	t.stats.Outbound(now, len(p.Data))
	t.push(Forward{To: t.remote, Data: p.Data})
}

// OnTick reclaims a leg whose bind was never confirmed in time.
func (t *Task) OnTick(now time.Time) (Output, bool) {
	if !t.timeout.IsZero() {
		if now.Before(t.timeout) {
			return nil, false
		}
		t.timeout = time.Time{}
		if t.machine.Is(StatePending) {
			_ = t.machine.Event(context.Background(), eventShutdown)
		}
	}
	return t.PopOutput()
}

// TimedOut reports whether the pending timeout elapsed at now.
func (t *Task) TimedOut(now time.Time) bool {
	return !t.timeout.IsZero() && !now.Before(t.timeout)
}

// Shutdown destroys the leg from any state. Its outputs end with Destroy.
func (t *Task) Shutdown(_ time.Time) (Output, bool) {
	if !t.closed {
		_ = t.machine.Event(context.Background(), eventShutdown)
	}
	return t.PopOutput()
}

// PopOutput drains the output queue in FIFO order.
func (t *Task) PopOutput() (Output, bool) {
	return t.out.pop()
}

func (t *Task) push(o Output) {
	if t.closed {
		return
	}
	t.out.push(o)
}
