// Package worker is the reactor that owns one shard's legs. It never blocks
// and never performs IO: every entry point takes the current time, updates
// the task group and the store, and queues effects that the runtime drains
// with PopOutput and applies in order.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/store"
	"github.com/sebas/relayengine/internal/relay/task"
)

// ErrNoAvailablePort is returned by Call when the shard's pool is empty.
// The message is sent to control clients verbatim.
var ErrNoAvailablePort = errors.New("No available port") //nolint:staticcheck

// Config describes one worker.
type Config struct {
	// MinPort and MaxPort bound the shard's port range, [MinPort, MaxPort).
	MinPort int
	MaxPort int
	// BindIP is the interface leg sockets listen on.
	BindIP netip.Addr
	// Advertise is the address written into answers.
	Advertise   string
	BindTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Shard
}

// Worker drives the legs of one shard. It is not safe for concurrent use.
type Worker struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Shard

	group *task.Group
	store *store.Store
	out   []Output
}

// New builds a worker with an empty group and a full port pool.
func New(cfg Config) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		group:   task.NewGroup(),
		store:   store.New(cfg.MinPort, cfg.MaxPort),
	}
	w.observe()
	return w
}

// Process handles one external request and queues its ExtResponse.
func (w *Worker) Process(now time.Time, id uint64, req Request) {
	var resp Response
	switch req := req.(type) {
	case Ping:
		resp = Pong{}
	case Call:
		answer, err := w.HandleCall(now, req.CallID, req.LegID, req.SDP)
		if err != nil {
			resp = Error{Reason: err.Error()}
		} else {
			resp = Answer{SDP: answer}
		}
	case End:
		w.HandleEnd(now, req.CallID)
		resp = Ended{}
	default:
		resp = Error{Reason: ReasonUnknownCommand}
	}
	w.emit(ExtResponse{ID: id, Response: resp})
}

// HandleCall creates the leg legID of callID and returns its answer. The
// backend bind is requested but not awaited. A repeated Call for a live leg
// updates its remote address and returns the answer it already had.
func (w *Worker) HandleCall(now time.Time, callID, legID, offer string) (string, error) {
	callKey := task.HashID(callID)
	if err := w.store.CheckCall(callKey, callID); err != nil {
		w.metrics.CallResult(metrics.ResultCollision)
		return "", err
	}

	legKey := task.HashID(legID)
	for _, ref := range w.store.TasksOf(callKey) {
		t, ok := w.group.Get(ref)
		if !ok || t.LegID() != legKey {
			continue
		}
		if t.LegName() != legID {
			w.metrics.CallResult(metrics.ResultCollision)
			return "", fmt.Errorf("leg %q hashes like %q: %w", legID, t.LegName(), store.ErrIdentifierCollision)
		}
		if err := t.UpdateOffer(offer); err != nil {
			w.metrics.CallResult(metrics.ResultBadOffer)
			return "", err
		}
		w.log.Info("[Worker] Leg re-offered", "call_id", callID, "leg_id", legID, "remote", t.Remote())
		w.metrics.CallResult(metrics.ResultReoffer)
		return t.Answer(), nil
	}

	port, ok := w.store.AllocatePort()
	if !ok {
		w.log.Warn("[Worker] Port pool exhausted", "call_id", callID, "leg_id", legID)
		w.metrics.CallResult(metrics.ResultNoPort)
		return "", ErrNoAvailablePort
	}

	t, err := task.New(task.Params{
		CallID:      callID,
		LegID:       legID,
		Port:        port,
		BindIP:      w.cfg.BindIP,
		Advertise:   w.cfg.Advertise,
		Offer:       offer,
		BindTimeout: w.cfg.BindTimeout,
	}, now)
	if err != nil {
		w.store.ReleasePort(port)
		w.log.Warn("[Worker] Rejected offer", "call_id", callID, "leg_id", legID, "error", err)
		w.metrics.CallResult(metrics.ResultBadOffer)
		return "", err
	}

	ref := w.group.Add(t)
	w.store.BindTask(t.Local(), ref, port)
	if err := w.store.BindCall(callKey, callID, ref); err != nil {
		// CheckCall above already accepted the name.
		panic(err)
	}
	w.emit(NetListen{Addr: t.Local(), Owner: ref})

	w.log.Info("[Worker] Leg created",
		"call_id", callID,
		"leg_id", legID,
		"session_id", t.ID(),
		"port", port,
		"remote", t.Remote())
	w.metrics.CallResult(metrics.ResultOK)
	w.observe()
	return t.Answer(), nil
}

// HandleEnd closes every leg of callID. Unknown calls are ignored.
func (w *Worker) HandleEnd(now time.Time, callID string) {
	callKey := task.HashID(callID)
	if name, ok := w.store.CallName(callKey); !ok || name != callID {
		return
	}
	for _, ref := range w.store.TasksOf(callKey) {
		w.retire(now, ref)
	}
	w.store.RemoveCall(callKey)

	w.log.Info("[Worker] Call ended", "call_id", callID)
	w.metrics.CallEnded()
	w.observe()
}

// OnBindResult applies the backend's answer to the NetListen issued for
// owner. A failed bind tears the leg down; the answer was already handed
// out, so nothing is sent back to the control client. Results for an owner
// that is gone, or whose port now belongs to another leg, are orphans: a
// bound socket is closed and a failure is ignored.
func (w *Worker) OnBindResult(now time.Time, owner task.Ref, addr netip.AddrPort, socket backend.SocketID, err error) {
	ref, ok := w.store.TaskByAddr(addr)
	if _, live := w.group.Get(owner); !ok || !live || ref != owner {
		if err == nil {
			w.log.Debug("[Worker] Closing orphan socket", "addr", addr, "socket", socket, "owner", owner)
			w.emit(NetUnlisten{Socket: socket})
		} else {
			w.log.Debug("[Worker] Ignoring orphan bind failure", "addr", addr, "owner", owner, "error", err)
		}
		return
	}
	// A second result for an already bound leg is a duplicate.
	if _, bound := w.store.ResolveSocketByTask(ref); bound {
		if err == nil {
			w.emit(NetUnlisten{Socket: socket})
		}
		return
	}

	if err != nil {
		t, _ := w.group.Get(ref)
		w.log.Error("[Worker] Socket bind failed, dropping leg",
			"addr", addr,
			"call_id", t.CallName(),
			"leg_id", t.LegName(),
			"error", err)
		w.metrics.BindFailed()
		w.retire(now, ref)
		w.store.RemoveTask(ref)
		w.observe()
		return
	}

	w.store.BindSocket(ref, socket)
	out, ok := w.group.Dispatch(ref, now, task.BindConfirmed{})
	w.drain(ref, out, ok)
	w.log.Debug("[Worker] Leg active", "addr", addr, "socket", socket)
	w.observe()
}

// OnPacket delivers a datagram received on socket. Unknown sockets are
// dropped silently.
func (w *Worker) OnPacket(now time.Time, socket backend.SocketID, from netip.AddrPort, data []byte) {
	ref, ok := w.store.TaskBySocket(socket)
	if !ok {
		return
	}
	w.metrics.PacketIn(len(data))
	out, ok := w.group.Dispatch(ref, now, task.SocketPacket{Data: data})
	w.drain(ref, out, ok)
}

// OnChannelEvent delivers a bus publication to the leg owner.
func (w *Worker) OnChannelEvent(now time.Time, owner task.Ref, p task.Packet) {
	out, ok := w.group.Dispatch(owner, now, task.ChannelMessage{Packet: p})
	w.drain(owner, out, ok)
}

// Tick reclaims legs whose bind timed out.
func (w *Worker) Tick(now time.Time) {
	changed := false
	for {
		ref, out, ok := w.group.Tick(now)
		if !ok {
			break
		}
		t, _ := w.group.Get(ref)
		w.drain(ref, out, ok)
		if !t.Destroyed() {
			continue
		}
		w.log.Warn("[Worker] Bind timed out, dropping leg",
			"call_id", t.CallName(),
			"leg_id", t.LegName(),
			"port", t.Port())
		w.metrics.BindTimedOut()
		w.retire(now, ref)
		w.store.RemoveTask(ref)
		changed = true
	}
	if changed {
		w.observe()
	}
}

// PopOutput returns the oldest queued effect.
func (w *Worker) PopOutput() (Output, bool) {
	if len(w.out) == 0 {
		return nil, false
	}
	o := w.out[0]
	w.out[0] = nil
	w.out = w.out[1:]
	if len(w.out) == 0 {
		w.out = nil
	}
	return o, true
}

// Stats counts legs and ports.
func (w *Worker) Stats() Stats {
	s := Stats{
		Legs:      w.group.Len(),
		Calls:     w.store.Calls(),
		FreePorts: w.store.FreePorts(),
	}
	w.group.Each(func(_ task.Ref, t *task.Task) {
		switch t.State() {
		case task.StatePending:
			s.Pending++
		case task.StateActive:
			s.Active++
		}
	})
	return s
}

// Legs lists the live legs in slot order.
func (w *Worker) Legs() []Leg {
	legs := make([]Leg, 0, w.group.Len())
	w.group.Each(func(_ task.Ref, t *task.Task) {
		legs = append(legs, Leg{
			ID:      t.ID(),
			CallID:  t.CallName(),
			LegID:   t.LegName(),
			State:   t.State(),
			Port:    t.Port(),
			Local:   t.Local().String(),
			Remote:  t.Remote().String(),
			Created: t.Created(),
			Stats:   t.Stats(),
		})
	})
	return legs
}

// retire closes the leg's socket, shuts the task down and removes it from
// the group. Store cleanup is left to the caller.
func (w *Worker) retire(now time.Time, ref task.Ref) {
	if socket, ok := w.store.ResolveSocketByTask(ref); ok {
		w.emit(NetUnlisten{Socket: socket})
	}
	t, ok := w.group.Get(ref)
	if !ok {
		return
	}
	out, ok := t.Shutdown(now)
	w.drain(ref, out, ok)
	w.group.Remove(ref)
}

// drain translates first and every output still queued on the task.
func (w *Worker) drain(ref task.Ref, first task.Output, ok bool) {
	for ok {
		w.translate(ref, first)
		first, ok = w.group.PopOutput(ref)
	}
}

func (w *Worker) translate(ref task.Ref, o task.Output) {
	switch o := o.(type) {
	case task.Subscribe:
		w.emit(BusSubscribe{Channel: o.Channel, Owner: ref})
	case task.Unsubscribe:
		w.emit(BusUnsubscribe{Channel: o.Channel, Owner: ref})
	case task.Publish:
		w.emit(BusPublish{Channel: o.Channel, Owner: ref, Packet: o.Packet})
	case task.Forward:
		socket, ok := w.store.ResolveSocketByTask(ref)
		if !ok {
			return
		}
		w.metrics.PacketOut(len(o.Data))
		w.emit(NetSend{Socket: socket, To: o.To, Data: o.Data})
	case task.Destroy:
		w.emit(Destroy{Owner: ref, Port: o.Port})
	}
}

func (w *Worker) emit(o Output) {
	w.out = append(w.out, o)
}

func (w *Worker) observe() {
	w.metrics.Occupancy(w.group.Len(), w.store.Calls(), w.store.FreePorts())
}
