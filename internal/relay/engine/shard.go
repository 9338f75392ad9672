package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/bus"
	"github.com/sebas/relayengine/internal/relay/task"
	"github.com/sebas/relayengine/internal/relay/worker"
)

type envelope struct {
	req   worker.Request
	reply chan worker.Response
}

// Shard runs one worker on a single goroutine and applies its effects to a
// backend and a bus hub. All state is touched only from Run.
type Shard struct {
	id      int
	log     *slog.Logger
	worker  *worker.Worker
	backend backend.Backend
	hub     *bus.Hub[task.ChannelID, task.Ref, task.Packet]
	clock   clock.Clock
	tick    time.Duration

	requests chan envelope
	queries  chan func(*worker.Worker)
	done     chan struct{}

	nextID  uint64
	pending map[uint64]chan worker.Response
}

func newShard(id int, w *worker.Worker, be backend.Backend, clk clock.Clock, tick time.Duration, log *slog.Logger) *Shard {
	return &Shard{
		id:       id,
		log:      log.With("shard", id),
		worker:   w,
		backend:  be,
		hub:      bus.New[task.ChannelID, task.Ref, task.Packet](),
		clock:    clk,
		tick:     tick,
		requests: make(chan envelope),
		queries:  make(chan func(*worker.Worker)),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan worker.Response),
	}
}

// ID is the shard index.
func (s *Shard) ID() int { return s.id }

// Run processes requests, backend events and timer ticks until ctx ends.
func (s *Shard) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := s.clock.Ticker(s.tick)
	defer ticker.Stop()

	events := s.backend.Events()
	s.log.Debug("[Shard] Running", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("[Shard] Stopping", "legs", s.worker.Stats().Legs)
			return nil

		case env := <-s.requests:
			s.nextID++
			s.pending[s.nextID] = env.reply
			s.worker.Process(s.clock.Now(), s.nextID, env.req)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			now := s.clock.Now()
			switch ev := ev.(type) {
			case backend.ListenResult:
				s.worker.OnBindResult(now, task.RefFromToken(ev.Token), ev.Addr, ev.Socket, ev.Err)
			case backend.Packet:
				s.worker.OnPacket(now, ev.Socket, ev.From, ev.Data)
			}

		case fn := <-s.queries:
			fn(s.worker)

		case <-ticker.C:
			s.worker.Tick(s.clock.Now())
		}
		s.flush()
	}
}

// flush applies queued worker effects in order. Bus deliveries are fed
// back into the worker and their effects join the same queue.
func (s *Shard) flush() {
	for {
		out, ok := s.worker.PopOutput()
		if !ok {
			return
		}
		switch o := out.(type) {
		case worker.NetListen:
			s.backend.Listen(o.Addr, o.Owner.Token())
		case worker.NetUnlisten:
			if err := s.backend.Unlisten(o.Socket); err != nil {
				s.log.Warn("[Shard] Unlisten failed", "socket", o.Socket, "error", err)
			}
		case worker.NetSend:
			if err := s.backend.Send(o.Socket, o.To, o.Data); err != nil {
				s.log.Debug("[Shard] Send failed", "socket", o.Socket, "to", o.To, "error", err)
			}
		case worker.BusSubscribe:
			s.hub.Subscribe(o.Channel, o.Owner)
		case worker.BusUnsubscribe:
			s.hub.Unsubscribe(o.Channel, o.Owner)
		case worker.BusPublish:
			now := s.clock.Now()
			for _, d := range s.hub.Publish(o.Channel, bus.Broadcast, o.Owner, task.Ref{}, o.Packet) {
				s.worker.OnChannelEvent(now, d.To, d.Msg)
			}
		case worker.ExtResponse:
			if reply, ok := s.pending[o.ID]; ok {
				delete(s.pending, o.ID)
				reply <- o.Response
			}
		case worker.Destroy:
			s.log.Debug("[Shard] Leg destroyed", "ref", o.Owner, "port", o.Port)
		}
	}
}

// Do submits req and waits for the worker's response.
func (s *Shard) Do(ctx context.Context, req worker.Request) (worker.Response, error) {
	env := envelope{req: req, reply: make(chan worker.Response, 1)}
	select {
	case s.requests <- env:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-env.reply:
		return resp, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inspect runs fn on the shard goroutine.
func (s *Shard) inspect(ctx context.Context, fn func(*worker.Worker)) error {
	finished := make(chan struct{})
	wrapped := func(w *worker.Worker) {
		fn(w)
		close(finished)
	}
	select {
	case s.queries <- wrapped:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Stats returns the worker counters.
func (s *Shard) Stats(ctx context.Context) (worker.Stats, error) {
	var st worker.Stats
	err := s.inspect(ctx, func(w *worker.Worker) { st = w.Stats() })
	return st, err
}

// Legs lists the worker's live legs.
func (s *Shard) Legs(ctx context.Context) ([]worker.Leg, error) {
	var legs []worker.Leg
	err := s.inspect(ctx, func(w *worker.Worker) { legs = w.Legs() })
	return legs, err
}
