// Package engine runs the relay: it splits the port range across shards,
// drives each shard's worker on its own goroutine and routes every request
// for a call to the shard that owns it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/config"
	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/task"
	"github.com/sebas/relayengine/internal/relay/worker"
)

// ErrClosed is returned for requests made after the engine stopped.
var ErrClosed = errors.New("engine: closed")

// Config describes an engine.
type Config struct {
	Shards       int
	Ports        config.PortRange
	BindIP       netip.Addr
	Advertise    string
	BindTimeout  time.Duration
	TickInterval time.Duration

	// NewBackend creates the socket backend of one shard. Defaults to a UDP
	// backend.
	NewBackend func(shard int) backend.Backend
	// Clock defaults to the wall clock.
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine owns the shards.
type Engine struct {
	log    *slog.Logger
	shards []*Shard
}

// New builds the shards. Nothing runs until Run is called.
func New(cfg Config) (*Engine, error) {
	if cfg.Shards < 1 {
		return nil, fmt.Errorf("engine: need at least one shard, got %d", cfg.Shards)
	}
	if cfg.Ports.Size() < cfg.Shards {
		return nil, fmt.Errorf("engine: port range %s too small for %d shards", cfg.Ports, cfg.Shards)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.NewBackend == nil {
		cfg.NewBackend = func(int) backend.Backend { return backend.NewUDP(log) }
	}

	e := &Engine{log: log}
	for i, r := range cfg.Ports.Split(cfg.Shards) {
		w := worker.New(worker.Config{
			MinPort:     r.Min,
			MaxPort:     r.Max,
			BindIP:      cfg.BindIP,
			Advertise:   cfg.Advertise,
			BindTimeout: cfg.BindTimeout,
			Logger:      log.With("shard", i),
			Metrics:     cfg.Metrics.Shard(i),
		})
		e.shards = append(e.shards, newShard(i, w, cfg.NewBackend(i), cfg.Clock, cfg.TickInterval, log))
		log.Debug("[Engine] Shard configured", "shard", i, "ports", r)
	}
	return e, nil
}

// Run drives every shard until ctx is cancelled, then closes the backends.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.shards {
		g.Go(func() error { return s.Run(ctx) })
	}
	e.log.Info("[Engine] Started", "shards", len(e.shards))

	err := g.Wait()
	for _, s := range e.shards {
		err = multierr.Append(err, s.backend.Close())
	}
	e.log.Info("[Engine] Stopped")
	return err
}

// ShardFor returns the index of the shard owning callID.
func (e *Engine) ShardFor(callID string) int {
	return int(task.HashID(callID) % uint64(len(e.shards)))
}

// Do routes req to its shard and waits for the response. Requests without
// a call go to the first shard.
func (e *Engine) Do(ctx context.Context, req worker.Request) (worker.Response, error) {
	shard := e.shards[0]
	switch r := req.(type) {
	case worker.Call:
		shard = e.shards[e.ShardFor(r.CallID)]
	case worker.End:
		shard = e.shards[e.ShardFor(r.CallID)]
	}
	return shard.Do(ctx, req)
}

// Ping checks that the engine answers.
func (e *Engine) Ping(ctx context.Context) error {
	resp, err := e.Do(ctx, worker.Ping{})
	if err != nil {
		return err
	}
	if _, ok := resp.(worker.Pong); !ok {
		return fmt.Errorf("engine: unexpected ping response %T", resp)
	}
	return nil
}

// Offer runs a Call and returns the answer.
func (e *Engine) Offer(ctx context.Context, callID, legID, sdp string) (string, error) {
	resp, err := e.Do(ctx, worker.Call{CallID: callID, LegID: legID, SDP: sdp})
	if err != nil {
		return "", err
	}
	switch r := resp.(type) {
	case worker.Answer:
		return r.SDP, nil
	case worker.Error:
		if r.Reason == worker.ErrNoAvailablePort.Error() {
			return "", worker.ErrNoAvailablePort
		}
		return "", errors.New(r.Reason)
	default:
		return "", fmt.Errorf("engine: unexpected call response %T", resp)
	}
}

// End tears down callID.
func (e *Engine) End(ctx context.Context, callID string) error {
	_, err := e.Do(ctx, worker.End{CallID: callID})
	return err
}

// Stats returns the counters of every shard, in shard order.
func (e *Engine) Stats(ctx context.Context) ([]worker.Stats, error) {
	out := make([]worker.Stats, 0, len(e.shards))
	for _, s := range e.shards {
		st, err := s.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Legs lists the live legs of every shard.
func (e *Engine) Legs(ctx context.Context) ([]worker.Leg, error) {
	var out []worker.Leg
	for _, s := range e.shards {
		legs, err := s.Legs(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, legs...)
	}
	return out, nil
}

// Shards returns the number of shards.
func (e *Engine) Shards() int { return len(e.shards) }
