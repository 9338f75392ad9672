package ngcontrol

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/worker"
)

const (
	maxDatagram    = 65535
	replyCacheSize = 4096
	requestTimeout = 5 * time.Second
)

// Handler executes worker requests; *engine.Engine satisfies it.
type Handler interface {
	Do(ctx context.Context, req worker.Request) (worker.Response, error)
}

// Server answers NG commands over UDP. Replies are cached by cookie so a
// retransmitted command is answered again without being executed twice;
// a retransmission that arrives while the command is still running waits
// for the same reply.
type Server struct {
	handler Handler
	log     *slog.Logger
	metrics *metrics.Metrics
	replies  *lru.Cache[string, []byte]
	inflight singleflight.Group

	mu   sync.Mutex
	conn net.PacketConn
	wg   sync.WaitGroup
}

// NewServer creates an NG server. A nil logger falls back to slog.Default.
func NewServer(h Handler, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	cache, _ := lru.New[string, []byte](replyCacheSize)
	return &Server{handler: h, log: log, metrics: m, replies: cache}
}

// ListenAndServe binds addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, conn)
}

// Serve reads commands from conn until ctx ends, then closes conn.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("[NG] Listening", "addr", conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("[NG] Read error", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn, from, data)
		}()
	}
}

// Addr returns the bound address once Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) handle(ctx context.Context, conn net.PacketConn, from net.Addr, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		s.log.Warn("[NG] Dropping malformed datagram", "from", from.String(), "error", err)
		return
	}

	// Retransmissions are keyed by sender and cookie.
	key := from.String() + "|" + msg.Cookie
	if cached, ok := s.replies.Get(key); ok {
		s.log.Debug("[NG] Replaying cached reply", "cookie", msg.Cookie)
		s.write(conn, from, cached)
		return
	}

	v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
		if cached, ok := s.replies.Get(key); ok {
			return cached, nil
		}
		out, err := Encode(msg.Cookie, s.execute(ctx, msg))
		if err != nil {
			return nil, err
		}
		s.replies.Add(key, out)
		return out, nil
	})
	if err != nil {
		s.log.Error("[NG] Encode failed", "cookie", msg.Cookie, "error", err)
		return
	}
	if shared {
		s.log.Debug("[NG] Joined in-flight command", "cookie", msg.Cookie)
	}
	s.write(conn, from, v.([]byte))
}

func (s *Server) execute(ctx context.Context, msg *Message) Reply {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	command := strings.ToLower(msg.Command)
	s.log.Debug("[NG] Command", "command", command, "call_id", msg.CallID, "cookie", msg.Cookie)

	resp, err := s.handler.Do(ctx, msg.Request())
	var reply Reply
	if err != nil {
		reply = Reply{Result: ResultError, ErrorReason: err.Error()}
	} else {
		reply = ReplyFor(resp)
	}
	if reply.Result == ResultError {
		s.log.Warn("[NG] Command failed", "command", command, "call_id", msg.CallID, "reason", reply.ErrorReason)
	}
	switch command {
	case CommandPing, CommandOffer, CommandAnswer, CommandDelete:
	default:
		command = "unknown"
	}
	s.metrics.Command("ng", command, reply.Result)
	return reply
}

func (s *Server) write(conn net.PacketConn, to net.Addr, data []byte) {
	if _, err := conn.WriteTo(data, to); err != nil {
		s.log.Warn("[NG] Write failed", "to", to.String(), "error", err)
	}
}
