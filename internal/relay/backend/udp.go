package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

const (
	readBufferSize   = 1500
	eventQueueLength = 1024
)

// ErrUnknownSocket is returned for operations on a socket that is not bound.
var ErrUnknownSocket = errors.New("backend: unknown socket")

// UDP is a Backend on real UDP sockets. Each bound socket gets one reader
// goroutine that turns datagrams into Packet events.
type UDP struct {
	log    *slog.Logger
	events chan Event
	done   chan struct{}
	next   atomic.Uint64

	mu      sync.Mutex
	conns   map[SocketID]*net.UDPConn
	closed  bool
	readers sync.WaitGroup
}

// NewUDP creates a UDP backend. A nil logger falls back to slog.Default.
func NewUDP(log *slog.Logger) *UDP {
	if log == nil {
		log = slog.Default()
	}
	return &UDP{
		log:    log,
		events: make(chan Event, eventQueueLength),
		done:   make(chan struct{}),
		conns:  make(map[SocketID]*net.UDPConn),
	}
}

func (u *UDP) Events() <-chan Event { return u.events }

// Listen binds addr in the background and reports the result as an event.
func (u *UDP) Listen(addr netip.AddrPort, token uint64) {
	go func() {
		conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
		if err != nil {
			u.emit(ListenResult{Addr: addr, Token: token, Err: fmt.Errorf("bind %s: %w", addr, err)})
			return
		}

		id := SocketID(u.next.Add(1))
		u.mu.Lock()
		if u.closed {
			u.mu.Unlock()
			_ = conn.Close()
			return
		}
		u.conns[id] = conn
		u.readers.Add(1)
		u.mu.Unlock()

		u.log.Debug("[Backend] Socket bound", "addr", addr, "socket", id)
		u.emit(ListenResult{Addr: addr, Token: token, Socket: id})
		u.read(id, conn)
	}()
}

func (u *UDP) read(id SocketID, conn *net.UDPConn) {
	defer u.readers.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Debug("[Backend] Read error", "socket", id, "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		u.emit(Packet{Socket: id, From: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), Data: data})
	}
}

func (u *UDP) emit(ev Event) {
	select {
	case u.events <- ev:
	case <-u.done:
	}
}

// Unlisten closes the socket; its reader exits on the next read.
func (u *UDP) Unlisten(socket SocketID) error {
	u.mu.Lock()
	conn, ok := u.conns[socket]
	delete(u.conns, socket)
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("unlisten %s: %w", socket, ErrUnknownSocket)
	}
	return conn.Close()
}

// Send writes one datagram from socket to the given address.
func (u *UDP) Send(socket SocketID, to netip.AddrPort, data []byte) error {
	u.mu.Lock()
	conn, ok := u.conns[socket]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("send %s: %w", socket, ErrUnknownSocket)
	}
	_, err := conn.WriteToUDPAddrPort(data, to)
	return err
}

// Close releases every socket and stops event delivery.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	var err error
	for id, conn := range u.conns {
		err = multierr.Append(err, conn.Close())
		delete(u.conns, id)
	}
	u.mu.Unlock()

	close(u.done)
	u.readers.Wait()
	return err
}
