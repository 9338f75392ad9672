// Package store keeps the bookkeeping of one worker: the free port pool and
// the correlation tables between local addresses, sockets, tasks and calls.
//
// A Store is owned by exactly one worker and is not safe for concurrent use.
package store

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/task"
)

// ErrIdentifierCollision is returned when two different call identifiers
// hash to the same key.
var ErrIdentifierCollision = errors.New("identifier collision")

// Store holds the port pool and every lookup table of a worker.
type Store struct {
	pool *portPool

	addrTask   map[netip.AddrPort]task.Ref
	taskAddr   map[task.Ref]netip.AddrPort
	addrSocket map[netip.AddrPort]backend.SocketID
	taskSocket map[task.Ref]backend.SocketID
	socketTask map[backend.SocketID]task.Ref
	taskPort   map[task.Ref]int
	taskCall   map[task.Ref]uint64
	callTasks  map[uint64][]task.Ref
	callNames  map[uint64]string
}

// New creates a store whose pool holds every port in [minPort, maxPort).
func New(minPort, maxPort int) *Store {
	return &Store{
		pool:       newPortPool(minPort, maxPort),
		addrTask:   make(map[netip.AddrPort]task.Ref),
		taskAddr:   make(map[task.Ref]netip.AddrPort),
		addrSocket: make(map[netip.AddrPort]backend.SocketID),
		taskSocket: make(map[task.Ref]backend.SocketID),
		socketTask: make(map[backend.SocketID]task.Ref),
		taskPort:   make(map[task.Ref]int),
		taskCall:   make(map[task.Ref]uint64),
		callTasks:  make(map[uint64][]task.Ref),
		callNames:  make(map[uint64]string),
	}
}

// AllocatePort takes the next free port, or reports false when the pool is
// exhausted.
func (s *Store) AllocatePort() (int, bool) {
	return s.pool.pop()
}

// ReleasePort puts port back in the pool. Releasing a port that is already
// free, or one outside the pool range, panics.
func (s *Store) ReleasePort(port int) {
	s.pool.push(port)
}

// BindTask correlates a task with its local address and the port it holds.
func (s *Store) BindTask(addr netip.AddrPort, ref task.Ref, port int) {
	s.addrTask[addr] = ref
	s.taskAddr[ref] = addr
	s.taskPort[ref] = port
}

// BindSocket records the socket the backend bound for ref.
func (s *Store) BindSocket(ref task.Ref, socket backend.SocketID) {
	if addr, ok := s.taskAddr[ref]; ok {
		s.addrSocket[addr] = socket
	}
	s.taskSocket[ref] = socket
	s.socketTask[socket] = ref
}

// UnbindTask removes every address and socket entry of ref. The port stays
// with the caller.
func (s *Store) UnbindTask(ref task.Ref) {
	if addr, ok := s.taskAddr[ref]; ok {
		delete(s.addrTask, addr)
		delete(s.addrSocket, addr)
		delete(s.taskAddr, ref)
	}
	if socket, ok := s.taskSocket[ref]; ok {
		delete(s.socketTask, socket)
		delete(s.taskSocket, ref)
	}
}

// BindCall adds ref to the leg set of callID. name is the identifier the
// hash was derived from; a different name on the same hash is rejected.
func (s *Store) BindCall(callID uint64, name string, ref task.Ref) error {
	if err := s.CheckCall(callID, name); err != nil {
		return err
	}
	s.callNames[callID] = name
	s.callTasks[callID] = append(s.callTasks[callID], ref)
	s.taskCall[ref] = callID
	return nil
}

// CheckCall reports whether name may be bound under callID.
func (s *Store) CheckCall(callID uint64, name string) error {
	if existing, ok := s.callNames[callID]; ok && existing != name {
		return fmt.Errorf("call %q hashes like %q: %w", name, existing, ErrIdentifierCollision)
	}
	return nil
}

// TasksOf returns the legs of callID in bind order.
func (s *Store) TasksOf(callID uint64) []task.Ref {
	return s.callTasks[callID]
}

// CallName returns the identifier callID was bound with.
func (s *Store) CallName(callID uint64) (string, bool) {
	name, ok := s.callNames[callID]
	return name, ok
}

// RemoveCall drops callID and cleans up every one of its legs: ports go back
// to the pool and all address and socket entries are removed. It returns
// the refs that were removed.
func (s *Store) RemoveCall(callID uint64) []task.Ref {
	refs, ok := s.callTasks[callID]
	if !ok {
		return nil
	}
	for _, ref := range refs {
		s.cleanupTask(ref)
	}
	delete(s.callTasks, callID)
	delete(s.callNames, callID)
	return refs
}

// RemoveTask cleans up a single leg and drops it from its call. The call
// itself goes away with its last leg.
func (s *Store) RemoveTask(ref task.Ref) {
	callID, ok := s.taskCall[ref]
	if !ok {
		return
	}
	s.cleanupTask(ref)

	refs := s.callTasks[callID]
	for i, r := range refs {
		if r == ref {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(s.callTasks, callID)
		delete(s.callNames, callID)
		return
	}
	s.callTasks[callID] = refs
}

func (s *Store) cleanupTask(ref task.Ref) {
	if port, ok := s.taskPort[ref]; ok {
		s.ReleasePort(port)
		delete(s.taskPort, ref)
	}
	s.UnbindTask(ref)
	delete(s.taskCall, ref)
}

// ResolveSocket returns the socket bound at addr.
func (s *Store) ResolveSocket(addr netip.AddrPort) (backend.SocketID, bool) {
	socket, ok := s.addrSocket[addr]
	return socket, ok
}

// ResolveSocketByTask returns the socket bound for ref.
func (s *Store) ResolveSocketByTask(ref task.Ref) (backend.SocketID, bool) {
	socket, ok := s.taskSocket[ref]
	return socket, ok
}

// TaskByAddr returns the task listening at addr.
func (s *Store) TaskByAddr(addr netip.AddrPort) (task.Ref, bool) {
	ref, ok := s.addrTask[addr]
	return ref, ok
}

// TaskBySocket returns the task owning socket.
func (s *Store) TaskBySocket(socket backend.SocketID) (task.Ref, bool) {
	ref, ok := s.socketTask[socket]
	return ref, ok
}

func (s *Store) FreePorts() int { return s.pool.len() }
func (s *Store) Calls() int     { return len(s.callTasks) }
func (s *Store) Tasks() int     { return len(s.taskCall) }
