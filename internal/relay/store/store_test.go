package store

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/relayengine/internal/relay/backend"
	"github.com/sebas/relayengine/internal/relay/task"
)

func addr(port int) netip.AddrPort {
	return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
}

func TestPoolFIFO(t *testing.T) {
	s := New(10000, 10003)
	assert.Equal(t, 3, s.FreePorts())

	a, ok := s.AllocatePort()
	require.True(t, ok)
	b, _ := s.AllocatePort()
	assert.Equal(t, 10000, a)
	assert.Equal(t, 10001, b)

	s.ReleasePort(a)
	c, _ := s.AllocatePort()
	assert.Equal(t, 10002, c, "released ports go to the back of the queue")
	d, _ := s.AllocatePort()
	assert.Equal(t, 10000, d)

	_, ok = s.AllocatePort()
	assert.False(t, ok)
	assert.Equal(t, 0, s.FreePorts())
}

func TestPoolNeverHandsOutTwice(t *testing.T) {
	s := New(20000, 20200)
	seen := map[int]bool{}
	for i := 0; i < 150; i++ {
		p, ok := s.AllocatePort()
		require.True(t, ok)
		require.False(t, seen[p])
		seen[p] = true
	}
	for p := range seen {
		if p%2 == 0 {
			s.ReleasePort(p)
			delete(seen, p)
		}
	}
	for {
		p, ok := s.AllocatePort()
		if !ok {
			break
		}
		require.False(t, seen[p], "port %d handed out while live", p)
		seen[p] = true
	}
	assert.Len(t, seen, 200)
}

func TestExhaustedPoolLeavesTablesUntouched(t *testing.T) {
	s := New(10000, 10001)
	port, _ := s.AllocatePort()
	ref := task.Ref{Slot: 0}
	s.BindTask(addr(port), ref, port)
	s.BindSocket(ref, 1)
	require.NoError(t, s.BindCall(1, "one", ref))

	before := snapshot(s)
	_, ok := s.AllocatePort()
	assert.False(t, ok)
	assert.Equal(t, before, snapshot(s))
}

func TestReleasePanics(t *testing.T) {
	s := New(10000, 10002)
	p, _ := s.AllocatePort()
	s.ReleasePort(p)

	assert.Panics(t, func() { s.ReleasePort(p) }, "double release")
	assert.Panics(t, func() { s.ReleasePort(9999) }, "foreign port")
}

func TestBindAndResolve(t *testing.T) {
	s := New(10000, 10010)
	ref := task.Ref{Slot: 3, Gen: 1}
	port, _ := s.AllocatePort()

	s.BindTask(addr(port), ref, port)
	require.NoError(t, s.BindCall(7, "call-7", ref))

	got, ok := s.TaskByAddr(addr(port))
	require.True(t, ok)
	assert.Equal(t, ref, got)

	_, ok = s.ResolveSocket(addr(port))
	assert.False(t, ok, "no socket before bind confirmation")

	s.BindSocket(ref, backend.SocketID(42))
	sock, ok := s.ResolveSocket(addr(port))
	require.True(t, ok)
	assert.Equal(t, backend.SocketID(42), sock)
	sock, _ = s.ResolveSocketByTask(ref)
	assert.Equal(t, backend.SocketID(42), sock)
	got, _ = s.TaskBySocket(42)
	assert.Equal(t, ref, got)

	s.UnbindTask(ref)
	_, ok = s.TaskByAddr(addr(port))
	assert.False(t, ok)
	_, ok = s.TaskBySocket(42)
	assert.False(t, ok)
}

func TestCallCollision(t *testing.T) {
	s := New(10000, 10010)
	require.NoError(t, s.BindCall(7, "call-a", task.Ref{Slot: 0}))
	require.NoError(t, s.BindCall(7, "call-a", task.Ref{Slot: 1}))

	err := s.BindCall(7, "call-b", task.Ref{Slot: 2})
	require.ErrorIs(t, err, ErrIdentifierCollision)
	assert.Len(t, s.TasksOf(7), 2)
}

func TestRemoveCallReleasesOnlyItsPorts(t *testing.T) {
	s := New(10000, 10004)

	bind := func(call uint64, name string, slot uint32) int {
		port, ok := s.AllocatePort()
		require.True(t, ok)
		ref := task.Ref{Slot: slot}
		s.BindTask(addr(port), ref, port)
		s.BindSocket(ref, backend.SocketID(slot+100))
		require.NoError(t, s.BindCall(call, name, ref))
		return port
	}
	a1 := bind(1, "one", 0)
	a2 := bind(1, "one", 1)
	b1 := bind(2, "two", 2)

	removed := s.RemoveCall(1)
	assert.Len(t, removed, 2)
	assert.True(t, s.pool.contains(a1))
	assert.True(t, s.pool.contains(a2))
	assert.False(t, s.pool.contains(b1))
	assert.Equal(t, 1, s.Calls())
	assert.Equal(t, 1, s.Tasks())
	assert.Empty(t, s.TasksOf(1))
	_, ok := s.TaskBySocket(100)
	assert.False(t, ok)

	// Second removal is a no-op.
	before := snapshot(s)
	assert.Nil(t, s.RemoveCall(1))
	assert.Equal(t, before, snapshot(s))
}

func TestRemoveTask(t *testing.T) {
	s := New(10000, 10004)
	p1, _ := s.AllocatePort()
	p2, _ := s.AllocatePort()
	r1, r2 := task.Ref{Slot: 0}, task.Ref{Slot: 1}
	s.BindTask(addr(p1), r1, p1)
	s.BindTask(addr(p2), r2, p2)
	require.NoError(t, s.BindCall(1, "one", r1))
	require.NoError(t, s.BindCall(1, "one", r2))

	s.RemoveTask(r1)
	assert.Equal(t, []task.Ref{r2}, s.TasksOf(1))
	assert.True(t, s.pool.contains(p1))

	s.RemoveTask(r2)
	assert.Equal(t, 0, s.Calls())
	_, ok := s.CallName(1)
	assert.False(t, ok)

	// Unknown refs are ignored.
	s.RemoveTask(r2)
	assert.Equal(t, 4, s.FreePorts())
}

type tables struct {
	Queue      []int
	AddrTask   map[netip.AddrPort]task.Ref
	TaskAddr   map[task.Ref]netip.AddrPort
	AddrSocket map[netip.AddrPort]backend.SocketID
	TaskSocket map[task.Ref]backend.SocketID
	SocketTask map[backend.SocketID]task.Ref
	TaskPort   map[task.Ref]int
	CallTasks  map[uint64][]task.Ref
	CallNames  map[uint64]string
}

func snapshot(s *Store) tables {
	t := tables{
		Queue:      append([]int(nil), s.pool.queue[s.pool.head:]...),
		AddrTask:   map[netip.AddrPort]task.Ref{},
		TaskAddr:   map[task.Ref]netip.AddrPort{},
		AddrSocket: map[netip.AddrPort]backend.SocketID{},
		TaskSocket: map[task.Ref]backend.SocketID{},
		SocketTask: map[backend.SocketID]task.Ref{},
		TaskPort:   map[task.Ref]int{},
		CallTasks:  map[uint64][]task.Ref{},
		CallNames:  map[uint64]string{},
	}
	for k, v := range s.addrTask {
		t.AddrTask[k] = v
	}
	for k, v := range s.taskAddr {
		t.TaskAddr[k] = v
	}
	for k, v := range s.addrSocket {
		t.AddrSocket[k] = v
	}
	for k, v := range s.taskSocket {
		t.TaskSocket[k] = v
	}
	for k, v := range s.socketTask {
		t.SocketTask[k] = v
	}
	for k, v := range s.taskPort {
		t.TaskPort[k] = v
	}
	for k, v := range s.callTasks {
		t.CallTasks[k] = append([]task.Ref(nil), v...)
	}
	for k, v := range s.callNames {
		t.CallNames[k] = v
	}
	return t
}
