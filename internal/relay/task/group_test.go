package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupStaleRef(t *testing.T) {
	g := NewGroup()
	a := g.Add(newTask(t, "leg-a", 10000, "192.0.2.10"))

	_, ok := g.Remove(a)
	require.True(t, ok)
	assert.Equal(t, 0, g.Len())

	b := g.Add(newTask(t, "leg-b", 10001, "192.0.2.11"))
	assert.Equal(t, a.Slot, b.Slot, "vacated slot is reused")
	assert.NotEqual(t, a.Gen, b.Gen)

	_, ok = g.Get(a)
	assert.False(t, ok, "stale ref must not reach the new occupant")
	_, ok = g.Dispatch(a, t0, BindConfirmed{})
	assert.False(t, ok)

	tk, ok := g.Get(b)
	require.True(t, ok)
	assert.Equal(t, StatePending, tk.State())

	_, ok = g.Get(Ref{Slot: 42})
	assert.False(t, ok)
}

func TestGroupDispatch(t *testing.T) {
	g := NewGroup()
	ref := g.Add(newTask(t, "leg-a", 10000, "192.0.2.10"))

	out, ok := g.Dispatch(ref, t0, BindConfirmed{})
	require.True(t, ok)
	assert.IsType(t, Subscribe{}, out)

	_, ok = g.PopOutput(ref)
	assert.False(t, ok)
}

func TestGroupTickRoundRobin(t *testing.T) {
	g := NewGroup()
	refs := []Ref{
		g.Add(newTask(t, "leg-a", 10000, "192.0.2.10")),
		g.Add(newTask(t, "leg-b", 10001, "192.0.2.11")),
		g.Add(newTask(t, "leg-c", 10002, "192.0.2.12")),
	}

	late := t0.Add(10 * time.Second)
	var order []Ref
	for {
		ref, out, ok := g.Tick(late)
		if !ok {
			break
		}
		assert.IsType(t, Destroy{}, out)
		order = append(order, ref)
	}
	assert.Equal(t, refs, order)
}

func TestGroupEach(t *testing.T) {
	g := NewGroup()
	a := g.Add(newTask(t, "leg-a", 10000, "192.0.2.10"))
	b := g.Add(newTask(t, "leg-b", 10001, "192.0.2.11"))
	g.Remove(a)

	var seen []Ref
	g.Each(func(ref Ref, _ *Task) { seen = append(seen, ref) })
	assert.Equal(t, []Ref{b}, seen)
}
