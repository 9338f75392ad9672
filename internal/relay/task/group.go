package task

import "time"

type slot struct {
	gen  uint32
	task *Task
}

// Group stores the tasks of one worker in reusable slots.
type Group struct {
	slots  []slot
	free   []uint32
	live   int
	cursor int
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Add stores t in a free slot, reusing vacated slots first.
func (g *Group) Add(t *Task) Ref {
	var idx uint32
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		g.slots = append(g.slots, slot{})
		idx = uint32(len(g.slots) - 1)
	}
	g.slots[idx].task = t
	g.live++
	return Ref{Slot: idx, Gen: g.slots[idx].gen}
}

// Get returns the task addressed by ref, or false when ref is stale.
func (g *Group) Get(ref Ref) (*Task, bool) {
	if int(ref.Slot) >= len(g.slots) {
		return nil, false
	}
	s := g.slots[ref.Slot]
	if s.task == nil || s.gen != ref.Gen {
		return nil, false
	}
	return s.task, true
}

// Remove vacates the slot and invalidates every outstanding Ref to it.
func (g *Group) Remove(ref Ref) (*Task, bool) {
	t, ok := g.Get(ref)
	if !ok {
		return nil, false
	}
	g.slots[ref.Slot].task = nil
	g.slots[ref.Slot].gen++
	g.free = append(g.free, ref.Slot)
	g.live--
	return t, true
}

// Dispatch delivers in to the task addressed by ref.
func (g *Group) Dispatch(ref Ref, now time.Time, in Input) (Output, bool) {
	t, ok := g.Get(ref)
	if !ok {
		return nil, false
	}
	return t.OnEvent(now, in)
}

// PopOutput drains one queued output of the task addressed by ref.
func (g *Group) PopOutput(ref Ref) (Output, bool) {
	t, ok := g.Get(ref)
	if !ok {
		return nil, false
	}
	return t.PopOutput()
}

// Tick visits live slots round-robin, starting after the slot that produced
// the previous output, and returns the first timeout-driven output found.
func (g *Group) Tick(now time.Time) (Ref, Output, bool) {
	n := len(g.slots)
	for i := 0; i < n; i++ {
		idx := (g.cursor + i) % n
		s := g.slots[idx]
		if s.task == nil {
			continue
		}
		if out, ok := s.task.OnTick(now); ok {
			g.cursor = (idx + 1) % n
			return Ref{Slot: uint32(idx), Gen: s.gen}, out, true
		}
	}
	return Ref{}, nil, false
}

// Len returns the number of live tasks.
func (g *Group) Len() int {
	return g.live
}

// Each calls fn for every live task in slot order.
func (g *Group) Each(fn func(Ref, *Task)) {
	for i, s := range g.slots {
		if s.task != nil {
			fn(Ref{Slot: uint32(i), Gen: s.gen}, s.task)
		}
	}
}
