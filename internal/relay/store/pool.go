package store

import "fmt"

// portPool is a FIFO queue of free media ports in [min, max).
// Freshly released ports go to the back so a port that just carried a call
// is the last one to be handed out again.
type portPool struct {
	minPort int
	maxPort int
	queue   []int
	head    int
	free    map[int]struct{}
}

func newPortPool(minPort, maxPort int) *portPool {
	p := &portPool{
		minPort: minPort,
		maxPort: maxPort,
		free:    make(map[int]struct{}, max(maxPort-minPort, 0)),
	}
	for port := minPort; port < maxPort; port++ {
		p.queue = append(p.queue, port)
		p.free[port] = struct{}{}
	}
	return p
}

func (p *portPool) pop() (int, bool) {
	if p.head == len(p.queue) {
		return 0, false
	}
	port := p.queue[p.head]
	p.head++
	delete(p.free, port)

	// Compact once the consumed prefix dominates the backing array.
	if p.head > 64 && p.head*2 >= len(p.queue) {
		p.queue = append(p.queue[:0], p.queue[p.head:]...)
		p.head = 0
	}
	return port, true
}

func (p *portPool) push(port int) {
	if port < p.minPort || port >= p.maxPort {
		panic(fmt.Sprintf("store: port %d outside pool range %d-%d", port, p.minPort, p.maxPort))
	}
	if _, ok := p.free[port]; ok {
		panic(fmt.Sprintf("store: port %d released twice", port))
	}
	p.free[port] = struct{}{}
	p.queue = append(p.queue, port)
}

func (p *portPool) len() int {
	return len(p.queue) - p.head
}

func (p *portPool) contains(port int) bool {
	_, ok := p.free[port]
	return ok
}
