package task

// queueCapacity bounds the outputs a task may hold between drains. One input
// produces at most a handful of outputs, so hitting it means a caller stopped
// draining.
const queueCapacity = 16

type outputQueue struct {
	buf   [queueCapacity]Output
	head  int
	count int
}

func (q *outputQueue) push(o Output) {
	if q.count == queueCapacity {
		panic("task: output queue overflow")
	}
	q.buf[(q.head+q.count)%queueCapacity] = o
	q.count++
}

func (q *outputQueue) pop() (Output, bool) {
	if q.count == 0 {
		return nil, false
	}
	o := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % queueCapacity
	q.count--
	return o, true
}

func (q *outputQueue) len() int {
	return q.count
}
