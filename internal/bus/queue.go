package bus

// queuedEvent pairs an event with its admission sequence number so that
// ordering within a priority tier stays FIFO.
type queuedEvent struct {
	ev  *Event
	seq uint64
}

// eventQueue is a max-heap over priority; ties dispatch in arrival order.
type eventQueue []*queuedEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].ev.Priority != q[j].ev.Priority {
		return q[i].ev.Priority > q[j].ev.Priority
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*queuedEvent)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
