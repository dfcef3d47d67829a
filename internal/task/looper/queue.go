package looper

import "time"

type message struct {
	when  time.Time
	seq   uint64
	owner any
	fn    func()
	index int
}

// queue is a min-heap ordered by (when, seq). It implements heap.Interface.
type queue []*message

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	m := x.(*message)
	m.index = len(*q)
	*q = append(*q, m)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	m.index = -1
	*q = old[:n-1]
	return m
}
