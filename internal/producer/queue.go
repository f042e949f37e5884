package producer

import "sync"

// Queue is an unbounded FIFO of raw records. The transfer goroutine pushes,
// the consumer pops without ever blocking. Nothing limits its growth: a
// producer that outpaces the consumer makes it grow without bound.
type Queue struct {
	mu    sync.Mutex
	items [][]byte
	head  int
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(record []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, record)
}

// TryPop returns the oldest record, or false when the queue is empty right
// now.
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return nil, false
	}
	record := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 1024 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return record, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
