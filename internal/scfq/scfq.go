// Package scfq implements Self-Clocked Fair Queueing: a per-link
// transmit queue that fairly multiplexes flows sharing the link,
// keyed by an arbitrary comparable flow identifier (spec.md §4.2).
package scfq

import (
	"sort"
	"sync"
)

// Weighter returns the fairness weight for a flow. The default
// weighter used by New gives every flow weight 1.
type Weighter func(flow any) float64

func defaultWeighter(any) float64 { return 1.0 }

type entry struct {
	finish int64 // virtual finish time
	seq    uint64
	data   []byte
}

// Queue is a single SCFQ instance, owned by exactly one link. Enqueue
// is called from whichever goroutine sends on that link, including
// other links' receive loops forwarding a message onto it, while
// Dequeue runs on the link's own producer, so the queue guards its own
// state with a mutex rather than relying on single-goroutine ownership.
type Queue struct {
	weighter      Weighter
	mu            sync.Mutex
	currentFinish int64
	flowFinish    map[any]int64
	items         []entry
	nextSeq       uint64
}

// New creates an empty queue. A nil weighter defaults every flow to
// weight 1.
func New(weighter Weighter) *Queue {
	if weighter == nil {
		weighter = defaultWeighter
	}
	return &Queue{
		weighter:   weighter,
		flowFinish: make(map[any]int64),
	}
}

// Enqueue schedules data for transmission on behalf of flow. A nil
// flow (the zero value of the `any` key), which locally-originated
// frames pass, is an ordinary flow key: every nil-flow frame shares
// that one flow's finish-time accounting.
func (q *Queue) Enqueue(data []byte, flow any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next, ok := q.flowFinish[flow]
	if !ok {
		next = q.currentFinish
	}

	weight := q.weighter(flow)
	var ratio int64
	if weight != 0 {
		ratio = int64(float64(len(data)) / weight)
	}

	var finish int64
	if next > q.currentFinish {
		finish = next + ratio
	} else {
		finish = q.currentFinish + ratio
	}
	q.flowFinish[flow] = finish

	e := entry{finish: finish, seq: q.nextSeq, data: data}
	q.nextSeq++

	i := sort.Search(len(q.items), func(i int) bool {
		if q.items[i].finish != finish {
			return q.items[i].finish > finish
		}
		return q.items[i].seq > e.seq
	})
	q.items = append(q.items, entry{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = e
}

// Len reports the number of queued, not-yet-transmitted frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dequeue pops the earliest-finishing frame and advances the virtual
// clock to its finish time. It returns nil, false on an empty queue.
func (q *Queue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	q.currentFinish = e.finish
	return e.data, true
}
