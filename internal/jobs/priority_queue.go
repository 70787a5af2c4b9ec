package jobs

import (
	"container/heap"
	"errors"
	"sync"
)

var (
	// ErrNilJob is returned when attempting to push a nil job.
	ErrNilJob = errors.New("cannot push nil job")
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("run queue is full")
)

// Priority levels for queued runs. Higher values are processed first.
const (
	PriorityLow    = 0  // recovered after a restart
	PriorityNormal = 10 // submitted through the API
)

// PriorityQueue is a bounded, thread-safe priority queue of jobs.
// Jobs with higher Priority are dequeued first; equal priorities are FIFO.
type PriorityQueue struct {
	mu       sync.Mutex
	items    jobHeap
	seq      uint64
	capacity int
	notify   chan struct{} // signaled when items are pushed
}

// NewPriorityQueue creates a queue holding at most capacity jobs.
// A non-positive capacity means unbounded.
func NewPriorityQueue(capacity int) *PriorityQueue {
	pq := &PriorityQueue{
		items:    make(jobHeap, 0),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds a job to the queue.
func (pq *PriorityQueue) Push(job *Job) error {
	if job == nil {
		return ErrNilJob
	}

	pq.mu.Lock()
	if pq.capacity > 0 && pq.items.Len() >= pq.capacity {
		pq.mu.Unlock()
		return ErrQueueFull
	}
	pq.seq++
	heap.Push(&pq.items, &jobItem{job: job, seq: pq.seq})
	pq.mu.Unlock()

	select {
	case pq.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest priority job.
// Blocks until a job is available. Once done is closed it drains what is
// left and then returns nil.
func (pq *PriorityQueue) Pop(done <-chan struct{}) *Job {
	for {
		if job := pq.TryPop(); job != nil {
			// Another consumer may be waiting on a notification we consumed.
			if pq.Len() > 0 {
				select {
				case pq.notify <- struct{}{}:
				default:
				}
			}
			return job
		}

		select {
		case <-done:
			return nil
		case <-pq.notify:
		}
	}
}

// TryPop attempts to pop without blocking. Returns nil if the queue is empty.
func (pq *PriorityQueue) TryPop() *Job {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&pq.items).(*jobItem).job
}

// Len returns the number of queued jobs.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Stats returns queue depth by priority level.
func (pq *PriorityQueue) Stats() QueueStats {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	stats := QueueStats{Total: pq.items.Len(), Capacity: pq.capacity}
	for _, item := range pq.items {
		if item.job.Priority >= PriorityNormal {
			stats.Normal++
		} else {
			stats.Low++
		}
	}
	return stats
}

// QueueStats reports queue depth by priority level.
type QueueStats struct {
	Total    int `json:"total"`
	Capacity int `json:"capacity"`
	Normal   int `json:"normal"`
	Low      int `json:"low"`
}

type jobItem struct {
	job *Job
	seq uint64
}

// jobHeap implements heap.Interface. Higher priority first, then lower seq.
type jobHeap []*jobItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*jobItem))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}
