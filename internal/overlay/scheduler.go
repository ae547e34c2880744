package overlay

import (
	"container/heap"
	"time"

	"github.com/jonboulle/clockwork"
)

type TaskID uint64

type task struct {
	id    TaskID
	due   time.Time
	fn    func()
	index int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Scheduler holds delayed callbacks for a single execution context. It never
// runs anything on its own: the owner calls RunDue from its loop. It is not
// safe for concurrent use.
type Scheduler struct {
	clock  clockwork.Clock
	queue  taskQueue
	byID   map[TaskID]*task
	nextID TaskID
	closed bool
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock: clock,
		byID:  make(map[TaskID]*task),
	}
}

func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After schedules fn to run d from now. It returns 0 once the scheduler is
// closed.
func (s *Scheduler) After(d time.Duration, fn func()) TaskID {
	if s.closed || fn == nil {
		return 0
	}
	if d < 0 {
		d = 0
	}
	s.nextID++
	t := &task{id: s.nextID, due: s.clock.Now().Add(d), fn: fn}
	heap.Push(&s.queue, t)
	s.byID[t.id] = t
	return t.id
}

// Cancel removes a pending task. Cancelling an unknown or already-run task
// is a no-op.
func (s *Scheduler) Cancel(id TaskID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, t.index)
	delete(s.byID, id)
	return true
}

// RunDue runs every task whose due time has been reached, earliest first.
// Tasks scheduled by a running task are picked up in the same call when they
// are already due.
func (s *Scheduler) RunDue() int {
	ran := 0
	now := s.clock.Now()
	for !s.closed && s.queue.Len() > 0 {
		next := s.queue[0]
		if next.due.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.byID, next.id)
		next.fn()
		ran++
	}
	return ran
}

func (s *Scheduler) NextDue() (time.Time, bool) {
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].due, true
}

func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Close drops every pending task. Later calls to After are ignored.
func (s *Scheduler) Close() {
	s.closed = true
	s.queue = nil
	s.byID = make(map[TaskID]*task)
}
