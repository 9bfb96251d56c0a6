package queue

import (
	"sort"
	"sync"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// MemoryQueue is a Queue held in process memory. Its content is lost on exit.
type MemoryQueue struct {
	mu     sync.Mutex
	seq    uint64
	tasks  []model.UplinkTask
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(task model.UplinkTask) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	q.seq++
	task.Seq = q.seq
	q.tasks = append(q.tasks, task)
	return task.Seq, nil
}

func (q *MemoryQueue) Pop() (model.UplinkTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return model.UplinkTask{}, false, ErrClosed
	}
	if len(q.tasks) == 0 {
		return model.UplinkTask{}, false, nil
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true, nil
}

func (q *MemoryQueue) Requeue(task model.UplinkTask) error {
	if task.Seq == 0 {
		return ErrNoSeq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	i := sort.Search(len(q.tasks), func(i int) bool { return q.tasks[i].Seq >= task.Seq })
	if i < len(q.tasks) && q.tasks[i].Seq == task.Seq {
		q.tasks[i] = task
		return nil
	}
	q.tasks = append(q.tasks, model.UplinkTask{})
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = task
	return nil
}

func (q *MemoryQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
