package queue

import (
	"errors"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// ErrNoSeq is returned when a task without a queue sequence is requeued.
var ErrNoSeq = errors.New("task has no queue sequence")

// Queue is the FIFO buffer of undelivered uplink tasks.
type Queue interface {
	// Push appends task at the tail and returns its sequence number.
	Push(task model.UplinkTask) (uint64, error)

	// Pop removes and returns the head. ok is false when the queue is empty.
	Pop() (task model.UplinkTask, ok bool, err error)

	// Requeue puts a popped task back under its original sequence, so it
	// becomes the head again.
	Requeue(task model.UplinkTask) error

	Len() (int, error)

	Close() error
}
