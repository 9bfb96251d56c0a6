package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
)

var bucketTasks = []byte("uplink_tasks")

// BoltQueue persists tasks in a bbolt file. Keys are big-endian sequence
// numbers, so cursor order is FIFO order and survives restarts.
type BoltQueue struct {
	db     *bolt.DB
	logger log.Logger
}

var _ Queue = (*BoltQueue)(nil)

// OpenBolt opens or creates the queue file at path. timeout bounds the wait
// for the file lock held by another process.
func OpenBolt(path string, timeout time.Duration) (*BoltQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue bucket: %w", err)
	}

	q := &BoltQueue{db: db, logger: log.WithName("queue")}
	if n, err := q.Len(); err == nil && n > 0 {
		q.logger.Info("Recovered queued tasks", "path", path, "count", n)
	}
	return q, nil
}

func (q *BoltQueue) Push(task model.UplinkTask) (uint64, error) {
	var seq uint64
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		var err error
		if seq, err = b.NextSequence(); err != nil {
			return err
		}
		task.Seq = seq
		data, err := encodeTask(task)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("push task: %w", err)
	}
	return seq, nil
}

func (q *BoltQueue) Pop() (model.UplinkTask, bool, error) {
	var (
		task model.UplinkTask
		ok   bool
	)
	err := q.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()
		for {
			k, v := c.First()
			if k == nil {
				return nil
			}
			t, err := decodeTask(v)
			if err != nil {
				// An unreadable record would block the head forever.
				q.logger.Error(err, "Discarding unreadable queued task", "seq", binary.BigEndian.Uint64(k))
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}
			t.Seq = binary.BigEndian.Uint64(k)
			task, ok = t, true
			return c.Delete()
		}
	})
	if err != nil {
		return model.UplinkTask{}, false, fmt.Errorf("pop task: %w", err)
	}
	return task, ok, nil
}

func (q *BoltQueue) Requeue(task model.UplinkTask) error {
	if task.Seq == 0 {
		return ErrNoSeq
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put(seqKey(task.Seq), data)
	}); err != nil {
		return fmt.Errorf("requeue task %d: %w", task.Seq, err)
	}
	return nil
}

func (q *BoltQueue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTasks).Stats().KeyN
		return nil
	})
	return n, err
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// encodeTask stores optional sample fields that are NaN as zero; JSON has no NaN.
func encodeTask(task model.UplinkTask) ([]byte, error) {
	s := &task.Sample
	for _, f := range []*float64{&s.Accuracy, &s.Speed, &s.Heading} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

func decodeTask(data []byte) (model.UplinkTask, error) {
	var t model.UplinkTask
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}
