// Package queue carries recompute-and-broadcast jobs from the write path to
// the broadcast workers.
//
// Jobs are partitioned by score group so that a single worker owns every
// job for a group and events for one group leave in write order.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const (
	defaultCapacity = 10000
	defaultShards   = 8
)

// Job asks a worker to recompute one group and broadcast the result.
type Job struct {
	InstitutionID string
	Group         model.GroupKey
	// Deleted is set when the write that produced the job was a retraction.
	Deleted    bool
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and per-shard channel dequeue.
type Queue interface {
	// Enqueue adds a job. It returns false when the job's shard is full or
	// the queue is closed.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns the channel for one shard. The channel is closed once
	// the queue is closed and drained.
	Dequeue(ctx context.Context, shard int) <-chan Job

	// Shards returns the number of shards.
	Shards() int

	// Len returns the number of queued jobs across all shards.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// ShardedQueue implements Queue with one buffered channel per shard.
type ShardedQueue struct {
	lanes    []chan Job
	capacity int
	shards   int

	mu     sync.RWMutex
	closed bool
}

// NewShardedQueue creates a queue. Capacity is split evenly across shards,
// with at least one slot each.
func NewShardedQueue(opts ...Option) *ShardedQueue {
	q := &ShardedQueue{
		capacity: defaultCapacity,
		shards:   defaultShards,
	}
	for _, opt := range opts {
		opt(q)
	}

	perShard := q.capacity / q.shards
	if perShard < 1 {
		perShard = 1
	}
	q.capacity = perShard * q.shards
	q.lanes = make([]chan Job, q.shards)
	for i := range q.lanes {
		q.lanes[i] = make(chan Job, perShard)
	}

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// ShardFor returns the shard owning a group within an institution.
func (q *ShardedQueue) ShardFor(institutionID string, group model.GroupKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(institutionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(group.ID()))
	return int(h.Sum32() % uint32(q.shards)) //nolint:gosec // shards is positive
}

// Enqueue never blocks.
func (q *ShardedQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}

	select {
	case q.lanes[q.ShardFor(j.InstitutionID, j.Group)] <- j:
		metrics.RecordQueueEnqueue()
		q.report()
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue panics on an out-of-range shard; callers iterate 0..Shards()-1.
func (q *ShardedQueue) Dequeue(ctx context.Context, shard int) <-chan Job {
	if shard < 0 || shard >= q.shards {
		panic(fmt.Errorf("%w: %d of %d", ErrInvalidShard, shard, q.shards))
	}
	lane := q.lanes[shard]
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range lane {
			select {
			case out <- j:
				metrics.RecordQueueDequeue()
				q.report()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (q *ShardedQueue) Shards() int { return q.shards }

func (q *ShardedQueue) Len(context.Context) int {
	return q.report()
}

func (q *ShardedQueue) report() int {
	size := 0
	for _, lane := range q.lanes {
		size += len(lane)
	}
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close stops accepting jobs. Already queued jobs are still delivered.
func (q *ShardedQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	return nil
}

func (q *ShardedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
