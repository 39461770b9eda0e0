package queue

// Option applies a configuration option to the ShardedQueue.
type Option func(*ShardedQueue)

// WithCapacity sets the total number of jobs the queue holds across all
// shards.
func WithCapacity(capacity int) Option {
	return func(q *ShardedQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithShards sets the number of independent shards. Jobs for the same score
// group always land on the same shard.
func WithShards(n int) Option {
	return func(q *ShardedQueue) {
		if n > 0 {
			q.shards = n
		}
	}
}
