package queue

import "errors"

// ErrInvalidShard is returned for a shard index outside [0, Shards()).
var ErrInvalidShard = errors.New("invalid shard")
