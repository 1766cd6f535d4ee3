package timingqueue

import "context"

// TimingQueue is the index of non-empty delayed buckets, sorted by due second.
type TimingQueue interface {
	// Head returns the earliest timestamp. ok is false when empty.
	Head(ctx context.Context) (timestamp int64, ok bool, err error)

	// Range returns timestamps by rank, from start to stop inclusive.
	Range(ctx context.Context, start, stop int64) ([]int64, error)

	// Due returns up to limit timestamps not later than now.
	Due(ctx context.Context, now int64, limit int64) ([]int64, error)

	Count(ctx context.Context) (int64, error)

	// Clear drops every bucket and the index. It returns the number of
	// buckets removed.
	Clear(ctx context.Context) (int64, error)

	// Key is the redis key of the index.
	Key() string
}
