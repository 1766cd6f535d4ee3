package mq

import (
	"context"
)

// Producer pushes an encoded job onto the named queue.
type Producer interface {
	Product(ctx context.Context, queue string, value []byte) error
}

// Reader exposes jobs that are already queued but not yet taken by a worker.
type Reader interface {
	Queues(ctx context.Context) ([]string, error)
	// Range returns the raw jobs of queue between start and stop, inclusive.
	Range(ctx context.Context, queue string, start, stop int64) ([][]byte, error)
	Size(ctx context.Context, queue string) (int64, error)
}
