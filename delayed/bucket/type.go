package bucket

import "context"

// Bucket holds the delayed jobs sharing one due second, oldest first.
type Bucket interface {
	// Add appends value and indexes the bucket in one transaction.
	Add(ctx context.Context, value string) error

	// PushFront puts value back at the head of the bucket, ahead of every
	// value added since it was popped.
	PushFront(ctx context.Context, value string) error

	// Values returns every value in insertion order.
	Values(ctx context.Context) ([]string, error)

	// Range returns values between start and stop, inclusive.
	Range(ctx context.Context, start, stop int64) ([]string, error)

	Len(ctx context.Context) (int64, error)

	// Pop removes the oldest value. ok is false when the bucket is empty.
	Pop(ctx context.Context) (value string, ok bool, err error)

	// Remove deletes the first occurrence of value and reports whether one
	// was found.
	Remove(ctx context.Context, value string) (bool, error)

	// Flush pops every value, invoking callback for each.
	Flush(ctx context.Context, callback func(value string)) (int, error)

	// Timestamp is the due second of the bucket.
	Timestamp() int64

	// Index is the redis key of the bucket.
	Index() string
}
