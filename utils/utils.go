package utils

import (
	"sync"
	"time"
)

// Backoff yields Fibonacci multiples of a base delay: 1, 1, 2, 3, 5, ...
// capped at max.
type Backoff struct {
	mu   sync.Mutex
	a, b int64
	base time.Duration
	max  time.Duration
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{a: 0, b: 1, base: base, max: max}
}

// Next returns the next delay.
func (f *Backoff) Next() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := f.b, f.a+f.b
	d := time.Duration(a) * f.base
	if d >= f.max || d <= 0 {
		return f.max
	}
	f.a, f.b = a, b
	return d
}

// Reset starts over from the base delay.
func (f *Backoff) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.a, f.b = 0, 1
}
