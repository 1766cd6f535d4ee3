package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 4*time.Second)
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	require.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, got)

	b.Reset()
	require.Equal(t, time.Second, b.Next())
}
