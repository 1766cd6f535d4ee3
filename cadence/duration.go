package cadence

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day

	maxSeconds = math.MaxInt64 / int64(time.Second)
)

var (
	reSeconds   = regexp.MustCompile(`^\d+$`)
	reComponent = regexp.MustCompile(`^(\d+(?:\.\d+)?)(ms|s|m|h|d|w|y)`)
)

var units = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  day,
	"w":  week,
	"y":  year,
}

// ParseDuration parses interval strings such as "30s", "1m", "1h30m", "2d"
// or "1w". A bare number counts seconds.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if reSeconds.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		if n > maxSeconds {
			return 0, fmt.Errorf("duration %q is too long", raw)
		}
		return positive(raw, time.Duration(n)*time.Second)
	}

	var total time.Duration
	for rest := s; rest != ""; {
		m := reComponent.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		d := n * float64(units[m[2]])
		if d >= float64(math.MaxInt64-total) {
			return 0, fmt.Errorf("duration %q is too long", raw)
		}
		total += time.Duration(d)
		rest = rest[len(m[0]):]
	}
	return positive(raw, total)
}

func positive(raw string, d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be > 0", raw)
	}
	return d, nil
}
