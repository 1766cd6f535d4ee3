package cadence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestCronEveryMinute(t *testing.T) {
	spec, err := Parse(Raw{Cron: "* * * * *"})
	require.Nil(t, err)

	now := base.Add(20 * time.Second)
	require.True(t, spec.IsDueAt(now, time.Time{}))
	// same minute bucket never fires twice
	require.False(t, spec.IsDueAt(now.Add(30*time.Second), now))
	require.True(t, spec.IsDueAt(now.Add(time.Minute), now))
	require.Equal(t, "* * * * *", spec.String())
}

func TestCronFields(t *testing.T) {
	spec, err := Parse(Raw{Cron: "30 10 * * 1"})
	require.Nil(t, err)

	// 2024-03-04 is a Monday.
	require.True(t, spec.IsDueAt(base.Add(30*time.Minute+59*time.Second), time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(31*time.Minute), time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(24*time.Hour+30*time.Minute), time.Time{}))
	require.Equal(t, base.Add(30*time.Minute), spec.Next(base))
}

func TestCronDescriptor(t *testing.T) {
	spec, err := Parse(Raw{Cron: "@hourly"})
	require.Nil(t, err)
	require.True(t, spec.IsDueAt(base, time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(time.Minute), time.Time{}))
}

func TestCronLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	spec, err := Parse(Raw{Cron: "0 12 * * *"}, WithLocation(loc))
	require.Nil(t, err)
	// 10:00 UTC is noon at UTC+2.
	require.True(t, spec.IsDueAt(base, time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(2*time.Hour), time.Time{}))
}

func TestInterval(t *testing.T) {
	spec, err := Parse(Raw{Every: "1m"}, WithLoadedAt(base))
	require.Nil(t, err)

	require.True(t, spec.IsDueAt(base, time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(59*time.Second), base))
	require.True(t, spec.IsDueAt(base.Add(time.Minute), base))
	require.Equal(t, base.Add(time.Minute), spec.Next(base))
	require.Equal(t, "every 1m", spec.String())
}

func TestIntervalOffsetsGateEligibility(t *testing.T) {
	spec, err := Parse(Raw{Every: "1m", Offsets: []string{"1h", "10m"}}, WithLoadedAt(base))
	require.Nil(t, err)

	require.False(t, spec.IsDueAt(base, time.Time{}))
	require.False(t, spec.IsDueAt(base.Add(59*time.Minute), time.Time{}))
	require.True(t, spec.IsDueAt(base.Add(time.Hour), time.Time{}))
	require.Equal(t, base.Add(time.Hour), spec.Next(base))
	require.Equal(t, base.Add(time.Hour+time.Minute), spec.Next(base.Add(time.Hour)))
}

func TestParseErrors(t *testing.T) {
	cases := []Raw{
		{},
		{Cron: "* * *"},
		{Cron: "61 * * * *"},
		{Cron: "@every 5m"},
		{Every: "soon"},
		{Every: "0s"},
		{Every: "1m", Offsets: []string{"later"}},
		{Cron: "* * * * *", Every: "1m"},
		{Cron: "* * * * *", Offsets: []string{"1h"}},
	}
	for _, raw := range cases {
		_, err := Parse(raw)
		var ce *ConfigError
		require.True(t, errors.As(err, &ce), "expected ConfigError for %+v", raw)
	}
}

func TestEveryFromValue(t *testing.T) {
	r, err := EveryFromValue("1m")
	require.Nil(t, err)
	require.Equal(t, Raw{Every: "1m"}, r)

	r, err = EveryFromValue([]any{"1m"})
	require.Nil(t, err)
	require.Equal(t, Raw{Every: "1m"}, r)

	r, err = EveryFromValue([]any{"1m", []any{"1h"}})
	require.Nil(t, err)
	require.Equal(t, Raw{Every: "1m", Offsets: []string{"1h"}}, r)

	r, err = EveryFromValue([]any{"1m", "1h"})
	require.Nil(t, err)
	require.Equal(t, Raw{Every: "1m", Offsets: []string{"1h"}}, r)

	_, err = EveryFromValue(42)
	require.NotNil(t, err)
	_, err = EveryFromValue([]any{})
	require.NotNil(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30":     30 * time.Second,
		"30s":    30 * time.Second,
		"1m":     time.Minute,
		"1h30m":  90 * time.Minute,
		"1.5h":   90 * time.Minute,
		"2d":     48 * time.Hour,
		"1w":     7 * 24 * time.Hour,
		"500ms":  500 * time.Millisecond,
		" 10m  ": 10 * time.Minute,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		require.Nil(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "m", "10x", "1h-", "0", "10000000000", "300y", "290y290y", "99999999999999999999w"} {
		_, err := ParseDuration(raw)
		require.NotNil(t, err, raw)
	}
}
