package config

import (
	"errors"
	"testing"

	"dsched/cadence"
	"dsched/job"
	"dsched/registry"

	"github.com/stretchr/testify/require"
)

const schedule = `
some_ivar_job:
  cron: "* * * * *"
  class: SomeIvarJob
  args: /tmp
  rails_env: production
some_other_job:
  every: ["1m", ["1h"]]
  queue: high
  custom_job_class: SomeOtherJob
  args:
    b: blah
some_fancy_job:
  every: 1m
  queue: fancy
  class: SomeFancyJob
  args: sparkles
  rails_env: fancy
shared_env_job:
  cron: "* * * * *"
  class: SomeSharedEnvJob
  args: /tmp
  env: [fancy, production]
job_with_params:
  cron: "* * * * *"
  class: SomeIvarJob
  args:
    key: value
  parameters:
    log_level:
      description: The level of logging
      default: warn
    verbose:
  description: rebuilds things
`

func TestParseScheduleKeepsOrder(t *testing.T) {
	entries, err := ParseSchedule([]byte(schedule))
	require.Nil(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"some_ivar_job", "some_other_job", "some_fancy_job", "shared_env_job", "job_with_params"}, names)
}

func TestParseScheduleFields(t *testing.T) {
	entries, err := ParseSchedule([]byte(schedule))
	require.Nil(t, err)

	ivar := entries[0]
	require.Equal(t, cadence.Raw{Cron: "* * * * *"}, ivar.Cadence)
	require.Equal(t, "SomeIvarJob", ivar.Class)
	require.True(t, job.List("/tmp").Equal(ivar.Args))
	require.Equal(t, []string{"production"}, ivar.Environments)

	other := entries[1]
	require.Equal(t, cadence.Raw{Every: "1m", Offsets: []string{"1h"}}, other.Cadence)
	require.Equal(t, "SomeOtherJob", other.Class)
	require.Equal(t, "high", other.Queue)
	require.True(t, job.Map(map[string]any{"b": "blah"}).Equal(other.Args))
	require.Nil(t, other.Environments)

	require.Equal(t, []string{"fancy", "production"}, entries[3].Environments)

	params := entries[4]
	require.Equal(t, "rebuilds things", params.Description)
	require.Equal(t, []registry.Parameter{
		{Name: "log_level", Description: "The level of logging", Default: "warn"},
		{Name: "verbose"},
	}, params.Parameters)
}

func TestParseScheduleCommaSeparatedEnvironments(t *testing.T) {
	entries, err := ParseSchedule([]byte(`
shared:
  cron: "* * * * *"
  rails_env: "fancy, production"
`))
	require.Nil(t, err)
	require.Equal(t, []string{"fancy", "production"}, entries[0].Environments)
	require.Equal(t, "", entries[0].Class)
}

func TestParseScheduleLoadsIntoRegistry(t *testing.T) {
	entries, err := ParseSchedule([]byte(schedule))
	require.Nil(t, err)

	r := registry.New(nopLogger())
	require.Nil(t, r.Load(ctx(), entries))
	require.Len(t, r.List("production"), 4)
	require.Len(t, r.List("fancy"), 4)
}

func TestParseScheduleErrors(t *testing.T) {
	for _, raw := range []string{
		"- not\n- a mapping\n",
		"job: just a string\n",
		"job:\n  cron: [a, b]\n",
		"job:\n  every: [1m, 2, 3]\n",
		"job:\n  cron: '* * * * *'\n  every: 1m\n",
		"job:\n  every: 1m\n  parameters: {}\n",
		"job:\n  every: 1m\n  parameters:\n    p: 3\n",
		"job:\n  every: 1m\n  rails_env: {a: b}\n",
	} {
		_, err := ParseSchedule([]byte(raw))
		require.NotNil(t, err, raw)
	}

	_, err := ParseSchedule([]byte("job:\n  every: [1m, {a: b}]\n"))
	var se *ScheduleError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "job", se.Name)
	require.Equal(t, 2, se.Line)
}

func TestParseScheduleEmpty(t *testing.T) {
	entries, err := ParseSchedule(nil)
	require.Nil(t, err)
	require.Len(t, entries, 0)
}
