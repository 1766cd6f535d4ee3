package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSchedule(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.Nil(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCheck(t *testing.T) {
	path := writeSchedule(t, `
some_ivar_job:
  cron: "* * * * *"
  class: SomeIvarJob
  rails_env: production
some_fancy_job:
  every: 1m
  queue: fancy
  class: SomeFancyJob
  rails_env: fancy
`)
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.Nil(t, app.Run([]string{"dschedd", "check", path}))
	require.Contains(t, out.String(), "some_ivar_job")
	require.Contains(t, out.String(), "some_fancy_job")
	require.Contains(t, out.String(), "2 of 2 entries ok")

	out.Reset()
	app = newApp()
	app.Writer = &out
	require.Nil(t, app.Run([]string{"dschedd", "check", "--env", "fancy", path}))
	require.False(t, strings.Contains(out.String(), "some_ivar_job"))
	require.Contains(t, out.String(), "1 of 2 entries ok")
}

func TestCheckRejectsBrokenSchedule(t *testing.T) {
	path := writeSchedule(t, "broken:\n  cron: \"every tuesday\"\n")
	app := newApp()
	app.Writer = &bytes.Buffer{}
	require.NotNil(t, app.Run([]string{"dschedd", "check", path}))
}
