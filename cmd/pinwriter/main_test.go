package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/pinwriter/internal/jobs"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
server:
  storageDir: ` + filepath.Join(dir, "data") + `
  logLevel: error
llm:
  provider: mock
images:
  provider: mock
pins:
  enabled: true
  variations: 2
  siteUrl: https://blog.example.com
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseAt(t *testing.T) {
	at, err := parseAt("2026-03-01T09:00:00Z", 0)
	require.NoError(t, err)
	require.True(t, at.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))

	before := time.Now()
	at, err = parseAt("", time.Hour)
	require.NoError(t, err)
	require.WithinDuration(t, before.Add(time.Hour), at, time.Second)

	_, err = parseAt("2026-03-01T09:00:00Z", time.Hour)
	require.Error(t, err)
	_, err = parseAt("tomorrow", 0)
	require.Error(t, err)
}

func TestJobsRun_CompletesPipeline(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "jobs", "run", "Toddler tantrums")
	require.NoError(t, err, out)

	var job jobs.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	require.FileExists(t, job.Result.ArticlePath)
	require.Equal(t, 2, job.Result.PinCount)
	require.Equal(t, jobs.StepSkipped, job.Steps.Status(jobs.StepWordPress))

	out, err = run(t, "--config", cfg, "jobs", "list")
	require.NoError(t, err)
	require.Contains(t, out, job.ID)

	out, err = run(t, "--config", cfg, "jobs", "get", job.ID)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "completed"`)
}

func TestScheduleCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "schedule", "add", "Picky eaters", "--in", "2h", "-r", "weekly")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "scheduled "), out)
	id := strings.Fields(out)[1]

	out, err = run(t, "--config", cfg, "schedule", "list", "--upcoming")
	require.NoError(t, err)
	require.Contains(t, out, id)
	require.Contains(t, out, "weekly")

	out, err = run(t, "--config", cfg, "schedule", "update", id, "--topic", "Picky eaters at dinner")
	require.NoError(t, err)
	require.Equal(t, "updated "+id+"\n", out)

	out, err = run(t, "--config", cfg, "schedule", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "pending=1")
	require.Contains(t, out, "upcoming_24h=1")

	_, err = run(t, "--config", cfg, "schedule", "cancel", id)
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "schedule", "cancel", id)
	require.Error(t, err)

	_, err = run(t, "--config", cfg, "schedule", "add", "x", "-r", "hourly")
	require.Error(t, err)
}

func TestRetriesCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "retries", "stats")
	require.NoError(t, err)
	require.Equal(t, "pending=0 due_now=0 exhausted=0\n", out)

	_, err = run(t, "--config", cfg, "retries", "cancel", "missing")
	require.Error(t, err)
}
