package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func executeJobs(t *testing.T, client *stubEnqueuer, inspector Inspector, args ...string) (string, error) {
	t.Helper()
	cmd := NewJobsCommand(func() *JobsCLI { return NewJobsCLIWith(client, inspector) })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJobsCobraTriggerPassesBatches(t *testing.T) {
	client := &stubEnqueuer{}

	out, err := executeJobs(t, client, stubInspector{}, "trigger", "process", "--batches", "3")

	require.NoError(t, err)
	require.Equal(t, []int{3}, client.process)
	require.Contains(t, out, "enqueued compliance:process id=t-1")
	require.True(t, client.closed)
}

func TestJobsCobraTriggerDefaultsToOneBatch(t *testing.T) {
	client := &stubEnqueuer{}

	_, err := executeJobs(t, client, stubInspector{}, "trigger", "process")

	require.NoError(t, err)
	require.Equal(t, []int{1}, client.process)
}

func TestJobsCobraTriggerReap(t *testing.T) {
	client := &stubEnqueuer{}

	_, err := executeJobs(t, client, stubInspector{}, "trigger", "reap")

	require.NoError(t, err)
	require.Equal(t, 1, client.reaps)
}

func TestJobsCobraUnknownJobExitsOne(t *testing.T) {
	client := &stubEnqueuer{}

	out, err := executeJobs(t, client, stubInspector{}, "trigger", "rebuild")

	require.ErrorIs(t, err, ExitError{Code: 1})
	require.Contains(t, out, "unsupported job rebuild")
}

func TestJobsCobraRejectsBadArguments(t *testing.T) {
	client := &stubEnqueuer{}

	_, err := executeJobs(t, client, stubInspector{}, "trigger")
	require.Error(t, err)

	_, err = executeJobs(t, client, stubInspector{}, "trigger", "process", "--batches", "0")
	require.Error(t, err)
	require.Empty(t, client.process)
}

func TestJobsCobraStatsPrintsJSON(t *testing.T) {
	inspector := stubInspector{info: &asynq.QueueInfo{Pending: 4, Retry: 1}}

	out, err := executeJobs(t, &stubEnqueuer{}, inspector, "stats")

	require.NoError(t, err)
	var stats QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 4, stats.Pending)
	require.Equal(t, 1, stats.Retry)
}
