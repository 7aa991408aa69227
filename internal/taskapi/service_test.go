package taskapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"biopatrol/internal/dispatcher"
	"biopatrol/internal/task"
	"biopatrol/pkg/logger"
)

func init() {
	logger.Init("error")
}

type doneExecutor struct{}

func (doneExecutor) Execute(_ context.Context, t *task.Task) {
	t.CompareAndSetStatus(task.StatusQueued, task.StatusInProgress)
	t.CompareAndSetStatus(task.StatusInProgress, task.StatusDone)
}

func (doneExecutor) CancelActive(context.Context) {}

func newService(t *testing.T) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := dispatcher.New(map[string]dispatcher.Executor{"r1": doneExecutor{}})
	d.Start(ctx)
	return NewService(d), cancel
}

const submitPayload = `{
  "task_id": "api-1",
  "robot_id": "r1",
  "steps": [
    { "step_id": "s1", "action": "speak", "params": {"speak_text": "hi"} }
  ]
}`

func TestService_SubmitAndGet(t *testing.T) {
	svc, cancel := newService(t)
	defer cancel()

	resp, err := svc.Submit(context.Background(), &SubmitRequest{Task: json.RawMessage(submitPayload)})
	require.NoError(t, err)
	assert.Equal(t, "api-1", resp.TaskID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(context.Background(), &GetRequest{TaskID: "api-1"})
		require.NoError(t, err)
		var snap map[string]any
		require.NoError(t, json.Unmarshal(got.Task, &snap))
		if snap["status"] == "DONE" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("task never reached DONE")
}

func TestService_SubmitAssignsID(t *testing.T) {
	svc, cancel := newService(t)
	defer cancel()

	resp, err := svc.Submit(context.Background(), &SubmitRequest{
		Task: json.RawMessage(`{"robot_id":"r1","steps":[]}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.TaskID)
}

func TestService_SubmitRejectsMalformedTask(t *testing.T) {
	svc, cancel := newService(t)
	defer cancel()

	_, err := svc.Submit(context.Background(), &SubmitRequest{Task: json.RawMessage(`{"steps": [{}]}`)})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestService_GetUnknownTask(t *testing.T) {
	svc, cancel := newService(t)
	defer cancel()

	_, err := svc.Get(context.Background(), &GetRequest{TaskID: "missing"})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
}

func TestService_CancelUnknownTask(t *testing.T) {
	svc, cancel := newService(t)
	defer cancel()

	resp, err := svc.Cancel(context.Background(), &CancelRequest{TaskID: "missing"})
	require.NoError(t, err)
	assert.False(t, resp.Cancelled)
}
