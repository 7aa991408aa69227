package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/fleet"
	"biopatrol/internal/robotrpc"
	"biopatrol/internal/scanrecorder"
	"biopatrol/internal/task"
	"biopatrol/pkg/config"
	"biopatrol/pkg/logger"
)

func init() {
	logger.Init("error")
}

// fakeClient is a scripted robotrpc.Client. Unconfigured methods return
// {OK:true}.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*robotrpc.Result
	errs    map[string]error
	moving  string
	onCall  func(method string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		results: make(map[string]*robotrpc.Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeClient) invoke(method string) (*robotrpc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	hook := f.onCall
	err := f.errs[method]
	res := f.results[method]
	f.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return &robotrpc.Result{OK: true, Data: map[string]any{}}, nil
}

func (f *fakeClient) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeClient) setMoving(shelfID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moving = shelfID
}

func (f *fakeClient) MoveToLocation(_ context.Context, _ string, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("move_to_location")
}
func (f *fakeClient) MoveShelf(_ context.Context, _, _ string, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("move_shelf")
}
func (f *fakeClient) ReturnShelf(_ context.Context, _ string, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("return_shelf")
}
func (f *fakeClient) ReturnHome(_ context.Context, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("return_home")
}
func (f *fakeClient) DockShelf(_ context.Context, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("dock_shelf")
}
func (f *fakeClient) UndockShelf(_ context.Context, _ time.Duration) (*robotrpc.Result, error) {
	return f.invoke("undock_shelf")
}
func (f *fakeClient) MoveToPose(_ context.Context, _, _, _ float64) (*robotrpc.Result, error) {
	return f.invoke("move_to_pose")
}
func (f *fakeClient) Speak(_ context.Context, _ string) (*robotrpc.Result, error) {
	return f.invoke("speak")
}
func (f *fakeClient) CancelCommand(_ context.Context) (*robotrpc.Result, error) {
	return f.invoke("cancel_command")
}

func (f *fakeClient) GetMovingShelf(_ context.Context) (*robotrpc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "get_moving_shelf")
	moving := f.moving
	res := f.results["get_moving_shelf"]
	f.mu.Unlock()
	if res != nil {
		return res, nil
	}
	data := map[string]any{}
	if moving != "" {
		data["shelf_id"] = moving
	}
	return &robotrpc.Result{OK: true, Data: data}, nil
}

func (f *fakeClient) ListShelves(_ context.Context) (*robotrpc.Result, error) {
	return f.invoke("list_shelves")
}
func (f *fakeClient) ListLocations(_ context.Context) (*robotrpc.Result, error) {
	return f.invoke("list_locations")
}
func (f *fakeClient) GetPose(_ context.Context) (*robotrpc.Result, error) {
	return f.invoke("get_pose")
}
func (f *fakeClient) GetBattery(_ context.Context) (*robotrpc.Result, error) {
	return f.invoke("get_battery")
}
func (f *fakeClient) Close() error { return nil }

type fakeSensor struct {
	mu       sync.Mutex
	payloads map[string]*biosensor.ScanPayload
	delay    time.Duration
	onScan   func(bedName string)
}

func (f *fakeSensor) GetValidScanData(ctx context.Context, _, _, bedName string) (*biosensor.ScanPayload, error) {
	if f.onScan != nil {
		f.onScan(bedName)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[bedName], nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	rows []scanrecorder.Row
}

func (f *fakeRecorder) Record(_ context.Context, row scanrecorder.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeRecorder) all() []scanrecorder.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scanrecorder.Row(nil), f.rows...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MoveTimeout:            100 * time.Millisecond,
		ReturnTimeout:          100 * time.Millisecond,
		MoveShelfMaxRetries:    3,
		MoveLocationMaxRetries: 2,
		RetryBaseDelay:         time.Millisecond,
		RetryMaxDelay:          5 * time.Millisecond,
		ShelfMonitorPeriod:     10 * time.Millisecond,
	}
}

type harness struct {
	client   *fakeClient
	sensor   *fakeSensor
	recorder *fakeRecorder
	notifier *fakeNotifier
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := newFakeClient()
	sensor := &fakeSensor{payloads: make(map[string]*biosensor.ScanPayload)}
	recorder := &fakeRecorder{}
	notify := &fakeNotifier{}
	gw := fleet.New("r1", client, fleet.NewResolver("r1", nil, 0))
	eng := New("r1", gw, sensor, recorder, notify, testEngineConfig())
	return &harness{client: client, sensor: sensor, recorder: recorder, notifier: notify, engine: eng}
}

func mkStep(id string, action task.Action, params map[string]any, skips ...string) *task.Step {
	return &task.Step{StepID: id, Action: action, Params: params, SkipOnFailure: skips}
}

func patrolSteps() []*task.Step {
	return []*task.Step{
		mkStep("s1", task.ActionMoveShelf, map[string]any{"shelf_id": "S_04", "location_id": "B_101-1"}),
		mkStep("s2", task.ActionBioScan, map[string]any{"bed_key": "101-1"}),
		mkStep("s3", task.ActionReturnShelf, map[string]any{"shelf_id": "S_04"}),
		mkStep("s4", task.ActionReturnHome, nil),
	}
}

func TestExecute_HappyPatrol(t *testing.T) {
	h := newHarness(t)
	h.client.setMoving("S_04")
	h.sensor.payloads["101-1"] = &biosensor.ScanPayload{BPM: 72, RPM: 16}
	h.sensor.delay = 35 * time.Millisecond

	tk := task.New("t1", "r1", patrolSteps())
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	for _, s := range tk.Steps {
		assert.Equal(t, task.StepSuccess, s.Status, "step %s", s.StepID)
	}

	snap := tk.Snapshot()
	metrics, ok := snap.Metadata["metrics"].(map[string]any)
	require.True(t, ok, "metadata.metrics missing")
	polls, ok := metrics["poll_count"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, polls, int64(1), "monitor should have polled during the scan")

	require.Len(t, h.notifier.texts, 1)
	assert.Contains(t, h.notifier.texts[0], "completed 1 of 1 beds")
}

func TestExecute_MoveFailureSkipsBioScan(t *testing.T) {
	h := newHarness(t)
	h.client.results["move_shelf"] = &robotrpc.Result{OK: false, ErrorCode: 14606, ErrorText: "move interrupted"}

	steps := []*task.Step{
		mkStep("s1", task.ActionMoveShelf, map[string]any{"shelf_id": "S_04", "location_id": "B_101-1"}, "bio1"),
		mkStep("bio1", task.ActionBioScan, map[string]any{"bed_key": "101-1"}),
		mkStep("s3", task.ActionReturnShelf, map[string]any{"shelf_id": "S_04"}),
	}
	tk := task.New("t2", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	assert.Equal(t, task.StepFail, steps[0].Status)
	assert.Equal(t, 14606, steps[0].Result.ErrorCode)

	assert.Equal(t, task.StepSkipped, steps[1].Status)
	require.NotNil(t, steps[1].Result)
	assert.Equal(t, true, steps[1].Result.Data["conditional_skip"])

	assert.Equal(t, task.StepSuccess, steps[2].Status)
	assert.Equal(t, 1, h.client.callCount("return_shelf"))

	rows := h.recorder.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "101-1", rows[0].BedName)
	assert.Equal(t, "N/A", rows[0].Status)
	assert.False(t, rows[0].IsValid)
	assert.Equal(t, "robot could not move to bedside", rows[0].Details)

	// No shelf was ever carried: the monitor must not have run.
	assert.Equal(t, 0, h.client.callCount("get_moving_shelf"))
}

func TestExecute_ShelfDropMidScan(t *testing.T) {
	h := newHarness(t)
	h.client.setMoving("S_04")
	h.client.results["list_shelves"] = &robotrpc.Result{OK: true, Data: map[string]any{
		"shelves": []any{
			map[string]any{"id": "S_04", "name": "shelf 4", "pose": map[string]any{"x": 1.5, "y": 2.5, "theta": 0.1}},
		},
	}}
	h.sensor.payloads["101-1"] = &biosensor.ScanPayload{BPM: 70, RPM: 15}
	h.sensor.delay = 60 * time.Millisecond
	h.sensor.onScan = func(bed string) {
		if bed == "101-1" {
			h.client.setMoving("") // carriage lost mid-scan
		}
	}

	steps := []*task.Step{
		mkStep("s1", task.ActionMoveShelf, map[string]any{"shelf_id": "S_04", "location_id": "B_101-1"}),
		mkStep("s2", task.ActionBioScan, map[string]any{"bed_key": "101-1"}),
		mkStep("s3", task.ActionMoveToLocation, map[string]any{"location_id": "B_102-1"}),
		mkStep("s4", task.ActionBioScan, map[string]any{"bed_key": "102-1"}),
		mkStep("s5", task.ActionReturnShelf, map[string]any{"shelf_id": "S_04"}),
	}
	tk := task.New("t3", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusShelfDropped, tk.GetStatus())

	snap := tk.Snapshot()
	assert.Equal(t, true, snap.Metadata["shelf_drop"])
	assert.Equal(t, "S_04", snap.Metadata["shelf_id"])

	pose, ok := snap.Metadata["shelf_pose"].(map[string]any)
	require.True(t, ok, "shelf_pose should resolve from list_shelves")
	assert.Equal(t, 1.5, pose["x"])

	beds, ok := snap.Metadata["remaining_beds"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"101-1", "102-1"}, beds)

	// Steps after the drop never ran.
	assert.Equal(t, task.StepPending, steps[2].Status)
	assert.Equal(t, task.StepPending, steps[3].Status)
	assert.Equal(t, task.StepPending, steps[4].Status)

	rows := h.recorder.all()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "N/A", row.Status)
		assert.Equal(t, "shelf dropped, patrol interrupted", row.Details)
	}

	assert.GreaterOrEqual(t, h.client.callCount("cancel_command"), 1)
	assert.GreaterOrEqual(t, h.client.callCount("return_home"), 1)
}

func TestExecute_ExternalCancelBetweenSteps(t *testing.T) {
	h := newHarness(t)
	h.client.setMoving("S_04")

	steps := []*task.Step{
		mkStep("s1", task.ActionMoveShelf, map[string]any{"shelf_id": "S_04", "location_id": "B_101-1"}),
		mkStep("s2", task.ActionWait, map[string]any{"seconds": 0.5}),
		mkStep("s3", task.ActionSpeak, map[string]any{"speak_text": "patrol done"}),
	}
	tk := task.New("t4", "r1", steps)

	h.client.onCall = func(method string) {
		if method == "move_shelf" {
			tk.CompareAndSetStatus(task.StatusInProgress, task.StatusCancelled)
		}
	}

	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusCancelled, tk.GetStatus())
	assert.Equal(t, task.StepSuccess, steps[0].Status)
	assert.Equal(t, task.StepPending, steps[1].Status)
	assert.Equal(t, task.StepPending, steps[2].Status)

	// Cleanup returned the held shelf and sent the robot home.
	assert.Equal(t, 1, h.client.callCount("return_shelf"))
	assert.Equal(t, 1, h.client.callCount("return_home"))
}

func TestExecute_NonCriticalSpeakFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.client.results["speak"] = &robotrpc.Result{OK: false, ErrorCode: 9000, ErrorText: "tts unavailable"}

	steps := []*task.Step{
		mkStep("s1", task.ActionSpeak, map[string]any{"speak_text": "starting patrol"}),
		mkStep("s2", task.ActionReturnHome, nil),
	}
	tk := task.New("t5", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	assert.Equal(t, task.StepFail, steps[0].Status)
	assert.Equal(t, 9000, steps[0].Result.ErrorCode)
	assert.Equal(t, task.StepSuccess, steps[1].Status)
	assert.Equal(t, 1, h.client.callCount("speak"))
}

func TestExecute_CriticalFailureAbortsTask(t *testing.T) {
	h := newHarness(t)
	h.client.results["move_to_location"] = &robotrpc.Result{OK: false, ErrorCode: 500, ErrorText: "navigation error"}

	steps := []*task.Step{
		mkStep("s1", task.ActionMoveToLocation, map[string]any{"location_id": "B_101-1"}),
		mkStep("s2", task.ActionSpeak, map[string]any{"speak_text": "arrived"}),
	}
	tk := task.New("t6", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusFailed, tk.GetStatus())
	assert.Equal(t, task.StepFail, steps[0].Status)
	assert.Equal(t, task.StepPending, steps[1].Status)
}

func TestExecute_EmptyStepsCompletes(t *testing.T) {
	h := newHarness(t)
	tk := task.New("t7", "r1", nil)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	// Only the pre-loop name refresh touched the fleet.
	assert.Equal(t, 1, h.client.callCount("list_shelves"))
	assert.Equal(t, 1, h.client.callCount("list_locations"))
	assert.Equal(t, 0, h.client.callCount("move_shelf"))
}

func TestExecute_UnknownSkipTargetsIgnored(t *testing.T) {
	h := newHarness(t)
	h.client.results["move_shelf"] = &robotrpc.Result{OK: false, ErrorCode: 11005}

	steps := []*task.Step{
		mkStep("s1", task.ActionMoveShelf, map[string]any{"shelf_id": "S_04", "location_id": "B_101-1"}, "ghost", "s2"),
		mkStep("s2", task.ActionSpeak, map[string]any{"speak_text": "hello"}),
	}
	tk := task.New("t8", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	assert.Equal(t, task.StepSkipped, steps[1].Status)
}

func TestExecute_UnknownActionIsCritical(t *testing.T) {
	h := newHarness(t)

	steps := []*task.Step{
		mkStep("s1", task.Action("teleport"), nil),
	}
	tk := task.New("t9", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusFailed, tk.GetStatus())
	assert.Equal(t, task.StepFail, steps[0].Status)
	assert.Equal(t, -1, steps[0].Result.ErrorCode)
}

func TestExecute_BioScanTimeoutIsNonCritical(t *testing.T) {
	h := newHarness(t)
	// No payload configured: the sensor times out with nil.

	steps := []*task.Step{
		mkStep("s1", task.ActionBioScan, map[string]any{"bed_key": "101-1"}),
		mkStep("s2", task.ActionReturnHome, nil),
	}
	tk := task.New("t10", "r1", steps)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusDone, tk.GetStatus())
	assert.Equal(t, task.StepFail, steps[0].Status)
	assert.Equal(t, task.StepSuccess, steps[1].Status)
}

func TestExecute_CancelledBeforeStartDoesNotRun(t *testing.T) {
	h := newHarness(t)

	tk := task.New("t11", "r1", patrolSteps())
	tk.SetStatus(task.StatusCancelled)
	h.engine.Execute(context.Background(), tk)

	assert.Equal(t, task.StatusCancelled, tk.GetStatus())
	assert.Equal(t, 0, h.client.callCount("move_shelf"))
	for _, s := range tk.Steps {
		assert.Equal(t, task.StepPending, s.Status)
	}
}
