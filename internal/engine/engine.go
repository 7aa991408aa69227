// Package engine implements the task runtime's central state machine: it
// iterates a task's steps, dispatches each action against the Fleet
// Gateway, classifies failures, supervises the shelf monitor, and drives
// every terminal transition.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/fleet"
	"biopatrol/internal/notifier"
	"biopatrol/internal/scanrecorder"
	"biopatrol/internal/task"
	"biopatrol/pkg/audit"
	"biopatrol/pkg/config"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
	"biopatrol/pkg/telemetry"
)

const serviceName = "task-engine"

// Engine executes tasks for one robot. It is reusable across tasks; all
// per-execution state lives in a run value.
type Engine struct {
	robotID  string
	gateway  *fleet.Gateway
	sensor   biosensor.Client
	recorder scanrecorder.Recorder
	notify   notifier.Notifier
	cfg      config.EngineConfig
}

// New builds an Engine bound to one robot's gateway.
func New(robotID string, gw *fleet.Gateway, sensor biosensor.Client, recorder scanrecorder.Recorder, notify notifier.Notifier, cfg config.EngineConfig) *Engine {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Engine{
		robotID:  robotID,
		gateway:  gw,
		sensor:   sensor,
		recorder: recorder,
		notify:   notify,
		cfg:      cfg,
	}
}

// RobotID returns the robot this engine executes for.
func (e *Engine) RobotID() string { return e.robotID }

// CancelActive best-effort cancels whatever command the robot is
// currently executing. Called by the dispatcher when an IN_PROGRESS task
// is cancelled externally; the engine itself reacts at the next loop
// boundary.
func (e *Engine) CancelActive(ctx context.Context) {
	if _, err := e.gateway.CancelCommand(ctx); err != nil {
		logger.Log.Debug("cancel_command on external cancel failed",
			"robot_id", e.robotID, "error", err)
	}
}

// run carries the state of a single task execution.
type run struct {
	e   *Engine
	t   *task.Task
	ctx context.Context

	skipped     map[string]struct{}
	skipReasons map[string]string

	currentShelfID string
	monitor        *shelfMonitor
	shelfDropped   atomic.Bool
	targetBed      string

	lastExecuted *task.Step

	pollCount  int64
	rttSamples []time.Duration
}

// Execute runs t to a terminal state. It never returns an error: every
// failure mode is folded into the task's own status and metadata.
func (e *Engine) Execute(ctx context.Context, t *task.Task) {
	ctx, span := telemetry.StartSpan(ctx, "engine.Execute",
		telemetry.WithAttributes(telemetry.TaskAttributes(t.TaskID, e.robotID, string(t.GetStatus()), len(t.Steps))...))
	defer func() {
		span.SetAttributes(attribute.String(telemetry.AttrTaskStatus, string(t.GetStatus())))
		span.End()
	}()

	r := &run{
		e:           e,
		t:           t,
		ctx:         ctx,
		skipped:     make(map[string]struct{}),
		skipReasons: make(map[string]string),
	}

	start := time.Now()

	// Pre-loop: refresh name caches; failure is WARN only, handled inside.
	e.gateway.RefreshNames(ctx)

	began := t.CompareAndSetStatus(task.StatusQueued, task.StatusInProgress)
	if began {
		t.SetStartedAt(start)
		if m := metrics.Get(); m != nil {
			m.TasksInProgress.WithLabelValues(e.robotID).Inc()
		}
		logger.Log.Info("task started",
			"task_id", t.TaskID, "robot_id", e.robotID, "steps", len(t.Steps))
	}

	defer r.finish(start, began)

	if !began {
		// Cancelled (or otherwise terminal) before the engine got it.
		return
	}

	r.loop()
}

func (r *run) loop() {
	t := r.t

steps:
	for _, step := range t.Steps {
		if t.GetStatus() == task.StatusCancelled {
			logger.Log.Info("task cancelled, stopping at loop boundary",
				"task_id", t.TaskID, "robot_id", r.e.robotID, "step_id", step.StepID)
			break
		}

		if r.shelfDropped.Load() {
			r.handleShelfDrop()
			break
		}

		if _, skip := r.skipped[step.StepID]; skip {
			r.skipStep(step)
			continue
		}

		t.SetStepState(step, task.StepExecuting, nil)
		stepStart := time.Now()
		result := r.executeStep(step)

		if result.Success {
			t.SetStepState(step, task.StepSuccess, result)
			logger.Log.Info("step succeeded",
				"task_id", t.TaskID, "step_id", step.StepID, "action", step.Action)
		} else {
			t.SetStepState(step, task.StepFail, result)
		}
		if m := metrics.Get(); m != nil {
			m.RecordStep(string(step.Action), string(step.Status), time.Since(stepStart))
		}
		r.lastExecuted = step

		if result.Success {
			continue
		}

		switch classifyFailure(step) {
		case verdictSkipAndContinue:
			r.applySkips(step)
		case verdictContinue:
			logger.Log.Warn("non-critical step failed, continuing",
				"task_id", t.TaskID, "step_id", step.StepID, "action", step.Action,
				"error_code", result.ErrorCode, "error", result.ErrorMessage)
		case verdictAbort:
			logger.Log.Error("critical step failed, aborting task",
				"task_id", t.TaskID, "step_id", step.StepID, "action", step.Action,
				"error_code", result.ErrorCode, "error", result.ErrorMessage)
			t.SetStatus(task.StatusFailed)
			break steps
		}
	}

	if t.GetStatus() == task.StatusInProgress {
		// A drop during the final step has no next iteration to observe
		// it; check once more before declaring success.
		if r.shelfDropped.Load() {
			r.handleShelfDrop()
		} else {
			t.SetStatus(task.StatusDone)
		}
	}
}

// executeStep dispatches one step's action, converting panics into a
// failing StepResult so the classifier sees exactly one shape.
func (r *run) executeStep(step *task.Step) (result *task.StepResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Log.Error("step dispatch panicked",
				"task_id", r.t.TaskID, "step_id", step.StepID, "panic", p)
			result = failResult(-1, fmt.Sprintf("internal error: %v", p), nil)
		}
	}()

	params, err := task.ParseParams(step)
	if err != nil {
		return failResult(-1, err.Error(), nil)
	}
	return r.dispatch(step, params)
}

// applySkips marks the failed step's skip_on_failure targets
// for skipping. Unknown step ids and steps already past PENDING are
// ignored.
func (r *run) applySkips(step *task.Step) {
	reason := skipReasonFor(step)
	for _, id := range step.SkipOnFailure {
		target := r.t.FindStep(id)
		if target == nil || target.Status != task.StepPending {
			continue
		}
		r.skipped[id] = struct{}{}
		r.skipReasons[id] = reason
		logger.Log.Info("step marked for conditional skip",
			"task_id", r.t.TaskID, "failed_step", step.StepID, "skipped_step", id, "reason", reason)
	}
}

// skipStep marks a previously-flagged step SKIPPED. Skipped bio_scans
// still leave an N/A row in scan history so the patrol record shows which
// beds were missed and why.
func (r *run) skipStep(step *task.Step) {
	reason := r.skipReasons[step.StepID]
	if reason == "" {
		reason = "robot could not move to bedside"
	}

	if step.Action == task.ActionBioScan {
		bedKey, _ := step.Params["bed_key"].(string)
		r.recordNARow(bedKey, reason)
	}

	r.t.SetStepState(step, task.StepSkipped, &task.StepResult{
		Success:   false,
		ErrorCode: 0,
		Data:      map[string]any{"conditional_skip": true, "reason": reason},
		Timestamp: time.Now(),
	})
	logger.Log.Info("step skipped",
		"task_id", r.t.TaskID, "step_id", step.StepID, "action", step.Action, "reason", reason)
}

// handleShelfDrop runs once when the monitor's flag is observed:
// record what was lost, mark every unvisited bed, and send the robot home.
func (r *run) handleShelfDrop() {
	t := r.t
	r.stopMonitor(false)

	shelfPose := r.lookupShelfPose()

	var remainingBeds []string
	for _, s := range t.Steps {
		if s.Action != task.ActionBioScan {
			continue
		}
		// The bed being scanned when the drop fired counts as missed too.
		if s.Status == task.StepPending || s == r.lastExecuted {
			if bedKey, _ := s.Params["bed_key"].(string); bedKey != "" {
				remainingBeds = append(remainingBeds, bedKey)
			}
		}
	}
	if remainingBeds == nil {
		remainingBeds = []string{}
	}

	for _, bed := range remainingBeds {
		r.recordNARow(bed, "shelf dropped, patrol interrupted")
	}

	t.MergeMetadata(map[string]any{
		"shelf_drop":     true,
		"shelf_id":       r.currentShelfID,
		"shelf_pose":     shelfPose,
		"remaining_beds": remainingBeds,
		"dropped_at":     time.Now().Format(time.RFC3339),
	})
	t.SetStatus(task.StatusShelfDropped)

	logger.Log.Error("task terminated by shelf drop",
		"task_id", t.TaskID, "robot_id", r.e.robotID,
		"shelf_id", r.currentShelfID, "remaining_beds", remainingBeds)

	// The shelf is on the floor; nothing left to return. Just go home.
	r.currentShelfID = ""
	if _, err := r.e.gateway.ReturnHome(r.ctx, r.e.cfg.ReturnTimeout); err != nil {
		logger.Log.Warn("return_home after shelf drop failed",
			"task_id", t.TaskID, "robot_id", r.e.robotID, "error", err)
	}
}

// lookupShelfPose resolves the dropped shelf's last reported pose via
// list_shelves. Best-effort: returns nil when the lookup fails or the
// shelf is unknown.
func (r *run) lookupShelfPose() map[string]any {
	res, err := r.e.gateway.ListShelves(r.ctx)
	if err != nil || !res.OK {
		logger.Log.Warn("shelf pose lookup failed",
			"task_id", r.t.TaskID, "shelf_id", r.currentShelfID, "error", err)
		return nil
	}
	shelves, _ := res.Data["shelves"].([]any)
	for _, item := range shelves {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := entry["id"].(string); id != r.currentShelfID {
			continue
		}
		if pose, ok := entry["pose"].(map[string]any); ok {
			return map[string]any{
				"x":     pose["x"],
				"y":     pose["y"],
				"theta": pose["theta"],
			}
		}
	}
	return nil
}

// recordNARow appends a skipped/missed scan row to scan history. Write
// failures are logged and dropped; an unreachable database must not stall
// the patrol.
func (r *run) recordNARow(bedName, reason string) {
	if r.e.recorder == nil {
		return
	}
	row := scanrecorder.Row{
		BedName:   bedName,
		Status:    "N/A",
		IsValid:   false,
		Details:   reason,
		ScannedAt: time.Now(),
	}
	if err := r.e.recorder.Record(r.ctx, row); err != nil {
		logger.Log.Warn("scan history N/A write failed",
			"task_id", r.t.TaskID, "bed", bedName, "error", err)
	}
}

// stopMonitor halts the shelf monitor if one is running, folding its poll
// count into the run totals. clearDrop discards a drop signal raced in
// during the stop — used by the return_shelf handler, where the robot is
// expected to stop carrying.
func (r *run) stopMonitor(clearDrop bool) {
	if r.monitor == nil {
		return
	}
	r.monitor.stop()
	r.pollCount += r.monitor.polls()
	r.monitor = nil
	if clearDrop {
		r.shelfDropped.Store(false)
	}
}

// finish is the engine's always-run exit path: stop the
// monitor, clean up a held shelf after cancellation, record metrics, and
// notify.
func (r *run) finish(start time.Time, began bool) {
	t := r.t

	r.stopMonitor(false)

	st := t.GetStatus()
	if st == task.StatusCancelled && r.currentShelfID != "" {
		// The classifier may already have recorded a failed return_shelf
		// for this shelf; retrying it here on cancel is accepted behavior.
		logger.Log.Info("returning held shelf after cancellation",
			"task_id", t.TaskID, "robot_id", r.e.robotID, "shelf_id", r.currentShelfID)
		if _, err := r.e.gateway.ReturnShelf(r.ctx, r.currentShelfID, r.e.cfg.ReturnTimeout); err != nil {
			logger.Log.Warn("return_shelf on cancel cleanup failed",
				"task_id", t.TaskID, "error", err)
		}
		if _, err := r.e.gateway.ReturnHome(r.ctx, r.e.cfg.ReturnTimeout); err != nil {
			logger.Log.Warn("return_home on cancel cleanup failed",
				"task_id", t.TaskID, "error", err)
		}
	}

	if began {
		t.SetMetadata("metrics", r.runMetrics())
		t.SetFinishedAt(time.Now())
		if m := metrics.Get(); m != nil {
			m.TasksInProgress.WithLabelValues(r.e.robotID).Dec()
			m.RecordTask(r.e.robotID, string(t.GetStatus()), time.Since(start))
		}
	}

	r.notifySummary()
	r.auditExecution()

	logger.Log.Info("task finished",
		"task_id", t.TaskID, "robot_id", r.e.robotID,
		"status", t.GetStatus(), "duration", time.Since(start))
}

// runMetrics collects the per-run counters copied into task.metadata so a
// caller of get(task_id) can see them without a metrics backend.
func (r *run) runMetrics() map[string]any {
	m := map[string]any{
		"poll_count": r.pollCount,
	}
	if len(r.rttSamples) > 0 {
		sorted := make([]time.Duration, len(r.rttSamples))
		copy(sorted, r.rttSamples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		m["rtt_ms_p50"] = sorted[len(sorted)/2].Milliseconds()
		m["rtt_ms_p95"] = sorted[(len(sorted)*95)/100].Milliseconds()
		m["fleet_calls"] = len(sorted)
	}
	return m
}

// notifySummary sends the "completed X of Y beds" terminal summary.
func (r *run) notifySummary() {
	t := r.t
	var total, done int
	for _, s := range t.Steps {
		if s.Action != task.ActionBioScan {
			continue
		}
		total++
		if s.Status == task.StepSuccess {
			done++
		}
	}

	var text string
	if total > 0 {
		text = fmt.Sprintf("[%s] task %s %s: completed %d of %d beds",
			r.e.robotID, t.TaskID, t.GetStatus(), done, total)
	} else {
		text = fmt.Sprintf("[%s] task %s %s", r.e.robotID, t.TaskID, t.GetStatus())
	}
	r.e.notify.Notify(r.ctx, text)
}

func (r *run) auditExecution() {
	t := r.t
	outcome := audit.OutcomeSuccess
	if st := t.GetStatus(); st != task.StatusDone {
		outcome = audit.OutcomeFailure
	}
	entry := audit.NewEntry().
		Service(serviceName).
		Method("engine.Execute").
		Action(audit.ActionExecute).
		Outcome(outcome).
		Resource("task", t.TaskID).
		Meta("robot_id", r.e.robotID).
		Meta("status", string(t.GetStatus())).
		Build()
	if err := audit.Log(r.ctx, entry); err != nil {
		logger.Log.Debug("audit write failed", "task_id", t.TaskID, "error", err)
	}
}

func failResult(code int, msg string, data map[string]any) *task.StepResult {
	return &task.StepResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: msg,
		Data:         data,
		Timestamp:    time.Now(),
	}
}

func okResult(data map[string]any) *task.StepResult {
	return &task.StepResult{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
}
