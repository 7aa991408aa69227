package engine

import (
	"context"
	"time"

	"biopatrol/internal/retry"
	"biopatrol/internal/robotrpc"
	"biopatrol/internal/task"
	"biopatrol/pkg/logger"
)

// dispatch routes one step to its action handler. params is
// the typed value task.ParseParams produced for step.Action.
func (r *run) dispatch(step *task.Step, params any) *task.StepResult {
	switch step.Action {
	case task.ActionSpeak:
		p := params.(task.SpeakParams)
		res, err := r.fleetCall(func() (*robotrpc.Result, error) {
			return r.e.gateway.Speak(r.ctx, p.Text)
		})
		return r.fromFleet(res, err, map[string]any{"speak_text": p.Text})

	case task.ActionMoveToPose:
		p := params.(task.MoveToPoseParams)
		res, err := r.fleetCall(func() (*robotrpc.Result, error) {
			return r.e.gateway.MoveToPose(r.ctx, p.X, p.Y, p.Yaw)
		})
		return r.fromFleet(res, err, nil)

	case task.ActionMoveToLocation:
		p := params.(task.MoveToLocationParams)
		res, err := r.retried("move_to_location", r.e.cfg.MoveLocationMaxRetries,
			func(ctx context.Context) (*robotrpc.Result, error) {
				return r.e.gateway.MoveToLocation(ctx, p.LocationID, r.e.cfg.MoveTimeout)
			})
		return r.fromFleet(res, err, nil)

	case task.ActionDockShelf:
		res, err := r.retried("dock_shelf", r.e.cfg.MoveLocationMaxRetries,
			func(ctx context.Context) (*robotrpc.Result, error) {
				return r.e.gateway.DockShelf(ctx, r.e.cfg.MoveTimeout)
			})
		return r.fromFleet(res, err, nil)

	case task.ActionUndockShelf:
		res, err := r.retried("undock_shelf", r.e.cfg.MoveLocationMaxRetries,
			func(ctx context.Context) (*robotrpc.Result, error) {
				return r.e.gateway.UndockShelf(ctx, r.e.cfg.MoveTimeout)
			})
		return r.fromFleet(res, err, nil)

	case task.ActionMoveShelf:
		return r.dispatchMoveShelf(params.(task.MoveShelfParams))

	case task.ActionReturnShelf:
		return r.dispatchReturnShelf(params.(task.ShelfParams))

	case task.ActionReturnHome:
		res, err := r.fleetCall(func() (*robotrpc.Result, error) {
			return r.e.gateway.ReturnHome(r.ctx, r.e.cfg.ReturnTimeout)
		})
		return r.fromFleet(res, err, nil)

	case task.ActionBioScan:
		return r.dispatchBioScan(params.(task.BioScanParams))

	case task.ActionWait:
		return r.dispatchWait(params.(task.WaitParams))

	default:
		return failResult(-1, "unknown action: "+string(step.Action), nil)
	}
}

// dispatchMoveShelf carries the shelf to a bed. On the first success the
// run records the carried shelf and starts the shelf monitor.
func (r *run) dispatchMoveShelf(p task.MoveShelfParams) *task.StepResult {
	r.targetBed = p.LocationID

	res, err := r.retried("move_shelf", r.e.cfg.MoveShelfMaxRetries,
		func(ctx context.Context) (*robotrpc.Result, error) {
			return r.e.gateway.MoveShelf(ctx, p.ShelfID, p.LocationID, r.e.cfg.MoveTimeout)
		})
	result := r.fromFleet(res, err, map[string]any{"shelf_id": p.ShelfID, "location_id": p.LocationID})

	if result.Success && r.monitor == nil {
		r.currentShelfID = p.ShelfID
		r.shelfDropped.Store(false)
		r.monitor = newShelfMonitor(r.e.robotID, p.ShelfID, r.e.gateway, r.e.cfg.ShelfMonitorPeriod, &r.shelfDropped)
		r.monitor.start(r.ctx)
	}
	return result
}

// dispatchReturnShelf stops the monitor before the return is issued, so
// the carriage disappearing during the return cannot read as a drop.
func (r *run) dispatchReturnShelf(p task.ShelfParams) *task.StepResult {
	r.stopMonitor(true)

	res, err := r.retried("return_shelf", r.e.cfg.MoveShelfMaxRetries,
		func(ctx context.Context) (*robotrpc.Result, error) {
			return r.e.gateway.ReturnShelf(ctx, p.ShelfID, r.e.cfg.ReturnTimeout)
		})
	result := r.fromFleet(res, err, map[string]any{"shelf_id": p.ShelfID})

	if result.Success {
		r.currentShelfID = ""
	}
	return result
}

// dispatchBioScan asks the bio-sensor client for a valid reading at the
// bed the shelf was last moved to. The client owns its own retry/wait
// policy and persists every attempt; the engine only observes the final
// outcome.
func (r *run) dispatchBioScan(p task.BioScanParams) *task.StepResult {
	target := r.targetBed
	if target == "" {
		target = p.BedKey
	}

	if r.e.sensor == nil {
		return failResult(-1, "no bio-sensor client configured", nil)
	}

	payload, err := r.e.sensor.GetValidScanData(r.ctx, target, r.t.TaskID, p.BedKey)
	if err != nil {
		return failResult(-1, err.Error(), map[string]any{"bed_key": p.BedKey})
	}
	if payload == nil {
		return failResult(-1, "no valid reading obtained", map[string]any{"bed_key": p.BedKey})
	}
	return okResult(map[string]any{
		"bed_key": p.BedKey,
		"bpm":     payload.BPM,
		"rpm":     payload.RPM,
		"details": payload.Details,
	})
}

// dispatchWait sleeps cooperatively. Always succeeds, even when cut short
// by cancellation — the loop boundary handles the cancel.
func (r *run) dispatchWait(p task.WaitParams) *task.StepResult {
	d := time.Duration(p.Seconds * float64(time.Second))
	waited := d
	if d > 0 {
		start := time.Now()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.ctx.Done():
			waited = time.Since(start)
		}
	}
	return okResult(map[string]any{"seconds": waited.Seconds()})
}

// retried wraps op in the Retry Policy with this run's backoff shape and
// invokes it once, sampling the round trip.
func (r *run) retried(name string, maxRetries int, op retry.Operation) (*robotrpc.Result, error) {
	wrapped := retry.Wrap(name, retry.Config{
		MaxRetries: maxRetries,
		BaseDelay:  r.e.cfg.RetryBaseDelay,
		MaxDelay:   r.e.cfg.RetryMaxDelay,
	}, op)
	return r.fleetCall(func() (*robotrpc.Result, error) {
		return wrapped(r.ctx)
	})
}

// fleetCall samples the wall-clock round trip of one Fleet operation for
// the run metrics copied into task.metadata.
func (r *run) fleetCall(call func() (*robotrpc.Result, error)) (*robotrpc.Result, error) {
	start := time.Now()
	res, err := call()
	r.rttSamples = append(r.rttSamples, time.Since(start))
	return res, err
}

// fromFleet converts a Fleet outcome into a StepResult. A transport error
// (retries exhausted or non-transient) becomes the internal sentinel -1;
// domain codes pass through from the robot unchanged.
func (r *run) fromFleet(res *robotrpc.Result, err error, extra map[string]any) *task.StepResult {
	if err != nil {
		logger.Log.Warn("fleet operation failed at transport level",
			"task_id", r.t.TaskID, "robot_id", r.e.robotID, "error", err)
		return failResult(-1, err.Error(), extra)
	}

	data := extra
	if len(res.Data) > 0 {
		if data == nil {
			data = make(map[string]any, len(res.Data))
		}
		for k, v := range res.Data {
			data[k] = v
		}
	}

	if !res.OK {
		return failResult(res.ErrorCode, res.ErrorText, data)
	}
	return okResult(data)
}
