// Package dispatcher routes submitted tasks onto per-robot queues and runs
// one worker per registered robot. It is also the task submission surface:
// Submit, Cancel, Get.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"biopatrol/internal/task"
	"biopatrol/pkg/audit"
	"biopatrol/pkg/logger"
)

const serviceName = "task-dispatcher"

// Executor is what the dispatcher knows about the engine: execute a task
// to a terminal state, and best-effort interrupt the robot's current
// command on external cancellation.
type Executor interface {
	Execute(ctx context.Context, t *task.Task)
	CancelActive(ctx context.Context)
}

// defaultHistoryLimit bounds how many terminal tasks stay queryable
// before the oldest are evicted.
const defaultHistoryLimit = 256

// Dispatcher owns the global submission queue, the per-robot ready queues,
// the availability signaling channel, and the task registry.
type Dispatcher struct {
	executors   map[string]Executor
	globalQueue chan *task.Task
	robotQueues map[string]chan *task.Task
	available   chan string

	mu           sync.RWMutex
	currentTasks map[string]*task.Task
	tasks        map[string]*task.Task
	history      []string
	signaled     map[string]bool

	historyLimit int

	startOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueDepth sets the buffer size of the global and per-robot queues.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) {
		d.globalQueue = make(chan *task.Task, n)
		for id := range d.robotQueues {
			d.robotQueues[id] = make(chan *task.Task, n)
		}
	}
}

// WithHistoryLimit sets how many terminal tasks remain queryable.
func WithHistoryLimit(n int) Option {
	return func(d *Dispatcher) { d.historyLimit = n }
}

// New builds a Dispatcher over one Executor per registered robot. The
// availability channel is seeded with every robot id.
func New(executors map[string]Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executors:    executors,
		globalQueue:  make(chan *task.Task, 64),
		robotQueues:  make(map[string]chan *task.Task, len(executors)),
		available:    make(chan string, len(executors)),
		currentTasks: make(map[string]*task.Task),
		tasks:        make(map[string]*task.Task),
		signaled:     make(map[string]bool),
		historyLimit: defaultHistoryLimit,
	}
	for robotID := range executors {
		d.robotQueues[robotID] = make(chan *task.Task, 64)
		d.signalAvailable(robotID)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the routing loop and one worker per robot. It returns
// immediately; ctx cancellation drains everything down.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.routeLoop(ctx)
		for robotID := range d.robotQueues {
			d.wg.Add(1)
			go d.workerLoop(ctx, robotID)
		}
		logger.Log.Info("dispatcher started", "robots", len(d.robotQueues))
	})
}

// Wait blocks until the routing loop and all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Submit enqueues a task and returns its id. Blocks only to enqueue.
func (d *Dispatcher) Submit(t *task.Task) string {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	d.register(t)

	d.globalQueue <- t
	logger.Log.Info("task submitted",
		"task_id", t.TaskID, "robot_id", t.RobotID, "steps", len(t.Steps))
	return t.TaskID
}

// Cancel marks a task CANCELLED. Safe to call any number of times; only
// the first call on a live task has an effect. If the task is
// currently executing, the robot's in-flight command is best-effort
// cancelled and the engine exits at its next loop boundary.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string) bool {
	t := d.lookup(taskID)
	if t == nil {
		return false
	}

	if t.CompareAndSetStatus(task.StatusQueued, task.StatusCancelled) {
		d.auditCancel(ctx, t)
		logger.Log.Info("queued task cancelled", "task_id", taskID)
		return true
	}

	if t.CompareAndSetStatus(task.StatusInProgress, task.StatusCancelled) {
		d.auditCancel(ctx, t)
		logger.Log.Info("in-progress task cancelled", "task_id", taskID)
		if robotID := d.robotExecuting(t); robotID != "" {
			if ex := d.executors[robotID]; ex != nil {
				ex.CancelActive(ctx)
			}
		}
		return true
	}

	// Already CANCELLED: idempotent success. Any other terminal state:
	// too late to cancel.
	return t.GetStatus() == task.StatusCancelled
}

// Get returns a read-consistent snapshot of a task, or nil if unknown or
// already evicted.
func (d *Dispatcher) Get(taskID string) *task.Task {
	t := d.lookup(taskID)
	if t == nil {
		return nil
	}
	return t.Snapshot()
}

// routeLoop routes tasks: pinned tasks go straight to their robot's
// queue; unpinned tasks wait for an availability signal.
func (d *Dispatcher) routeLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		var t *task.Task
		select {
		case <-ctx.Done():
			return
		case t = <-d.globalQueue:
		}

		if t.RobotID != "" {
			queue, ok := d.robotQueues[t.RobotID]
			if !ok {
				t.SetStatus(task.StatusFailed)
				t.SetMetadata("error", "unknown robot: "+t.RobotID)
				logger.Log.Error("task targets unknown robot",
					"task_id", t.TaskID, "robot_id", t.RobotID)
				d.retire(t)
				continue
			}
			d.enqueue(ctx, queue, t, t.RobotID)
			continue
		}

		if !d.routeToAvailable(ctx, t) {
			return
		}
	}
}

// routeToAvailable blocks for a free robot. A signal for a robot that is
// presently busy (a pinned task slipped onto its queue after it last
// signaled) is requeued at the tail and the wait re-entered, with a short
// pause so a lone busy signal does not spin the loop.
func (d *Dispatcher) routeToAvailable(ctx context.Context, t *task.Task) bool {
	for {
		var robotID string
		select {
		case <-ctx.Done():
			return false
		case robotID = <-d.available:
		}
		d.consumeSignal(robotID)

		if d.isBusy(robotID) {
			d.signalAvailable(robotID)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		d.enqueue(ctx, d.robotQueues[robotID], t, robotID)
		return true
	}
}

// signalAvailable announces a robot's availability, holding at most one
// pending signal per robot so the channel (sized to the fleet) can never
// block a worker.
func (d *Dispatcher) signalAvailable(robotID string) {
	d.mu.Lock()
	if d.signaled[robotID] {
		d.mu.Unlock()
		return
	}
	d.signaled[robotID] = true
	d.mu.Unlock()
	d.available <- robotID
}

func (d *Dispatcher) consumeSignal(robotID string) {
	d.mu.Lock()
	delete(d.signaled, robotID)
	d.mu.Unlock()
}

func (d *Dispatcher) enqueue(ctx context.Context, queue chan *task.Task, t *task.Task, robotID string) {
	select {
	case <-ctx.Done():
	case queue <- t:
		d.auditDispatch(ctx, t, robotID)
		logger.Log.Debug("task routed", "task_id", t.TaskID, "robot_id", robotID)
	}
}

// workerLoop pulls tasks from one robot's queue and executes them one at
// a time, enforcing at most one IN_PROGRESS task per robot.
func (d *Dispatcher) workerLoop(ctx context.Context, robotID string) {
	defer d.wg.Done()
	executor := d.executors[robotID]

	for {
		var t *task.Task
		select {
		case <-ctx.Done():
			return
		case t = <-d.robotQueues[robotID]:
		}

		if t.GetStatus() == task.StatusCancelled {
			logger.Log.Info("skipping cancelled task",
				"task_id", t.TaskID, "robot_id", robotID)
			d.retire(t)
			d.signalAvailable(robotID)
			continue
		}

		d.setCurrent(robotID, t)
		executor.Execute(ctx, t)
		d.clearCurrent(robotID)
		d.retire(t)

		d.signalAvailable(robotID)
	}
}

func (d *Dispatcher) register(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[t.TaskID] = t
}

// retire records a terminal task for later Get queries, evicting the
// oldest terminal tasks beyond the history limit.
func (d *Dispatcher) retire(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, t.TaskID)
	for len(d.history) > d.historyLimit {
		evicted := d.history[0]
		d.history = d.history[1:]
		delete(d.tasks, evicted)
	}
}

func (d *Dispatcher) lookup(taskID string) *task.Task {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tasks[taskID]
}

func (d *Dispatcher) isBusy(robotID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentTasks[robotID] != nil
}

func (d *Dispatcher) setCurrent(robotID string, t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentTasks[robotID] = t
}

func (d *Dispatcher) clearCurrent(robotID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.currentTasks, robotID)
}

// robotExecuting returns the robot currently running t, or "".
func (d *Dispatcher) robotExecuting(t *task.Task) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for robotID, cur := range d.currentTasks {
		if cur == t {
			return robotID
		}
	}
	return ""
}

func (d *Dispatcher) auditDispatch(ctx context.Context, t *task.Task, robotID string) {
	entry := audit.NewEntry().
		Service(serviceName).
		Method("dispatcher.route").
		Action(audit.ActionDispatch).
		Outcome(audit.OutcomeSuccess).
		Resource("task", t.TaskID).
		Meta("robot_id", robotID).
		Build()
	if err := audit.Log(ctx, entry); err != nil {
		logger.Log.Debug("audit write failed", "task_id", t.TaskID, "error", err)
	}
}

func (d *Dispatcher) auditCancel(ctx context.Context, t *task.Task) {
	entry := audit.NewEntry().
		Service(serviceName).
		Method("dispatcher.Cancel").
		Action(audit.ActionCancel).
		Outcome(audit.OutcomeSuccess).
		Resource("task", t.TaskID).
		Build()
	if err := audit.Log(ctx, entry); err != nil {
		logger.Log.Debug("audit write failed", "task_id", t.TaskID, "error", err)
	}
}
