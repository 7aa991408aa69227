package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"biopatrol/internal/fleet"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
)

// shelfMonitor polls get_moving_shelf while the robot carries a shelf and
// raises the dropped flag when the robot stops reporting carriage.
// A drop is detected ONLY here, never inferred from RPC
// error codes — codes 10001/14606/11005 can accompany an ordinary move
// failure with the shelf still on board.
type shelfMonitor struct {
	robotID string
	shelfID string
	gateway *fleet.Gateway
	period  time.Duration

	dropped   *atomic.Bool
	pollCount atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newShelfMonitor(robotID, shelfID string, gw *fleet.Gateway, period time.Duration, dropped *atomic.Bool) *shelfMonitor {
	if period <= 0 {
		period = 3 * time.Second
	}
	return &shelfMonitor{
		robotID: robotID,
		shelfID: shelfID,
		gateway: gw,
		period:  period,
		dropped: dropped,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// start launches the poll loop. ctx bounds the individual queries, not the
// loop lifetime — that is what stop is for.
func (m *shelfMonitor) start(ctx context.Context) {
	go m.run(ctx)
}

func (m *shelfMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	logger.Log.Info("shelf monitor started",
		"robot_id", m.robotID, "shelf_id", m.shelfID, "period", m.period)

	for {
		select {
		case <-m.stopCh:
			logger.Log.Debug("shelf monitor stopped", "robot_id", m.robotID, "shelf_id", m.shelfID)
			return
		case <-ticker.C:
		}

		m.pollCount.Add(1)
		if mt := metrics.Get(); mt != nil {
			mt.RecordShelfPoll(m.robotID)
		}

		res, err := m.gateway.GetMovingShelf(ctx)
		if err != nil {
			// Transient query failure is not evidence of a drop.
			logger.Log.Debug("shelf monitor poll failed", "robot_id", m.robotID, "error", err)
			continue
		}
		if !res.OK {
			logger.Log.Debug("shelf monitor poll returned domain error",
				"robot_id", m.robotID, "error_code", res.ErrorCode)
			continue
		}

		if shelfID, _ := res.Data["shelf_id"].(string); shelfID != "" {
			continue
		}

		// Clean response, no shelf id: the carriage is gone.
		select {
		case <-m.stopCh:
			// Stop raced the poll; the engine is already past the
			// carrying interval and this signal must be ignored.
			return
		default:
		}

		logger.Log.Error("shelf drop detected",
			"robot_id", m.robotID, "shelf_id", m.shelfID)
		if mt := metrics.Get(); mt != nil {
			mt.RecordShelfDrop(m.robotID)
		}
		m.dropped.Store(true)

		if _, err := m.gateway.CancelCommand(ctx); err != nil {
			logger.Log.Debug("cancel after shelf drop failed", "robot_id", m.robotID, "error", err)
		}
		return
	}
}

// stop halts the loop and waits for it to exit. Idempotent; safe to call
// from the return_shelf handler, the drop handler, and the engine's
// deferred cleanup in any order.
func (m *shelfMonitor) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// polls reports how many get_moving_shelf queries this monitor issued.
func (m *shelfMonitor) polls() int64 {
	return m.pollCount.Load()
}
