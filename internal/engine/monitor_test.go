package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/fleet"
	"biopatrol/internal/robotrpc"
)

// errOnceClient fails get_moving_shelf a configured number of times before
// delegating to fakeClient.
type errOnceClient struct {
	*fakeClient
	failing atomic.Int32
}

func (e *errOnceClient) GetMovingShelf(ctx context.Context) (*robotrpc.Result, error) {
	if e.failing.Load() > 0 {
		e.failing.Add(-1)
		return nil, errors.New("transient poll failure")
	}
	return e.fakeClient.GetMovingShelf(ctx)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, msg)
}

func TestShelfMonitor_DetectsDropAndCancels(t *testing.T) {
	client := newFakeClient()
	client.setMoving("S_04")
	gw := fleet.New("r1", client, fleet.NewResolver("r1", nil, 0))

	var dropped atomic.Bool
	m := newShelfMonitor("r1", "S_04", gw, 5*time.Millisecond, &dropped)
	m.start(context.Background())

	waitFor(t, func() bool { return client.callCount("get_moving_shelf") >= 2 },
		time.Second, "monitor never polled")
	assert.False(t, dropped.Load())

	client.setMoving("")
	waitFor(t, func() bool { return dropped.Load() }, time.Second, "drop never detected")

	// The monitor exits on its own after a drop; stop must still be safe.
	m.stop()
	assert.GreaterOrEqual(t, client.callCount("cancel_command"), 1)
	assert.GreaterOrEqual(t, m.polls(), int64(1))
}

func TestShelfMonitor_TransientErrorsAreNotDrops(t *testing.T) {
	client := &errOnceClient{fakeClient: newFakeClient()}
	client.failing.Store(5)
	client.setMoving("S_04")
	gw := fleet.New("r1", client, fleet.NewResolver("r1", nil, 0))

	var dropped atomic.Bool
	m := newShelfMonitor("r1", "S_04", gw, 3*time.Millisecond, &dropped)
	m.start(context.Background())

	waitFor(t, func() bool { return client.failing.Load() == 0 }, time.Second, "error ticks never drained")
	time.Sleep(15 * time.Millisecond)
	m.stop()

	assert.False(t, dropped.Load(), "errored polls must not be read as a drop")
	assert.Equal(t, 0, client.callCount("cancel_command"))
}

func TestShelfMonitor_DomainErrorResponseIsNotADrop(t *testing.T) {
	client := newFakeClient()
	client.results["get_moving_shelf"] = &robotrpc.Result{OK: false, ErrorCode: 500}
	gw := fleet.New("r1", client, fleet.NewResolver("r1", nil, 0))

	var dropped atomic.Bool
	m := newShelfMonitor("r1", "S_04", gw, 3*time.Millisecond, &dropped)
	m.start(context.Background())

	time.Sleep(20 * time.Millisecond)
	m.stop()

	assert.False(t, dropped.Load())
}

func TestShelfMonitor_StopIsIdempotent(t *testing.T) {
	client := newFakeClient()
	client.setMoving("S_04")
	gw := fleet.New("r1", client, fleet.NewResolver("r1", nil, 0))

	var dropped atomic.Bool
	m := newShelfMonitor("r1", "S_04", gw, 5*time.Millisecond, &dropped)
	m.start(context.Background())

	m.stop()
	m.stop()
	assert.False(t, dropped.Load())
}
