// Package fleet provides the typed Fleet Gateway: per-robot operations
// over robotrpc.Client, with request/response outcomes normalized into
// Result values so RPC errors surface as data.
package fleet

import (
	"context"
	"time"

	"biopatrol/internal/robotrpc"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
)

// Result is the Gateway's public outcome type. It is an alias of
// robotrpc.Result, so the two names denote the same type.
type Result = robotrpc.Result

// Gateway wraps one robot's RPC client with per-operation metrics and the
// name resolver cache. It never raises for protocol-level conditions.
type Gateway struct {
	RobotID  string
	client   robotrpc.Client
	resolver *Resolver
}

// New builds a Gateway for one robot.
func New(robotID string, client robotrpc.Client, resolver *Resolver) *Gateway {
	return &Gateway{RobotID: robotID, client: client, resolver: resolver}
}

func (g *Gateway) record(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if m := metrics.Get(); m != nil {
		m.RecordFleetRequest(op, status, time.Since(start))
	}
}

func (g *Gateway) MoveToLocation(ctx context.Context, locationID string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	id := g.resolver.ResolveLocation(ctx, locationID)
	res, err := g.client.MoveToLocation(ctx, id, timeout)
	g.record("move_to_location", start, err)
	return res, err
}

func (g *Gateway) MoveShelf(ctx context.Context, shelfID, locationID string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	sid := g.resolver.ResolveShelf(ctx, shelfID)
	lid := g.resolver.ResolveLocation(ctx, locationID)
	res, err := g.client.MoveShelf(ctx, sid, lid, timeout)
	g.record("move_shelf", start, err)
	return res, err
}

func (g *Gateway) ReturnShelf(ctx context.Context, shelfID string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	res, err := g.client.ReturnShelf(ctx, g.resolver.ResolveShelf(ctx, shelfID), timeout)
	g.record("return_shelf", start, err)
	return res, err
}

func (g *Gateway) ReturnHome(ctx context.Context, timeout time.Duration) (*Result, error) {
	start := time.Now()
	res, err := g.client.ReturnHome(ctx, timeout)
	g.record("return_home", start, err)
	return res, err
}

func (g *Gateway) DockShelf(ctx context.Context, timeout time.Duration) (*Result, error) {
	start := time.Now()
	res, err := g.client.DockShelf(ctx, timeout)
	g.record("dock_shelf", start, err)
	return res, err
}

func (g *Gateway) UndockShelf(ctx context.Context, timeout time.Duration) (*Result, error) {
	start := time.Now()
	res, err := g.client.UndockShelf(ctx, timeout)
	g.record("undock_shelf", start, err)
	return res, err
}

func (g *Gateway) MoveToPose(ctx context.Context, x, y, yaw float64) (*Result, error) {
	start := time.Now()
	res, err := g.client.MoveToPose(ctx, x, y, yaw)
	g.record("move_to_pose", start, err)
	return res, err
}

func (g *Gateway) Speak(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	res, err := g.client.Speak(ctx, text)
	g.record("speak", start, err)
	return res, err
}

// CancelCommand is idempotent and best-effort; failures are logged, not
// surfaced, at every call site that uses it for cleanup.
func (g *Gateway) CancelCommand(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.CancelCommand(ctx)
	g.record("cancel_command", start, err)
	if err != nil {
		logger.Log.Debug("cancel_command failed", "robot_id", g.RobotID, "error", err)
	}
	return res, err
}

func (g *Gateway) GetMovingShelf(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.GetMovingShelf(ctx)
	g.record("get_moving_shelf", start, err)
	return res, err
}

func (g *Gateway) ListShelves(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.ListShelves(ctx)
	g.record("list_shelves", start, err)
	return res, err
}

func (g *Gateway) ListLocations(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.ListLocations(ctx)
	g.record("list_locations", start, err)
	return res, err
}

func (g *Gateway) GetPose(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.GetPose(ctx)
	g.record("get_pose", start, err)
	return res, err
}

func (g *Gateway) GetBattery(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := g.client.GetBattery(ctx)
	g.record("get_battery", start, err)
	return res, err
}

// RefreshNames repopulates the shelf/location name resolver from the fleet's
// list endpoints. Failure is WARN only, handled inside Resolver.Refresh and
// never surfaced to the caller.
func (g *Gateway) RefreshNames(ctx context.Context) {
	g.resolver.Refresh(ctx, g.client)
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() error {
	return g.client.Close()
}
