package robotrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName is the gRPC service path the robot fleet library exposes.
const serviceName = "/biopatrol.fleet.v1.Fleet/"

// GRPCClient is the gRPC-backed robotrpc.Client, one per registered robot.
// It holds a single persistent connection; concurrent callers share it.
// The fleet service owns connection management and command_id tracking.
type GRPCClient struct {
	conn    *grpc.ClientConn
	robotID string
}

// Dial connects to a robot's Fleet endpoint.
func Dial(ctx context.Context, robotID, address string, useTLS bool) (*GRPCClient, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}
	if !useTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("robotrpc: dial %s: %w", address, err)
	}

	return &GRPCClient{conn: conn, robotID: robotID}, nil
}

func (c *GRPCClient) call(ctx context.Context, method string, args map[string]any) (*Result, error) {
	req := &wireRequest{Data: args}
	resp := &wireResult{}
	err := c.conn.Invoke(ctx, serviceName+method, req, resp)
	return resultFromWire(resp, err)
}

func (c *GRPCClient) MoveToLocation(ctx context.Context, locationID string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "MoveToLocation", map[string]any{"location_id": locationID})
}

func (c *GRPCClient) MoveShelf(ctx context.Context, shelfID, locationID string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "MoveShelf", map[string]any{"shelf_id": shelfID, "location_id": locationID})
}

func (c *GRPCClient) ReturnShelf(ctx context.Context, shelfID string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "ReturnShelf", map[string]any{"shelf_id": shelfID})
}

func (c *GRPCClient) ReturnHome(ctx context.Context, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "ReturnHome", nil)
}

func (c *GRPCClient) DockShelf(ctx context.Context, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "DockShelf", nil)
}

func (c *GRPCClient) UndockShelf(ctx context.Context, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(ctx, "UndockShelf", nil)
}

func (c *GRPCClient) MoveToPose(ctx context.Context, x, y, yaw float64) (*Result, error) {
	return c.call(ctx, "MoveToPose", map[string]any{"x": x, "y": y, "yaw": yaw})
}

func (c *GRPCClient) Speak(ctx context.Context, text string) (*Result, error) {
	return c.call(ctx, "Speak", map[string]any{"text": text})
}

func (c *GRPCClient) CancelCommand(ctx context.Context) (*Result, error) {
	return c.call(ctx, "CancelCommand", nil)
}

func (c *GRPCClient) GetMovingShelf(ctx context.Context) (*Result, error) {
	return c.call(ctx, "GetMovingShelf", nil)
}

func (c *GRPCClient) ListShelves(ctx context.Context) (*Result, error) {
	return c.call(ctx, "ListShelves", nil)
}

func (c *GRPCClient) ListLocations(ctx context.Context) (*Result, error) {
	return c.call(ctx, "ListLocations", nil)
}

func (c *GRPCClient) GetPose(ctx context.Context) (*Result, error) {
	return c.call(ctx, "GetPose", nil)
}

func (c *GRPCClient) GetBattery(ctx context.Context) (*Result, error) {
	return c.call(ctx, "GetBattery", nil)
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

var _ Client = (*GRPCClient)(nil)
