// Package robotrpc wraps the robot command RPC: connection, command
// submission, and query endpoints. Command ids are not generated here;
// command_id tracking is left to the fleet service. It is the
// boundary where transport failures and robot domain codes become plain
// data instead of errors.
package robotrpc

import (
	"context"
	"time"
)

// Result is the structured outcome of every Fleet Gateway operation.
// Protocol-level conditions never raise; they surface here.
type Result struct {
	OK        bool
	ErrorCode int
	ErrorText string
	Data      map[string]any
}

// Pose is a 2D robot or shelf pose.
type Pose struct {
	X, Y, Theta float64
}

// Shelf describes one shelf known to the fleet.
type Shelf struct {
	ID   string
	Name string
	Pose Pose
}

// Location describes one navigation target known to the fleet.
type Location struct {
	ID   string
	Name string
}

// Client is the per-robot command and query surface assumed of the robot
// RPC library. Every method returns a Result; transport errors are
// reported via the accompanying error return, which callers classify with
// apperror.IsTransient before handing off to the Retry Policy.
type Client interface {
	MoveToLocation(ctx context.Context, locationID string, timeout time.Duration) (*Result, error)
	MoveShelf(ctx context.Context, shelfID, locationID string, timeout time.Duration) (*Result, error)
	ReturnShelf(ctx context.Context, shelfID string, timeout time.Duration) (*Result, error)
	ReturnHome(ctx context.Context, timeout time.Duration) (*Result, error)
	DockShelf(ctx context.Context, timeout time.Duration) (*Result, error)
	UndockShelf(ctx context.Context, timeout time.Duration) (*Result, error)
	MoveToPose(ctx context.Context, x, y, yaw float64) (*Result, error)
	Speak(ctx context.Context, text string) (*Result, error)
	CancelCommand(ctx context.Context) (*Result, error)

	GetMovingShelf(ctx context.Context) (*Result, error)
	ListShelves(ctx context.Context) (*Result, error)
	ListLocations(ctx context.Context) (*Result, error)
	GetPose(ctx context.Context) (*Result, error)
	GetBattery(ctx context.Context) (*Result, error)

	Close() error
}
