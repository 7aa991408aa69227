package task

import (
	"fmt"

	"biopatrol/pkg/apperror"
)

// Per-action parameter structs. The engine parses each step's raw Params
// bag once, up front, into one of these instead of threading a map[string]any
// through the dispatch switch.

type SpeakParams struct {
	Text string
}

type MoveToPoseParams struct {
	X, Y, Yaw float64
}

type MoveToLocationParams struct {
	LocationID string
}

type ShelfParams struct {
	ShelfID string
}

type MoveShelfParams struct {
	ShelfID    string
	LocationID string
}

type BioScanParams struct {
	BedKey string
}

type WaitParams struct {
	Seconds float64
}

// ParseParams converts a step's raw Params map into its typed variant. The
// returned value's concrete type is determined by step.Action; the action
// dispatcher switches on step.Action and type-asserts the value.
func ParseParams(step *Step) (any, error) {
	p := step.Params
	switch step.Action {
	case ActionSpeak:
		return SpeakParams{Text: str(p, "speak_text")}, nil
	case ActionMoveToPose:
		return MoveToPoseParams{X: num(p, "x"), Y: num(p, "y"), Yaw: num(p, "yaw")}, nil
	case ActionMoveToLocation:
		loc := str(p, "location_id")
		if loc == "" {
			return nil, apperror.NewWithField(apperror.CodeInvalidArgument, "location_id is required", "location_id")
		}
		return MoveToLocationParams{LocationID: loc}, nil
	case ActionDockShelf, ActionUndockShelf:
		return struct{}{}, nil
	case ActionMoveShelf:
		shelfID, locID := str(p, "shelf_id"), str(p, "location_id")
		if shelfID == "" || locID == "" {
			return nil, apperror.New(apperror.CodeInvalidArgument, "move_shelf requires shelf_id and location_id")
		}
		return MoveShelfParams{ShelfID: shelfID, LocationID: locID}, nil
	case ActionReturnShelf:
		shelfID := str(p, "shelf_id")
		if shelfID == "" {
			return nil, apperror.NewWithField(apperror.CodeInvalidArgument, "shelf_id is required", "shelf_id")
		}
		return ShelfParams{ShelfID: shelfID}, nil
	case ActionReturnHome:
		return struct{}{}, nil
	case ActionBioScan:
		return BioScanParams{BedKey: str(p, "bed_key")}, nil
	case ActionWait:
		return WaitParams{Seconds: num(p, "seconds")}, nil
	default:
		return nil, apperror.ErrUnknownAction.WithDetails("action", fmt.Sprint(step.Action))
	}
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func num(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
