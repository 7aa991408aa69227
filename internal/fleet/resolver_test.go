package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/robotrpc"
	"biopatrol/pkg/cache"
	"biopatrol/pkg/logger"
)

func init() {
	logger.Init("error")
}

// listOnlyClient serves canned list_shelves / list_locations responses;
// every other method is unused by the resolver.
type listOnlyClient struct {
	robotrpc.Client
	shelves                  *robotrpc.Result
	locations                *robotrpc.Result
	shelvesErr, locationsErr error
}

func (c *listOnlyClient) ListShelves(context.Context) (*robotrpc.Result, error) {
	return c.shelves, c.shelvesErr
}

func (c *listOnlyClient) ListLocations(context.Context) (*robotrpc.Result, error) {
	return c.locations, c.locationsErr
}

func shelfList(entries ...map[string]any) *robotrpc.Result {
	items := make([]any, len(entries))
	for i, e := range entries {
		items[i] = e
	}
	return &robotrpc.Result{OK: true, Data: map[string]any{"shelves": items}}
}

func TestResolver_RefreshAndResolve(t *testing.T) {
	ctx := context.Background()
	client := &listOnlyClient{
		shelves: shelfList(
			map[string]any{"id": "SH-01", "name": "shelf 4"},
			map[string]any{"id": "SH-02", "name": "shelf 5"},
		),
		locations: &robotrpc.Result{OK: true, Data: map[string]any{
			"locations": []any{
				map[string]any{"id": "L-101", "name": "B_101-1"},
			},
		}},
	}

	r := NewResolver("r1", nil, time.Minute)
	r.Refresh(ctx, client)

	assert.Equal(t, "SH-01", r.ResolveShelf(ctx, "shelf 4"))
	assert.Equal(t, "L-101", r.ResolveLocation(ctx, "B_101-1"))
}

func TestResolver_UnknownNamesPassThrough(t *testing.T) {
	ctx := context.Background()
	r := NewResolver("r1", nil, time.Minute)
	assert.Equal(t, "SH-99", r.ResolveShelf(ctx, "SH-99"))
	assert.Equal(t, "B_500-1", r.ResolveLocation(ctx, "B_500-1"))
}

func TestResolver_RefreshFailureKeepsOldNames(t *testing.T) {
	ctx := context.Background()
	client := &listOnlyClient{
		shelves:   shelfList(map[string]any{"id": "SH-01", "name": "shelf 4"}),
		locations: &robotrpc.Result{OK: true, Data: map[string]any{}},
	}

	r := NewResolver("r1", nil, time.Minute)
	r.Refresh(ctx, client)
	assert.Equal(t, "SH-01", r.ResolveShelf(ctx, "shelf 4"))

	client.shelves = nil
	client.shelvesErr = assert.AnError
	client.locations = nil
	client.locationsErr = assert.AnError
	r.Refresh(ctx, client)

	assert.Equal(t, "SH-01", r.ResolveShelf(ctx, "shelf 4"), "stale names survive a failed refresh")
}

func TestResolver_BackingCacheServesMisses(t *testing.T) {
	ctx := context.Background()
	backing, err := cache.New(&cache.Options{Backend: cache.BackendMemory, DefaultTTL: time.Minute})
	require.NoError(t, err)

	client := &listOnlyClient{
		shelves:   shelfList(map[string]any{"id": "SH-01", "name": "shelf 4"}),
		locations: &robotrpc.Result{OK: true, Data: map[string]any{}},
	}

	warm := NewResolver("r1", backing, time.Minute)
	warm.Refresh(ctx, client)

	// A fresh resolver (as after a restart) has empty in-process maps but
	// shares the backing cache, so the name still resolves.
	cold := NewResolver("r1", backing, time.Minute)
	assert.Equal(t, "SH-01", cold.ResolveShelf(ctx, "shelf 4"))

	// The hit is promoted into the in-process map.
	cold.mu.RLock()
	promoted := cold.shelves["shelf 4"]
	cold.mu.RUnlock()
	assert.Equal(t, "SH-01", promoted)
}

func TestResolver_BackingCacheIsPerRobot(t *testing.T) {
	ctx := context.Background()
	backing, err := cache.New(&cache.Options{Backend: cache.BackendMemory, DefaultTTL: time.Minute})
	require.NoError(t, err)

	client := &listOnlyClient{
		shelves:   shelfList(map[string]any{"id": "SH-01", "name": "shelf 4"}),
		locations: &robotrpc.Result{OK: true, Data: map[string]any{}},
	}

	r1 := NewResolver("r1", backing, time.Minute)
	r1.Refresh(ctx, client)

	other := NewResolver("r2", backing, time.Minute)
	assert.Equal(t, "shelf 4", other.ResolveShelf(ctx, "shelf 4"),
		"another robot's names must not leak across")
}

func TestResolver_MalformedEntriesAreSkipped(t *testing.T) {
	ctx := context.Background()
	client := &listOnlyClient{
		shelves: &robotrpc.Result{OK: true, Data: map[string]any{
			"shelves": []any{
				"not a map",
				map[string]any{"id": "", "name": "empty id"},
				map[string]any{"id": "SH-03", "name": "shelf 6"},
			},
		}},
		locations: &robotrpc.Result{OK: true, Data: map[string]any{}},
	}

	r := NewResolver("r1", nil, time.Minute)
	r.Refresh(ctx, client)

	assert.Equal(t, "SH-03", r.ResolveShelf(ctx, "shelf 6"))
	assert.Equal(t, "empty id", r.ResolveShelf(ctx, "empty id"))
}
