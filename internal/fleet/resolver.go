package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"biopatrol/internal/robotrpc"
	"biopatrol/pkg/cache"
	"biopatrol/pkg/logger"
)

// Resolver maps human-readable shelf/location names to the ids the robot
// RPC expects; a value with no name match passes through unchanged, so the
// vendor RPC is only ever called with raw ids. The in-process maps are the
// hot path; the optional cache backend is consulted on a miss, so a
// mapping learned before a restart (or by another service sharing the
// backend) still resolves before the next successful Refresh.
type Resolver struct {
	robotID string

	mu        sync.RWMutex
	shelves   map[string]string // name -> id
	locations map[string]string // name -> id

	backing cache.Cache // optional, shared/persistent lookup
	ttl     time.Duration
}

// NewResolver builds an empty resolver for one robot. backing may be nil,
// in which case names live only for the lifetime of the process.
func NewResolver(robotID string, backing cache.Cache, ttl time.Duration) *Resolver {
	return &Resolver{
		robotID:   robotID,
		shelves:   make(map[string]string),
		locations: make(map[string]string),
		backing:   backing,
		ttl:       ttl,
	}
}

// Refresh repopulates the name caches from the fleet's list_shelves and
// list_locations queries. Failure here is WARN only; the engine proceeds
// with whatever names were already cached.
func (r *Resolver) Refresh(ctx context.Context, client robotrpc.Client) {
	if res, err := client.ListShelves(ctx); err == nil && res.OK {
		r.load(ctx, r.shelves, "shelf", res.Data, "shelves")
	} else if err != nil {
		logger.Log.Warn("list_shelves failed, name cache stale", "robot_id", r.robotID, "error", err)
	}

	if res, err := client.ListLocations(ctx); err == nil && res.OK {
		r.load(ctx, r.locations, "location", res.Data, "locations")
	} else if err != nil {
		logger.Log.Warn("list_locations failed, name cache stale", "robot_id", r.robotID, "error", err)
	}
}

func (r *Resolver) load(ctx context.Context, into map[string]string, kind string, data map[string]any, field string) {
	raw, ok := data[field].([]any)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		name, _ := entry["name"].(string)
		if id == "" || name == "" {
			continue
		}
		into[name] = id
		r.cacheSet(ctx, r.cacheKey(kind, name), id)
	}
}

func (r *Resolver) cacheKey(kind, name string) string {
	return kind + ":" + r.robotID + ":" + name
}

func (r *Resolver) cacheSet(ctx context.Context, key, value string) {
	if r.backing == nil {
		return
	}
	if err := r.backing.Set(ctx, key, []byte(value), r.ttl); err != nil {
		logger.Log.Debug("resolver cache set failed", "key", key, "error", err)
	}
}

func (r *Resolver) cacheGet(ctx context.Context, key string) string {
	if r.backing == nil {
		return ""
	}
	val, err := r.backing.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			logger.Log.Debug("resolver cache get failed", "key", key, "error", err)
		}
		return ""
	}
	return string(val)
}

// ResolveShelf returns the id for a known shelf name, or nameOrID itself
// if neither the in-process map nor the backing cache recognizes it (the
// value is then assumed to already be an id).
func (r *Resolver) ResolveShelf(ctx context.Context, nameOrID string) string {
	return r.resolve(ctx, r.shelves, "shelf", nameOrID)
}

// ResolveLocation returns the id for a known location name, or nameOrID
// itself if no name match is found.
func (r *Resolver) ResolveLocation(ctx context.Context, nameOrID string) string {
	return r.resolve(ctx, r.locations, "location", nameOrID)
}

func (r *Resolver) resolve(ctx context.Context, from map[string]string, kind, nameOrID string) string {
	r.mu.RLock()
	id, ok := from[nameOrID]
	r.mu.RUnlock()
	if ok {
		return id
	}

	if id := r.cacheGet(ctx, r.cacheKey(kind, nameOrID)); id != "" {
		r.mu.Lock()
		from[nameOrID] = id
		r.mu.Unlock()
		return id
	}

	return nameOrID
}
