// Package prefs defines the per-node preference store consumed by the
// gateway's req methods. The sqlite-backed implementation lives in
// modules/prefs/sqlite.
package prefs

import "context"

// ServiceName is the AppContext service key implementations register under.
const ServiceName = "prefs.store"

// Store persists small string preferences scoped to a node id.
type Store interface {
	// Get returns the value for key, with found=false when unset.
	Get(ctx context.Context, nodeID, key string) (value string, found bool, err error)
	// Set stores or replaces the value for key.
	Set(ctx context.Context, nodeID, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, nodeID, key string) error
}
