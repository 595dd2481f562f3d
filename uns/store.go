package uns

import (
	"context"
	"time"
)

// GraphStore persists the topic hierarchy. MergeNode creates or updates the
// node identified by (parent, name, label) and returns its id so children can
// chain off it.
//
// A new node gets a _created_timestamp attribute; an existing one gets
// _modified_timestamp, and the supplied attributes overwrite its previous
// values. parentID is empty for root nodes.
type GraphStore interface {
	MergeNode(ctx context.Context, parentID, name, label string, attrs map[string]any, ts time.Time) (string, error)
}
