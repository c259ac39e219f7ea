package drive

import (
	"context"
	"fmt"
)

// Resolver fetches single-item metadata. It never retries.
type Resolver struct {
	remote Remote
}

// NewResolver returns a Resolver reading from remote.
func NewResolver(remote Remote) *Resolver {
	return &Resolver{remote: remote}
}

// Resolve returns the item with the given id.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Item, error) {
	id = normalizeID(id)
	item, err := r.remote.Stat(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.ID == "" {
		return nil, fmt.Errorf("%w: empty metadata for %s", ErrTransient, id)
	}
	if id == RootID {
		item.Root = true
	}
	return item, nil
}
