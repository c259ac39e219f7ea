package drive

import (
	"context"
	"fmt"

	"github.com/fruitsalade/drivedeck/internal/metrics"
)

// DefaultMaxDepth bounds breadcrumb walks when no cap is configured.
const DefaultMaxDepth = 64

// PathBuilder walks parent links from a folder up to the root.
type PathBuilder struct {
	resolver *Resolver
	maxDepth int
}

// NewPathBuilder returns a PathBuilder capped at maxDepth folders below
// the root. maxDepth <= 0 selects DefaultMaxDepth.
func NewPathBuilder(resolver *Resolver, maxDepth int) *PathBuilder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &PathBuilder{resolver: resolver, maxDepth: maxDepth}
}

// Build returns the breadcrumb ending at folderID.
func (p *PathBuilder) Build(ctx context.Context, folderID string) (Breadcrumb, error) {
	return p.build(ctx, normalizeID(folderID), nil)
}

// build walks up from id. If start is non-nil it is the already resolved
// item for id and is used instead of a remote call.
func (p *PathBuilder) build(ctx context.Context, id string, start *Item) (Breadcrumb, error) {
	root := Crumb{ID: RootID, Name: RootName}
	if id == RootID {
		return Breadcrumb{root}, nil
	}

	var chain []Crumb
	seen := make(map[string]bool)
	current := id
	next := start

	for {
		if seen[current] {
			return nil, fmt.Errorf("%w: parent cycle at %s", ErrPathTooDeep, current)
		}
		seen[current] = true

		item := next
		next = nil
		if item == nil {
			var err error
			item, err = p.resolver.Resolve(ctx, current)
			if err != nil {
				return nil, err
			}
		}
		if item.Root {
			break
		}

		if len(chain) == p.maxDepth {
			return nil, fmt.Errorf("%w: more than %d levels below root", ErrPathTooDeep, p.maxDepth)
		}
		chain = append(chain, Crumb{ID: item.ID, Name: item.Name})

		if item.ParentID == "" || item.ParentID == RootID {
			break
		}
		current = item.ParentID
	}

	crumbs := make(Breadcrumb, 0, len(chain)+1)
	crumbs = append(crumbs, root)
	for i := len(chain) - 1; i >= 0; i-- {
		crumbs = append(crumbs, chain[i])
	}
	metrics.ObserveBreadcrumbDepth(len(crumbs))
	return crumbs, nil
}
