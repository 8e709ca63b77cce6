// internal/locator/resolver.go
package locator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// TransientQueryError records a lookup that failed only momentarily (the node was not
// attached yet, or was detached mid-query). The resolver never returns it; it is logged
// and turned into absence so the caller's next poll simply tries again.
type TransientQueryError struct {
	Locator Locator
	Err     error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("transient query failure for %s: %v", e.Locator, e.Err)
}

func (e *TransientQueryError) Unwrap() error { return e.Err }

// Resolver turns locators into live element handles. It holds no cache: every call
// re-queries the document because earlier handles may point at detached nodes.
type Resolver struct {
	drv    driver.Driver
	logger *zap.Logger
}

// NewResolver creates a resolver over drv.
func NewResolver(drv driver.Driver, logger *zap.Logger) *Resolver {
	return &Resolver{drv: drv, logger: logger.Named("locator")}
}

// Resolve returns the first element matching loc. Absence is (nil, false, nil); the
// error is non-nil only for fatal session failures or a malformed locator.
func (r *Resolver) Resolve(ctx context.Context, loc Locator) (driver.Element, bool, error) {
	all, err := r.ResolveAll(ctx, loc)
	if err != nil {
		return nil, false, err
	}
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[0], true, nil
}

// ResolveAll returns every element matching loc in document order. A locator that
// matches nothing yields an empty, non-nil slice.
func (r *Resolver) ResolveAll(ctx context.Context, loc Locator) ([]driver.Element, error) {
	q, err := loc.Query()
	if err != nil {
		return nil, err
	}
	els, err := r.drv.Find(ctx, q)
	return r.normalize(loc, els, err)
}

// ResolveWithin resolves loc inside parent's subtree, with the same absence semantics
// as ResolveAll. A detached parent yields an empty result.
func (r *Resolver) ResolveWithin(ctx context.Context, parent driver.Element, loc Locator) ([]driver.Element, error) {
	q, err := loc.Query()
	if err != nil {
		return nil, err
	}
	els, err := parent.FindAll(ctx, q)
	return r.normalize(loc, els, err)
}

// normalize is the boundary where driver failures become either absence or a fatal
// error. Nothing backend-specific escapes this function.
func (r *Resolver) normalize(loc Locator, els []driver.Element, err error) ([]driver.Element, error) {
	if err == nil {
		if els == nil {
			els = []driver.Element{}
		}
		return els, nil
	}
	if driver.IsFatal(err) {
		return nil, err
	}
	if errors.Is(err, driver.ErrUnsupported) {
		return nil, fmt.Errorf("resolving %s: %w", loc, err)
	}
	// Every other failure counts as "not there right now".
	tq := &TransientQueryError{Locator: loc, Err: err}
	r.logger.Debug("Lookup failed transiently; treating as absent.", zap.Error(tq))
	return []driver.Element{}, nil
}
