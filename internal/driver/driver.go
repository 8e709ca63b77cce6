// internal/driver/driver.go
// Package driver defines the browser control surface the synchronization core
// consumes. Concrete browsers (chromedp, a static HTML snapshot, test fakes) implement
// these interfaces and translate their own failures into the sentinel errors below, so
// no backend-specific error type ever reaches the locator or interaction layers.
package driver

import (
	"context"
	"encoding/json"
	"errors"
)

// Strategy names the query mechanism a Query uses.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Query is the backend-level form of a locator. The locator package normalizes every
// symbolic strategy (id, name, class, link text) down to CSS or XPath before calling
// into a driver, keeping implementations small.
type Query struct {
	Strategy Strategy
	Selector string
}

// Driver is one browser session's control surface. A Driver is thread-confined: it must
// only be used from the goroutine that owns the session.
type Driver interface {
	// Find returns all elements matching q in document order. Zero matches is an empty
	// slice and a nil error.
	Find(ctx context.Context, q Query) ([]Element, error)
	// ExecuteScript runs source as the body of a function. Positional args are exposed
	// to the script as arguments[i]; Element args are passed as live node references.
	ExecuteScript(ctx context.Context, source string, args ...any) (json.RawMessage, error)
	// CurrentURL returns the current navigation target.
	CurrentURL(ctx context.Context) (string, error)
	// Capture returns a PNG screenshot of the viewport.
	Capture(ctx context.Context) ([]byte, error)
}

// Element is an ephemeral reference to a live node. It is only valid for a single
// resolve-then-act sequence; navigation or re-render may detach it, in which case
// methods return ErrStaleElement.
type Element interface {
	IsDisplayed(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	// IsObscured reports whether a different element would receive a click aimed at the
	// center of this element.
	IsObscured(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	// FindAll runs q scoped to this element's subtree.
	FindAll(ctx context.Context, q Query) ([]Element, error)
}

var (
	// ErrNoSuchElement means a query or scoped lookup found nothing where one was required.
	ErrNoSuchElement = errors.New("driver: no such element")
	// ErrStaleElement means the handle no longer references an attached node.
	ErrStaleElement = errors.New("driver: stale element reference")
	// ErrClickIntercepted means a native click would land on a different element.
	ErrClickIntercepted = errors.New("driver: click intercepted by another element")
	// ErrNotInteractable means the element exists but cannot take input (disabled, hidden,
	// read-only, zero-sized).
	ErrNotInteractable = errors.New("driver: element not interactable")
	// ErrScript means a script threw or could not be evaluated.
	ErrScript = errors.New("driver: script error")
	// ErrUnsupported means the backend cannot perform the operation at all.
	ErrUnsupported = errors.New("driver: operation not supported")
	// ErrSessionClosed is the only fatal error class: the browser session is gone.
	ErrSessionClosed = errors.New("driver: session closed")
)

// IsFatal reports whether err ends the session's usefulness. Everything else that a
// driver may return while polling is transient from the core's point of view.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether err describes a momentary lookup failure that should be
// retried on the next poll.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSuchElement) || errors.Is(err, ErrStaleElement)
}
