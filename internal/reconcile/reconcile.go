// internal/reconcile/reconcile.go
// Package reconcile checks a total shown by the UI against the total recomputed from the
// line items that produced it.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultTolerance is the largest absolute difference, in currency units, that still
// counts as a match.
const DefaultTolerance = 0.01

// epsilon absorbs binary floating-point error so that, for example, 30.01 - 30.00 is
// treated as exactly 0.01.
const epsilon = 1e-9

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("reconcile: invalid input")

// Policy decides how a line's subtotal is derived.
type Policy string

const (
	// PolicyPriceTimesQuantity treats UnitPrice as a per-unit price.
	PolicyPriceTimesQuantity Policy = "price_times_quantity"
	// PolicyPriceIsLineTotal treats UnitPrice as the already-extended line total, the
	// way carts that print one price per row present it.
	PolicyPriceIsLineTotal Policy = "price_is_line_total"
)

// ParsePolicy accepts the configuration spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyPriceTimesQuantity, PolicyPriceIsLineTotal:
		return p, nil
	case "":
		return PolicyPriceTimesQuantity, nil
	default:
		return "", fmt.Errorf("%w: unknown subtotal policy %q", ErrInvalidInput, s)
	}
}

func (p Policy) other() Policy {
	if p == PolicyPriceIsLineTotal {
		return PolicyPriceTimesQuantity
	}
	return PolicyPriceIsLineTotal
}

func (p Policy) subtotal(it ItemRecord) float64 {
	if p == PolicyPriceIsLineTotal {
		return it.UnitPrice
	}
	return it.UnitPrice * float64(it.Quantity)
}

// ItemRecord is one cart line as read from the page.
type ItemRecord struct {
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
	UnitPrice float64 `json:"unit_price" yaml:"price"`
	Quantity  int     `json:"quantity" yaml:"quantity"`
}

// Result is the outcome of one reconciliation. Matched is true exactly when
// |ComputedTotal - ObservedTotal| <= Tolerance + 1e-9; the extra 1e-9 absorbs
// floating-point error in the subtraction.
type Result struct {
	PerItemSubtotal []float64 `json:"per_item_subtotal"`
	ComputedTotal   float64   `json:"computed_total"`
	ObservedTotal   float64   `json:"observed_total"`
	Tolerance       float64   `json:"tolerance"`
	Matched         bool      `json:"matched"`
	Timestamp       time.Time `json:"timestamp"`
	Policy          Policy    `json:"policy"`
	// AlternateTotal and AlternateMatched are the same computation under the other
	// policy. A mismatch whose alternate matches usually means the policy is wrong for
	// the page rather than the page being wrong.
	AlternateTotal   float64 `json:"alternate_total"`
	AlternateMatched bool    `json:"alternate_matched"`
}

// Difference is ComputedTotal - ObservedTotal.
func (r Result) Difference() float64 {
	return r.ComputedTotal - r.ObservedTotal
}

type options struct {
	tolerance float64
	policy    Policy
	now       func() time.Time
}

// Option tunes Reconcile.
type Option func(*options)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(t float64) Option {
	return func(o *options) { o.tolerance = t }
}

// WithPolicy overrides PolicyPriceTimesQuantity.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithNow sets the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Reconcile recomputes the cart total from items and compares it with observed. It has
// no side effects; inputs are validated and never modified.
func Reconcile(items []ItemRecord, observed float64, opts ...Option) (Result, error) {
	o := options{tolerance: DefaultTolerance, policy: PolicyPriceTimesQuantity, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if !finite(o.tolerance) || o.tolerance < 0 {
		return Result{}, fmt.Errorf("%w: tolerance %v", ErrInvalidInput, o.tolerance)
	}
	if o.policy != PolicyPriceTimesQuantity && o.policy != PolicyPriceIsLineTotal {
		return Result{}, fmt.Errorf("%w: unknown subtotal policy %q", ErrInvalidInput, o.policy)
	}
	if !finite(observed) {
		return Result{}, fmt.Errorf("%w: observed total %v", ErrInvalidInput, observed)
	}
	for i, it := range items {
		if !finite(it.UnitPrice) || it.UnitPrice < 0 {
			return Result{}, fmt.Errorf("%w: item %d price %v", ErrInvalidInput, i+1, it.UnitPrice)
		}
		if it.Quantity < 0 {
			return Result{}, fmt.Errorf("%w: item %d quantity %d", ErrInvalidInput, i+1, it.Quantity)
		}
	}

	subtotals := make([]float64, len(items))
	var computed, alternate float64
	alt := o.policy.other()
	for i, it := range items {
		subtotals[i] = o.policy.subtotal(it)
		computed += subtotals[i]
		alternate += alt.subtotal(it)
	}

	return Result{
		PerItemSubtotal:  subtotals,
		ComputedTotal:    computed,
		ObservedTotal:    observed,
		Tolerance:        o.tolerance,
		Matched:          within(computed, observed, o.tolerance),
		Timestamp:        o.now(),
		Policy:           o.policy,
		AlternateTotal:   alternate,
		AlternateMatched: within(alternate, observed, o.tolerance),
	}, nil
}

// within reports |a - b| <= tolerance + epsilon.
func within(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance+epsilon
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
