// Package cart extracts the contents of a rendered shopping cart and audits it against
// the total the page displays.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/session"
)

// maxReadAttempts bounds how often Read restarts after the cart re-renders mid-read.
const maxReadAttempts = 3

// errRowDetached marks a row that vanished or re-rendered while it was being read.
var errRowDetached = errors.New("cart row detached during read")

// Locators describes where a cart page keeps its data. Name, Price and Quantity are
// resolved inside each Item row.
type Locators struct {
	Item     locator.Locator
	Name     locator.Locator
	Price    locator.Locator
	Quantity locator.Locator
	Total    locator.Locator
	// EmptyMarker, when set, lets Read recognise an empty cart instead of timing out.
	EmptyMarker locator.Locator
}

// Validate checks that the required locators are present.
func (l Locators) Validate() error {
	var missing []string
	if l.Item.IsZero() {
		missing = append(missing, "item")
	}
	if l.Price.IsZero() {
		missing = append(missing, "price")
	}
	if l.Total.IsZero() {
		missing = append(missing, "total")
	}
	if len(missing) > 0 {
		return fmt.Errorf("cart locators missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Snapshot is the cart as observed at ReadAt.
type Snapshot struct {
	URL           string
	Items         []reconcile.ItemRecord
	ObservedTotal float64
	ReadAt        time.Time
}

// Source yields cart snapshots.
type Source interface {
	Read(ctx context.Context) (Snapshot, error)
}

// Reader reads a cart from a live session.
type Reader struct {
	sess    *session.Session
	locs    Locators
	timeout time.Duration
	logger  *zap.Logger
}

// NewReader builds a Reader. timeout bounds each wait the read performs; non-positive
// means the session default.
func NewReader(sess *session.Session, locs Locators, timeout time.Duration) (*Reader, error) {
	if err := locs.Validate(); err != nil {
		return nil, err
	}
	return &Reader{
		sess:    sess,
		locs:    locs,
		timeout: timeout,
		logger:  sess.Logger().Named("cart"),
	}, nil
}

// Read waits for the cart to render and extracts its rows and displayed total. A row
// without a quantity element counts as quantity 1.
func (r *Reader) Read(ctx context.Context) (Snapshot, error) {
	conds := r.sess.Conditions()

	empty := false
	if r.locs.EmptyMarker.IsZero() {
		if err := r.sess.Wait(ctx, conds.PresentAll(r.locs.Item), r.timeout); err != nil {
			return Snapshot{}, fmt.Errorf("waiting for cart items: %w", err)
		}
	} else {
		idx, err := r.sess.WaitAny(ctx, r.timeout, conds.PresentAll(r.locs.Item), conds.Visible(r.locs.EmptyMarker))
		if err != nil {
			return Snapshot{}, fmt.Errorf("waiting for cart items: %w", err)
		}
		empty = idx == 1
	}

	var items []reconcile.ItemRecord
	if !empty {
		var err error
		if items, err = r.readRows(ctx); err != nil {
			return Snapshot{}, err
		}
	}

	total, err := r.readTotal(ctx, empty)
	if err != nil {
		return Snapshot{}, err
	}

	url, err := r.sess.Driver().CurrentURL(ctx)
	if err != nil && driver.IsFatal(err) {
		return Snapshot{}, err
	}

	snap := Snapshot{
		URL:           url,
		Items:         items,
		ObservedTotal: total,
		ReadAt:        r.sess.Engine().Clock().Now(),
	}
	r.logger.Info("Cart read.",
		zap.Int("items", len(items)),
		zap.Float64("observed_total", total),
		zap.Bool("empty", empty))
	return snap, nil
}

// readRetries allows maxReadAttempts immediate attempts, stopping early when ctx ends.
func readRetries(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxReadAttempts-1), ctx)
}

func (r *Reader) readRows(ctx context.Context) ([]reconcile.ItemRecord, error) {
	var (
		items   []reconcile.ItemRecord
		attempt int
	)
	operation := func() error {
		attempt++
		var err error
		items, err = r.readRowsOnce(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errRowDetached):
			r.logger.Debug("Cart re-rendered during read, restarting.", zap.Int("attempt", attempt), zap.Error(err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(operation, readRetries(ctx)); err != nil {
		if errors.Is(err, errRowDetached) {
			return nil, fmt.Errorf("cart kept changing after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return items, nil
}

func (r *Reader) readRowsOnce(ctx context.Context) ([]reconcile.ItemRecord, error) {
	rows, err := r.sess.Resolver().ResolveAll(ctx, r.locs.Item)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errRowDetached
	}

	items := make([]reconcile.ItemRecord, 0, len(rows))
	for i, row := range rows {
		it, err := r.readRow(ctx, i, row)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (r *Reader) readRow(ctx context.Context, i int, row driver.Element) (reconcile.ItemRecord, error) {
	it := reconcile.ItemRecord{Label: fmt.Sprintf("Item %d", i+1), Quantity: 1}

	priceText, ok, err := r.childText(ctx, row, r.locs.Price)
	if err != nil {
		return it, err
	}
	if !ok {
		// An empty lookup under a detached row is a re-render, not a missing price.
		if _, err := row.IsDisplayed(ctx); err != nil {
			if driver.IsFatal(err) {
				return it, err
			}
			return it, fmt.Errorf("%w: row %d: %v", errRowDetached, i+1, err)
		}
		return it, fmt.Errorf("row %d has no price (%s)", i+1, r.locs.Price)
	}
	if it.UnitPrice, err = reconcile.ParseAmount(priceText); err != nil {
		return it, fmt.Errorf("row %d price: %w", i+1, err)
	}

	if !r.locs.Quantity.IsZero() {
		qtyText, ok, err := r.childText(ctx, row, r.locs.Quantity)
		if err != nil {
			return it, err
		}
		if ok {
			if it.Quantity, err = reconcile.ParseQuantity(qtyText); err != nil {
				return it, fmt.Errorf("row %d quantity: %w", i+1, err)
			}
		}
	}

	if !r.locs.Name.IsZero() {
		name, ok, err := r.childText(ctx, row, r.locs.Name)
		if err != nil {
			return it, err
		}
		if ok && name != "" {
			it.Label = name
		}
	}
	return it, nil
}

// childText reads the trimmed text of the first match of loc under row. A transient
// failure is reported as errRowDetached so the whole read restarts.
func (r *Reader) childText(ctx context.Context, row driver.Element, loc locator.Locator) (string, bool, error) {
	els, err := r.sess.Resolver().ResolveWithin(ctx, row, loc)
	if err != nil {
		return "", false, err
	}
	if len(els) == 0 {
		return "", false, nil
	}
	text, err := els[0].Text(ctx)
	if err != nil {
		if driver.IsFatal(err) {
			return "", false, err
		}
		return "", false, fmt.Errorf("%w: %v", errRowDetached, err)
	}
	return strings.TrimSpace(text), true, nil
}

// readTotal waits for the total and parses it. An empty cart may omit the total, which
// then reads as zero.
func (r *Reader) readTotal(ctx context.Context, empty bool) (float64, error) {
	conds := r.sess.Conditions()
	if empty {
		p, err := conds.Probe(ctx, r.locs.Total)
		if err != nil {
			return 0, err
		}
		if !p.Found || !p.Displayed {
			return 0, nil
		}
	} else if err := r.sess.Wait(ctx, conds.Visible(r.locs.Total), r.timeout); err != nil {
		return 0, fmt.Errorf("waiting for cart total: %w", err)
	}

	var (
		total     float64
		transient error
	)
	operation := func() error {
		el, found, err := r.sess.Resolver().Resolve(ctx, r.locs.Total)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !found {
			transient = fmt.Errorf("%s disappeared", r.locs.Total)
			return transient
		}
		text, err := el.Text(ctx)
		if err != nil {
			if driver.IsFatal(err) {
				return backoff.Permanent(err)
			}
			transient = err
			return transient
		}
		if total, err = reconcile.ParseAmount(text); err != nil {
			return backoff.Permanent(fmt.Errorf("cart total: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, readRetries(ctx)); err != nil {
		if transient != nil && errors.Is(err, transient) {
			return 0, fmt.Errorf("reading cart total: %w", err)
		}
		return 0, err
	}
	return total, nil
}
