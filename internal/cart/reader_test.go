package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/driver/drivertest"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/session"
	"github.com/xkilldash9x/cartprobe/internal/wait"
)

var testLocators = Locators{
	Item:     locator.ByCSS(".product-cart-wrapper.row"),
	Name:     locator.ByCSS(".product-name"),
	Price:    locator.ByCSS(".pricing > p:nth-child(2)"),
	Quantity: locator.ByCSS(".quantity__counter-value"),
	Total:    locator.ByCSS(".cart-total--grand"),
}

var (
	qRow   = drivertest.CSS(".product-cart-wrapper.row")
	qName  = drivertest.CSS(".product-name")
	qPrice = drivertest.CSS(".pricing > p:nth-child(2)")
	qQty   = drivertest.CSS(".quantity__counter-value")
	qTotal = drivertest.CSS(".cart-total--grand")
	qEmpty = drivertest.CSS(".cart-empty")
)

func row(name, price, qty string) *drivertest.Element {
	r := drivertest.NewElement("row " + name)
	r.Add(qName, drivertest.NewElement("name").WithText(name))
	r.Add(qPrice, drivertest.NewElement("price").WithText(price))
	if qty != "" {
		r.Add(qQty, drivertest.NewElement("qty").WithText(qty))
	}
	return r
}

// flakyDriver returns rows whose subtree lookups fail a fixed number of times, the way
// a cart behaves while it re-renders.
type flakyDriver struct {
	*drivertest.Driver
	failures int
}

type flakyRow struct {
	*drivertest.Element
	d        *flakyDriver
	detached bool
}

func (r *flakyRow) FindAll(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	if r.detached {
		return nil, driver.ErrStaleElement
	}
	if r.d.failures > 0 {
		r.d.failures--
		r.detached = true
		return nil, driver.ErrStaleElement
	}
	return r.Element.FindAll(ctx, q)
}

func (r *flakyRow) IsDisplayed(ctx context.Context) (bool, error) {
	if r.detached {
		return false, driver.ErrStaleElement
	}
	return r.Element.IsDisplayed(ctx)
}

func (d *flakyDriver) Find(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	els, err := d.Driver.Find(ctx, q)
	if err != nil || q != qRow {
		return els, err
	}
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = &flakyRow{Element: el.(*drivertest.Element), d: d}
	}
	return out, nil
}

func newReader(t *testing.T, drv driver.Driver, clock *drivertest.Clock, locs Locators) *Reader {
	t.Helper()
	sess := session.New(drv, session.Options{
		PollInterval:   100 * time.Millisecond,
		DefaultTimeout: 2 * time.Second,
		Clock:          clock,
	}, zaptest.NewLogger(t))
	r, err := NewReader(sess, locs, 0)
	require.NoError(t, err)
	return r
}

func TestLocatorsValidate(t *testing.T) {
	assert.NoError(t, testLocators.Validate())
	err := Locators{Item: locator.ByCSS(".row")}.Validate()
	assert.EqualError(t, err, "cart locators missing: price, total")
}

func TestRead(t *testing.T) {
	ctx := context.Background()

	t.Run("reads rows and total", func(t *testing.T) {
		drv := drivertest.New()
		drv.URL = "https://shop.example/cart"
		drv.Set(qRow, row("Headphones", "$29.50", "1"), row("Speaker", "USD 15.25", "2"))
		drv.Set(qTotal, drivertest.NewElement("total").WithText("Estimated total: $60.00"))
		clock := drivertest.NewClock()

		snap, err := newReader(t, drv, clock, testLocators).Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/cart", snap.URL)
		assert.Equal(t, []reconcile.ItemRecord{
			{Label: "Headphones", UnitPrice: 29.50, Quantity: 1},
			{Label: "Speaker", UnitPrice: 15.25, Quantity: 2},
		}, snap.Items)
		assert.Equal(t, 60.0, snap.ObservedTotal)
		assert.Equal(t, clock.Now(), snap.ReadAt)
	})

	t.Run("defaults missing quantities to one and labels by position", func(t *testing.T) {
		drv := drivertest.New()
		plain := drivertest.NewElement("row")
		plain.Add(qPrice, drivertest.NewElement("price").WithText("$5.00"))
		drv.Set(qRow, plain)
		drv.Set(qTotal, drivertest.NewElement("total").WithText("$5.00"))

		snap, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []reconcile.ItemRecord{{Label: "Item 1", UnitPrice: 5, Quantity: 1}}, snap.Items)
	})

	t.Run("waits for the cart to render", func(t *testing.T) {
		drv := drivertest.New()
		clock := drivertest.NewClock()
		clock.At(500*time.Millisecond, func() { drv.Set(qRow, row("Earbuds", "$9.50", "1")) })
		clock.At(800*time.Millisecond, func() { drv.Set(qTotal, drivertest.NewElement("total").WithText("$9.50")) })

		snap, err := newReader(t, drv, clock, testLocators).Read(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Items, 1)
		assert.Equal(t, 9.5, snap.ObservedTotal)
		assert.Equal(t, 800*time.Millisecond, clock.Elapsed())
	})

	t.Run("recognises an empty cart", func(t *testing.T) {
		drv := drivertest.New()
		drv.Set(qEmpty, drivertest.NewElement("empty").WithText("Your cart is empty"))
		locs := testLocators
		locs.EmptyMarker = locator.ByCSS(".cart-empty")

		snap, err := newReader(t, drv, drivertest.NewClock(), locs).Read(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Items)
		assert.Zero(t, snap.ObservedTotal)
	})

	t.Run("restarts when rows re-render mid-read", func(t *testing.T) {
		drv := &flakyDriver{Driver: drivertest.New(), failures: 2}
		drv.Set(qRow, row("Headphones", "$29.50", "1"))
		drv.Set(qTotal, drivertest.NewElement("total").WithText("$29.50"))

		snap, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []reconcile.ItemRecord{{Label: "Headphones", UnitPrice: 29.5, Quantity: 1}}, snap.Items)
		assert.Zero(t, drv.failures)
	})

	t.Run("gives up on a cart that never settles", func(t *testing.T) {
		drv := &flakyDriver{Driver: drivertest.New(), failures: 100}
		drv.Set(qRow, row("Headphones", "$29.50", "1"))
		drv.Set(qTotal, drivertest.NewElement("total").WithText("$29.50"))

		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		assert.ErrorContains(t, err, "cart kept changing after 3 attempts")
	})

	t.Run("a row without a price fails without retrying", func(t *testing.T) {
		drv := drivertest.New()
		noPrice := drivertest.NewElement("row")
		noPrice.Add(qName, drivertest.NewElement("name").WithText("Gift card"))
		drv.Set(qRow, row("Headphones", "$29.50", "1"), noPrice)
		drv.Set(qTotal, drivertest.NewElement("total").WithText("$29.50"))

		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "row 2 has no price")
		assert.NotErrorIs(t, err, errRowDetached)
		assert.NotContains(t, err.Error(), "kept changing")
	})

	t.Run("retries a vanished total", func(t *testing.T) {
		drv := drivertest.New()
		drv.Set(qRow, row("Headphones", "$29.50", "1"))
		total := drivertest.NewElement("total").WithText("$29.50")
		drv.Set(qTotal, total)
		r := newReader(t, drv, drivertest.NewClock(), testLocators)

		// The total re-renders between the visibility wait and the read.
		total.OnText = func() {
			total.OnText = nil
			total.Stale = true
			drv.Set(qTotal, drivertest.NewElement("total").WithText("$29.50"))
		}
		snap, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, 29.5, snap.ObservedTotal)
	})

	t.Run("rejects unparseable prices", func(t *testing.T) {
		drv := drivertest.New()
		drv.Set(qRow, row("Mystery", "Call for price", ""))
		drv.Set(qTotal, drivertest.NewElement("total").WithText("$0.00"))

		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		assert.ErrorIs(t, err, reconcile.ErrInvalidInput)
		assert.ErrorContains(t, err, "row 1 price")
	})

	t.Run("times out when no rows appear", func(t *testing.T) {
		drv := drivertest.New()
		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		var te *wait.TimeoutError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("times out when the total stays hidden", func(t *testing.T) {
		drv := drivertest.New()
		drv.Set(qRow, row("Headphones", "$29.50", "1"))
		hidden := drivertest.NewElement("total").WithText("$29.50")
		hidden.Displayed = false
		drv.Set(qTotal, hidden)

		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		var te *wait.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.ErrorContains(t, err, "waiting for cart total")
	})

	t.Run("propagates a closed session", func(t *testing.T) {
		drv := drivertest.New()
		drv.Closed = true
		_, err := newReader(t, drv, drivertest.NewClock(), testLocators).Read(ctx)
		assert.ErrorIs(t, err, driver.ErrSessionClosed)
	})
}
