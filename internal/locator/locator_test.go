// internal/locator/locator_test.go
package locator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/driver/drivertest"
	"github.com/xkilldash9x/cartprobe/internal/mocks"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Locator
	}{
		{"css:.cart-total", ByCSS(".cart-total")},
		{"xpath://div[@id='x']", ByXPath("//div[@id='x']")},
		{"ID: zip", ByID("zip")},
		{"name:postal", ByName("postal")},
		{"class:price", ByClass("price")},
		{"link_text:Checkout", ByLinkText("Checkout")},
		{".cart-item", ByCSS(".cart-item")},
		{"a:hover", ByCSS("a:hover")},
		{"  #total  ", ByCSS("#total")},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Parse("   ")
	assert.Error(t, err)
	_, err = Parse("css:  ")
	assert.Error(t, err)
	assert.Panics(t, func() { MustParse("") })
}

func TestLocator_String(t *testing.T) {
	assert.Equal(t, "css selector: .cart-total", ByCSS(".cart-total").String())
	assert.Equal(t, "class name: price", ByClass("price").String())
	assert.Equal(t, "link text: Checkout", ByLinkText("Checkout").String())
	assert.True(t, Locator{}.IsZero())
	assert.False(t, ByID("x").IsZero())
}

func TestLocator_QueryMatchesAwkwardValues(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body>
<span id="a&quot;b\c">id</span>
<input name="a&#9;b">
<div class="sm:price">colon</div>
<div class="2col">digit</div>
<div class="a.b">dot</div>
</body></html>`))
	require.NoError(t, err)

	for _, loc := range []Locator{
		ByID(`a"b\c`),
		ByName("a\tb"),
		ByClass("sm:price"),
		ByClass("2col"),
		ByClass("a.b"),
	} {
		t.Run(loc.String(), func(t *testing.T) {
			q, err := loc.Query()
			require.NoError(t, err)
			sel, err := cascadia.Compile(q.Selector)
			require.NoError(t, err, q.Selector)
			assert.NotNil(t, sel.MatchFirst(doc), q.Selector)
		})
	}
}

func TestLocator_Query(t *testing.T) {
	cases := []struct {
		name string
		loc  Locator
		want driver.Query
	}{
		{"css", ByCSS("div > .a"), drivertest.CSS("div > .a")},
		{"xpath", ByXPath("//li"), drivertest.XPath("//li")},
		{"id", ByID("zip"), drivertest.CSS(`[id="zip"]`)},
		{"id with quote", ByID(`a"b`), drivertest.CSS(`[id="a\"b"]`)},
		{"name", ByName("postal"), drivertest.CSS(`[name="postal"]`)},
		{"id with backslash", ByID(`a\b`), drivertest.CSS(`[id="a\\b"]`)},
		{"name with newline", ByName("a\nb"), drivertest.CSS(`[name="a\a b"]`)},
		{"class", ByClass("price"), drivertest.CSS(".price")},
		{"class with colon", ByClass("sm:price"), drivertest.CSS(`.sm\:price`)},
		{"class with leading digit", ByClass("2col"), drivertest.CSS(`.\32 col`)},
		{"class with dash digit", ByClass("-1x"), drivertest.CSS(`.-\31 x`)},
		{"link text", ByLinkText("Go on"), drivertest.XPath(`//a[normalize-space(.)="Go on"]`)},
		{"link text with double quote", ByLinkText(`say "hi"`), drivertest.XPath(`//a[normalize-space(.)='say "hi"']`)},
		{"link text with both quotes", ByLinkText(`it's "x"`), drivertest.XPath(`//a[normalize-space(.)=concat("it's ", '"', "x", '"', "")]`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.loc.Query()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ByClass("a b").Query()
	assert.Error(t, err)
	_, err = ByCSS("").Query()
	assert.Error(t, err)
	_, err = Locator{Strategy: "shadow", Value: "x"}.Query()
	assert.Error(t, err)
}

func TestResolver_AbsenceIsNotAnError(t *testing.T) {
	drv := drivertest.New()
	r := NewResolver(drv, zaptest.NewLogger(t))
	ctx := context.Background()

	el, found, err := r.Resolve(ctx, ByCSS(".missing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, el)

	all, err := r.ResolveAll(ctx, ByCSS(".missing"))
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestResolver_DocumentOrderAndNoCache(t *testing.T) {
	drv := drivertest.New()
	r := NewResolver(drv, zaptest.NewLogger(t))
	ctx := context.Background()

	first, second := drivertest.NewElement("first"), drivertest.NewElement("second")
	drv.Set(drivertest.CSS(".row"), first, second)

	all, err := r.ResolveAll(ctx, ByCSS(".row"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, first, all[0])
	assert.Same(t, second, all[1])

	el, found, err := r.Resolve(ctx, ByCSS(".row"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, first, el)

	// A re-render replaces the nodes; the resolver must see the new ones.
	replacement := drivertest.NewElement("replacement")
	drv.Set(drivertest.CSS(".row"), replacement)
	el, _, err = r.Resolve(ctx, ByCSS(".row"))
	require.NoError(t, err)
	assert.Same(t, replacement, el)
	assert.Equal(t, 3, drv.Finds)
}

func TestResolver_TransientFailuresBecomeAbsence(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	drv := drivertest.New()
	r := NewResolver(drv, zap.New(core))

	for _, cause := range []error{driver.ErrStaleElement, driver.ErrNoSuchElement, errors.New("cdp: node not found")} {
		drv.Fail(drivertest.CSS(".flaky"), cause)
		_, found, err := r.Resolve(context.Background(), ByCSS(".flaky"))
		require.NoError(t, err)
		assert.False(t, found)
	}

	entries := logs.FilterMessageSnippet("transiently").All()
	require.Len(t, entries, 3)
	var tq *TransientQueryError
	require.ErrorAs(t, entries[0].Context[0].Interface.(error), &tq)
	assert.ErrorIs(t, tq, driver.ErrStaleElement)
	assert.Equal(t, ByCSS(".flaky"), tq.Locator)
}

func TestResolver_FatalErrorsPropagate(t *testing.T) {
	drv := drivertest.New()
	r := NewResolver(drv, zaptest.NewLogger(t))

	drv.Closed = true
	_, _, err := r.Resolve(context.Background(), ByCSS(".x"))
	assert.ErrorIs(t, err, driver.ErrSessionClosed)

	drv.Closed = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.ResolveAll(ctx, ByCSS(".x"))
	assert.ErrorIs(t, err, context.Canceled)

	drv.Fail(drivertest.XPath("//x"), driver.ErrUnsupported)
	_, err = r.ResolveAll(context.Background(), ByXPath("//x"))
	assert.ErrorIs(t, err, driver.ErrUnsupported)
}

func TestResolver_ResolveWithin(t *testing.T) {
	r := NewResolver(drivertest.New(), zaptest.NewLogger(t))
	price := drivertest.NewElement("price").WithText("$10.00")
	row := drivertest.NewElement("row").Add(drivertest.CSS(".price"), price)

	got, err := r.ResolveWithin(context.Background(), row, ByCSS(".price"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, price, got[0])

	got, err = r.ResolveWithin(context.Background(), row, ByCSS(".qty"))
	require.NoError(t, err)
	assert.Empty(t, got)

	row.Stale = true
	got, err = r.ResolveWithin(context.Background(), row, ByCSS(".price"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_QueriesDriverOnEveryCall(t *testing.T) {
	drv := new(mocks.MockDriver)
	el := new(mocks.MockElement)
	drv.On("Find", mock.Anything, drivertest.CSS(`[id="total"]`)).Return([]driver.Element{el}, nil).Times(3)
	r := NewResolver(drv, zaptest.NewLogger(t))

	for range 3 {
		got, found, err := r.Resolve(context.Background(), ByID("total"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Same(t, el, got)
	}
	drv.AssertExpectations(t)
	drv.AssertNumberOfCalls(t, "Find", 3)
}

func TestResolver_ResolveWithinFatal(t *testing.T) {
	row := new(mocks.MockElement)
	row.On("FindAll", mock.Anything, drivertest.CSS(".price")).Return(nil, driver.ErrSessionClosed).Once()
	r := NewResolver(new(mocks.MockDriver), zaptest.NewLogger(t))

	_, err := r.ResolveWithin(context.Background(), row, ByCSS(".price"))
	assert.ErrorIs(t, err, driver.ErrSessionClosed)
	row.AssertExpectations(t)
}
