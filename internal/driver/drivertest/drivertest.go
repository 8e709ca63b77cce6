// internal/driver/drivertest/drivertest.go
// Package drivertest provides a scriptable, in-memory driver.Driver for tests. Pages are
// assembled by registering elements against the exact queries the locator package
// produces, and time-dependent behaviour is scheduled on a fake Clock.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// CSS and XPath build queries for registration.
func CSS(sel string) driver.Query    { return driver.Query{Strategy: driver.ByCSS, Selector: sel} }
func XPath(expr string) driver.Query { return driver.Query{Strategy: driver.ByXPath, Selector: expr} }

// ScriptCall records one ExecuteScript invocation.
type ScriptCall struct {
	Source string
	Args   []any
}

// ScriptHandler answers scripts whose source contains the registered fragment.
type ScriptHandler func(args []any) (json.RawMessage, error)

// Driver is the fake browser. The zero value is not usable; call New.
type Driver struct {
	URL        string
	Screenshot []byte
	// Closed makes every call fail with driver.ErrSessionClosed.
	Closed bool

	nodes    map[driver.Query][]*Element
	failures map[driver.Query]error
	handlers []scriptRoute
	Scripts  []ScriptCall
	Finds    int
}

type scriptRoute struct {
	fragment string
	handle   ScriptHandler
}

// New returns an empty page at about:blank.
func New() *Driver {
	return &Driver{
		URL:      "about:blank",
		nodes:    make(map[driver.Query][]*Element),
		failures: make(map[driver.Query]error),
	}
}

// Set registers els as the result of q, replacing earlier registrations.
func (d *Driver) Set(q driver.Query, els ...*Element) {
	d.nodes[q] = els
}

// Remove makes q match nothing.
func (d *Driver) Remove(q driver.Query) {
	delete(d.nodes, q)
}

// Fail makes Find(q) return err until cleared with Fail(q, nil).
func (d *Driver) Fail(q driver.Query, err error) {
	if err == nil {
		delete(d.failures, q)
		return
	}
	d.failures[q] = err
}

// HandleScript routes scripts containing fragment to h. Later registrations win.
func (d *Driver) HandleScript(fragment string, h ScriptHandler) {
	d.handlers = append([]scriptRoute{{fragment: fragment, handle: h}}, d.handlers...)
}

// ScriptsContaining returns the recorded calls whose source contains fragment.
func (d *Driver) ScriptsContaining(fragment string) []ScriptCall {
	var out []ScriptCall
	for _, c := range d.Scripts {
		if strings.Contains(c.Source, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (d *Driver) Find(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.Finds++
	if err, ok := d.failures[q]; ok {
		return nil, err
	}
	return asElements(d.nodes[q]), nil
}

func (d *Driver) ExecuteScript(ctx context.Context, source string, args ...any) (json.RawMessage, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.Scripts = append(d.Scripts, ScriptCall{Source: source, Args: args})
	for _, a := range args {
		if el, ok := a.(*Element); ok && el.Stale {
			return nil, driver.ErrStaleElement
		}
	}
	for _, r := range d.handlers {
		if strings.Contains(source, r.fragment) {
			return r.handle(args)
		}
	}
	return json.RawMessage("null"), nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	if err := d.check(ctx); err != nil {
		return "", err
	}
	return d.URL, nil
}

func (d *Driver) Capture(ctx context.Context) ([]byte, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	if d.Screenshot == nil {
		return nil, driver.ErrUnsupported
	}
	return d.Screenshot, nil
}

func (d *Driver) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Closed {
		return driver.ErrSessionClosed
	}
	return nil
}

// Element is a fake node. Fields may be mutated between polls (typically from a Clock
// event) to simulate asynchronous UI changes.
type Element struct {
	Name      string
	Displayed bool
	Enabled   bool
	Obscured  bool
	Stale     bool
	TextValue string
	// Value is what Clear/SendKeys produce.
	Value string

	// ClickErr, ClearErr and SendKeysErr are returned by the corresponding action when set.
	ClickErr    error
	ClearErr    error
	SendKeysErr error
	// OnClick runs after a successful native click.
	OnClick func()
	// OnText runs at the start of every Text call.
	OnText func()

	Clicks   int
	children map[driver.Query][]*Element
}

// NewElement returns a displayed, enabled, unobscured element.
func NewElement(name string) *Element {
	return &Element{Name: name, Displayed: true, Enabled: true}
}

// WithText sets the visible text and returns e.
func (e *Element) WithText(s string) *Element {
	e.TextValue = s
	return e
}

// Add registers children under q relative to e.
func (e *Element) Add(q driver.Query, children ...*Element) *Element {
	if e.children == nil {
		e.children = make(map[driver.Query][]*Element)
	}
	e.children[q] = append(e.children[q], children...)
	return e
}

func (e *Element) String() string { return "fake<" + e.Name + ">" }

func (e *Element) IsDisplayed(ctx context.Context) (bool, error) {
	if err := e.live(ctx); err != nil {
		return false, err
	}
	return e.Displayed, nil
}

func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	if err := e.live(ctx); err != nil {
		return false, err
	}
	return e.Enabled, nil
}

func (e *Element) IsObscured(ctx context.Context) (bool, error) {
	if err := e.live(ctx); err != nil {
		return false, err
	}
	return e.Obscured, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if e.OnText != nil {
		e.OnText()
	}
	if err := e.live(ctx); err != nil {
		return "", err
	}
	if !e.Displayed {
		return "", nil
	}
	return e.TextValue, nil
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	if e.ClickErr != nil {
		return e.ClickErr
	}
	if e.Obscured {
		return driver.ErrClickIntercepted
	}
	if !e.Displayed || !e.Enabled {
		return driver.ErrNotInteractable
	}
	e.Clicks++
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	if e.ClearErr != nil {
		return e.ClearErr
	}
	if !e.Enabled {
		return driver.ErrNotInteractable
	}
	e.Value = ""
	return nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	if e.SendKeysErr != nil {
		return e.SendKeysErr
	}
	if !e.Enabled {
		return driver.ErrNotInteractable
	}
	e.Value += text
	return nil
}

func (e *Element) FindAll(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	if err := e.live(ctx); err != nil {
		return nil, err
	}
	return asElements(e.children[q]), nil
}

func (e *Element) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Stale {
		return driver.ErrStaleElement
	}
	return nil
}

func asElements(els []*Element) []driver.Element {
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}

// Clock is a deterministic wait.Clock. Time moves only when Sleep is called, and events
// scheduled with At fire as soon as the clock reaches their offset.
type Clock struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	events []event
}

type event struct {
	at time.Duration
	fn func()
}

// NewClock returns a clock at a fixed instant.
func NewClock() *Clock {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Clock{start: t, now: t}
}

// At schedules fn to run once the clock is at least offset past its start.
func (c *Clock) At(offset time.Duration, fn func()) {
	c.mu.Lock()
	c.events = append(c.events, event{at: offset, fn: fn})
	sort.SliceStable(c.events, func(i, j int) bool { return c.events[i].at < c.events[j].at })
	c.mu.Unlock()
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Elapsed reports the total fake time since NewClock.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for len(c.events) > 0 && c.events[0].at <= c.now.Sub(c.start) {
		due = append(due, c.events[0].fn)
		c.events = c.events[1:]
	}
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
	return nil
}

// MustJSON marshals v for script handlers.
func MustJSON(v any) json.RawMessage {
	b, err := jsoniter.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("drivertest: %v", err))
	}
	return b
}
