// internal/driver/cdp/driver.go
// Package cdp implements driver.Driver over the Chrome DevTools Protocol with chromedp.
// Elements are held as remote object IDs and every element operation runs a small
// function on that object with Runtime.callFunctionOn, so a detached node is detected
// inside the page and reported as driver.ErrStaleElement.
//
// Handles live in one object group. Each top-level Driver.Find releases the group, so an
// Element stays usable until the next Driver.Find and afterwards reads as stale.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

const (
	// DefaultCallTimeout bounds a single DevTools round trip.
	DefaultCallTimeout = 10 * time.Second

	objectGroup = "cartprobe"
	staleMarker = "cartprobe:stale-element"
)

// guard opens every element function. A node that left the document is stale.
const guard = `if (!this.isConnected) { throw new Error("` + staleMarker + `"); }`

const (
	queryFn = `function(strategy, selector) {
	if (this.nodeType === Node.ELEMENT_NODE && !this.isConnected) { throw new Error("` + staleMarker + `"); }
	if (strategy === "xpath") {
		const snap = document.evaluate(selector, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n.nodeType === Node.ELEMENT_NODE) { out.push(n); }
		}
		return out;
	}
	return Array.from(this.querySelectorAll(selector));
}`

	lengthFn = `function() { return this.length; }`
	indexFn  = `function(i) { return this[i]; }`

	displayedFn = `function() {
	` + guard + `
	const style = window.getComputedStyle(this);
	if (style.display === "none" || style.visibility === "hidden" || style.visibility === "collapse") { return false; }
	if (Number(style.opacity) === 0) { return false; }
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

	enabledFn = `function() {
	` + guard + `
	return !this.matches(":disabled");
}`

	textFn = `function() {
	` + guard + `
	const t = this.innerText !== undefined ? this.innerText : this.textContent;
	return t || "";
}`

	// hitFn only scrolls when asked to, so a read-only hit test leaves the page alone.
	hitFn = `function(scroll) {
	` + guard + `
	const first = this.getBoundingClientRect();
	if (scroll && (first.top < 0 || first.left < 0 || first.bottom > window.innerHeight || first.right > window.innerWidth)) {
		this.scrollIntoView({block: "center", inline: "center"});
	}
	const style = window.getComputedStyle(this);
	const r = this.getBoundingClientRect();
	if (style.display === "none" || style.visibility === "hidden" || r.width === 0 || r.height === 0) {
		return {state: "hidden"};
	}
	if (this.matches(":disabled")) { return {state: "disabled"}; }
	const x = r.left + r.width / 2;
	const y = r.top + r.height / 2;
	const hit = document.elementFromPoint(x, y);
	if (hit !== null && hit !== this && !this.contains(hit)) {
		return {state: "obscured", x: x, y: y, by: hit.tagName.toLowerCase()};
	}
	return {state: "ok", x: x, y: y};
}`

	clearFn = `function() {
	` + guard + `
	if (this.matches(":disabled") || this.readOnly === true) { return false; }
	this.focus();
	if (this.isContentEditable) { this.textContent = ""; } else { this.value = ""; }
	this.dispatchEvent(new Event("input", {bubbles: true}));
	this.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
}`

	focusFn = `function() {
	` + guard + `
	if (this.matches(":disabled") || this.readOnly === true) { return false; }
	this.focus();
	return document.activeElement === this || this.contains(document.activeElement);
}`
)

// Driver drives one Chrome tab. tabCtx must come from chromedp.NewContext; cancelling it
// ends the session and every later call fails with driver.ErrSessionClosed.
type Driver struct {
	ctx         context.Context
	logger      *zap.Logger
	callTimeout time.Duration
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Element = (*Element)(nil)
)

// New wraps an existing chromedp tab context.
func New(tabCtx context.Context, logger *zap.Logger) *Driver {
	return &Driver{
		ctx:         tabCtx,
		logger:      logger.Named("cdp"),
		callTimeout: DefaultCallTimeout,
	}
}

// Navigate loads url and waits for the document body.
func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.logger.Debug("Navigating.", zap.String("url", url))
	if err := d.runFor(ctx, timeout, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (d *Driver) Find(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	d.releaseGroup()
	root, err := d.evaluateObject(ctx, "document")
	if err != nil {
		return nil, err
	}
	defer d.release(root)
	return d.find(ctx, root, q)
}

func (d *Driver) ExecuteScript(ctx context.Context, source string, args ...any) (json.RawMessage, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		if el, ok := a.(*Element); ok {
			callArgs = append(callArgs, &runtime.CallArgument{ObjectID: el.id})
			continue
		}
		arg, err := valueArg(a)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", driver.ErrScript, i, err)
		}
		callArgs = append(callArgs, arg)
	}

	window, err := d.evaluateObject(ctx, "window")
	if err != nil {
		return nil, err
	}
	defer d.release(window)
	res, err := d.callOn(ctx, window, "function() {\n"+source+"\n}", true, callArgs...)
	if err != nil {
		return nil, err
	}
	if res.Type == runtime.TypeUndefined || len(res.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return append(json.RawMessage(nil), res.Value...), nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *Driver) Capture(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// find runs q against the subtree of root and pins each match as its own remote object.
func (d *Driver) find(ctx context.Context, root runtime.RemoteObjectID, q driver.Query) ([]driver.Element, error) {
	strategy, err := valueArg(string(q.Strategy))
	if err != nil {
		return nil, err
	}
	selector, err := valueArg(q.Selector)
	if err != nil {
		return nil, err
	}

	list, err := d.callOn(ctx, root, queryFn, false, strategy, selector)
	if err != nil {
		if errors.Is(err, driver.ErrScript) && strings.Contains(err.Error(), "SyntaxError") {
			return nil, fmt.Errorf("%w: invalid %s selector %q", driver.ErrUnsupported, q.Strategy, q.Selector)
		}
		return nil, err
	}
	defer d.release(list.ObjectID)

	var n int
	res, err := d.callOn(ctx, list.ObjectID, lengthFn, true)
	if err != nil {
		return nil, err
	}
	if err := decode(res, &n); err != nil {
		return nil, err
	}

	els := make([]driver.Element, 0, n)
	for i := 0; i < n; i++ {
		idx, _ := valueArg(i)
		item, err := d.callOn(ctx, list.ObjectID, indexFn, false, idx)
		if err != nil {
			return nil, err
		}
		els = append(els, &Element{d: d, id: item.ObjectID})
	}
	return els, nil
}

// evaluateObject evaluates a global expression and returns a handle to the result.
func (d *Driver) evaluateObject(ctx context.Context, expr string) (runtime.RemoteObjectID, error) {
	var (
		res *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	)
	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		res, exc, err = runtime.Evaluate(expr).WithObjectGroup(objectGroup).Do(c)
		return err
	}))
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exceptionError(exc)
	}
	return res.ObjectID, nil
}

// callOn calls fn with this bound to target.
func (d *Driver) callOn(ctx context.Context, target runtime.RemoteObjectID, fn string, byValue bool, args ...*runtime.CallArgument) (*runtime.RemoteObject, error) {
	var (
		res *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	)
	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		res, exc, err = runtime.CallFunctionOn(fn).
			WithObjectID(target).
			WithArguments(args).
			WithReturnByValue(byValue).
			WithAwaitPromise(true).
			WithSilent(true).
			WithObjectGroup(objectGroup).
			Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exceptionError(exc)
	}
	return res, nil
}

// release frees a temporary remote object. Failures only leak until the page unloads.
func (d *Driver) release(id runtime.RemoteObjectID) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()
	if err := d.run(ctx, runtime.ReleaseObject(id)); err != nil {
		d.logger.Debug("Failed to release remote object.", zap.Error(err))
	}
}

// releaseGroup drops every handle handed out since the last top-level Find.
func (d *Driver) releaseGroup() {
	if d.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()
	if err := d.run(ctx, runtime.ReleaseObjectGroup(objectGroup)); err != nil {
		d.logger.Debug("Failed to release object group.", zap.Error(err))
	}
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	return d.runFor(ctx, d.callTimeout, actions...)
}

// runFor executes actions on the tab. The run is bounded by timeout and aborted as soon
// as ctx is done; errors come back as driver sentinels.
func (d *Driver) runFor(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ctx.Err() != nil {
		return driver.ErrSessionClosed
	}

	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	return d.classify(ctx, runCtx, timeout, err)
}

func (d *Driver) classify(ctx, runCtx context.Context, timeout time.Duration, err error) error {
	msg := err.Error()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case d.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", driver.ErrSessionClosed, err)
	case errors.Is(err, chromedp.ErrChannelClosed), errors.Is(err, chromedp.ErrInvalidContext), containsAny(msg, closedMessages):
		return fmt.Errorf("%w: %v", driver.ErrSessionClosed, err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// The caller still has time; report a non-fatal failure so polling continues.
		return fmt.Errorf("%w: devtools call exceeded %v", driver.ErrScript, timeout)
	case containsAny(msg, staleMessages):
		return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
	default:
		return fmt.Errorf("%w: %v", driver.ErrScript, err)
	}
}

var (
	staleMessages = []string{
		"Could not find object with given id",
		"Cannot find context with specified id",
		"Execution context was destroyed",
		"Inspected target navigated or closed",
		"No node with given id",
	}
	closedMessages = []string{
		"Target closed",
		"target closed",
		"No target with given id",
		"websocket: close",
	}
)

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func exceptionError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	if strings.Contains(msg, staleMarker) {
		return driver.ErrStaleElement
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return fmt.Errorf("%w: %s", driver.ErrScript, msg)
}

func valueArg(v any) (*runtime.CallArgument, error) {
	b, err := jsoniter.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &runtime.CallArgument{Value: b}, nil
}

func decode(res *runtime.RemoteObject, out any) error {
	if res == nil || len(res.Value) == 0 {
		return fmt.Errorf("%w: script returned no value", driver.ErrScript)
	}
	if err := jsoniter.Unmarshal([]byte(res.Value), out); err != nil {
		return fmt.Errorf("%w: unexpected script result: %v", driver.ErrScript, err)
	}
	return nil
}
