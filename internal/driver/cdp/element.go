// internal/driver/cdp/element.go
package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// Element is a remote object handle for one DOM element.
type Element struct {
	d  *Driver
	id runtime.RemoteObjectID
}

func (e *Element) String() string { return "cdp<" + string(e.id) + ">" }

// hitTest is the result of hitFn.
type hitTest struct {
	State string  `json:"state"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	By    string  `json:"by"`
}

func (e *Element) IsDisplayed(ctx context.Context) (bool, error) {
	var shown bool
	return shown, e.eval(ctx, displayedFn, &shown)
}

func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	return enabled, e.eval(ctx, enabledFn, &enabled)
}

// IsObscured hit-tests the element where it currently is without scrolling the page. A
// center outside the viewport has nothing to hit and reads as not obscured.
func (e *Element) IsObscured(ctx context.Context) (bool, error) {
	var hit hitTest
	if err := e.eval(ctx, hitFn, &hit, false); err != nil {
		return false, err
	}
	return hit.State == "obscured", nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var text string
	return text, e.eval(ctx, textFn, &text)
}

// Click scrolls the element into view and dispatches a real left click at its center
// after checking that the center is not covered by another element.
func (e *Element) Click(ctx context.Context) error {
	var hit hitTest
	if err := e.eval(ctx, hitFn, &hit, true); err != nil {
		return err
	}
	switch hit.State {
	case "hidden":
		return fmt.Errorf("%w: element has no visible box", driver.ErrNotInteractable)
	case "disabled":
		return fmt.Errorf("%w: element is disabled", driver.ErrNotInteractable)
	case "obscured":
		return fmt.Errorf("%w: <%s> at (%.0f, %.0f)", driver.ErrClickIntercepted, hit.By, hit.X, hit.Y)
	}

	return e.d.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, hit.X, hit.Y),
		input.DispatchMouseEvent(input.MousePressed, hit.X, hit.Y).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, hit.X, hit.Y).WithButton(input.Left).WithClickCount(1),
	)
}

func (e *Element) Clear(ctx context.Context) error {
	var cleared bool
	if err := e.eval(ctx, clearFn, &cleared); err != nil {
		return err
	}
	if !cleared {
		return fmt.Errorf("%w: element is disabled or read-only", driver.ErrNotInteractable)
	}
	return nil
}

// SendKeys focuses the element and types text as key events.
func (e *Element) SendKeys(ctx context.Context, text string) error {
	var focused bool
	if err := e.eval(ctx, focusFn, &focused); err != nil {
		return err
	}
	if !focused {
		return fmt.Errorf("%w: element cannot take focus", driver.ErrNotInteractable)
	}
	return e.d.run(ctx, chromedp.KeyEvent(text))
}

func (e *Element) FindAll(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	return e.d.find(ctx, e.id, q)
}

func (e *Element) eval(ctx context.Context, fn string, out any, args ...any) error {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		arg, err := valueArg(a)
		if err != nil {
			return err
		}
		callArgs = append(callArgs, arg)
	}
	res, err := e.d.callOn(ctx, e.id, fn, true, callArgs...)
	if err != nil {
		return err
	}
	return decode(res, out)
}
