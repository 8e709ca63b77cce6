// internal/interact/executor.go
// Package interact performs clicks, typing and dropdown selection against a page that
// keeps changing underneath it. Each action first waits for the state it needs, acts on
// the exact handle that was observed in that state, and falls back to a scripted
// equivalent when the native action is blocked.
package interact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/condition"
	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/wait"
)

const (
	clickScript = `arguments[0].click(); return true;`

	scrollIntoViewScript = `arguments[0].scrollIntoView({block: 'center', inline: 'nearest'}); return true;`

	// setValueScript goes through the native value setter so framework-managed inputs
	// notice the change, then fires input and change. No key events are produced.
	setValueScript = `
		var el = arguments[0], value = arguments[1];
		if (typeof el.focus === 'function') { el.focus(); }
		var proto = Object.getPrototypeOf(el);
		var desc = proto && Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(el, value); } else { el.value = value; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return el.value;`

	selectOptionScript = `
		var select = arguments[0], option = arguments[1];
		option.selected = true;
		select.dispatchEvent(new Event('input', {bubbles: true}));
		select.dispatchEvent(new Event('change', {bubbles: true}));
		return option.selected;`

	scrollToTopScript = `window.scrollTo(0, 0); return true;`
)

var optionLocator = locator.ByCSS("option")

// Config holds the executor's budgets.
type Config struct {
	// DefaultTimeout bounds SelectByVisibleText's wait for its control.
	DefaultTimeout time.Duration
	// SecondaryTimeout bounds Type's wait for a transiently disabled field.
	SecondaryTimeout time.Duration
	// ObscuredGrace is how long a visible, enabled click target may stay covered by
	// another element before the scripted click is used. Zero disables the early
	// fallback; a target still covered when the click budget runs out is always
	// clicked by script.
	ObscuredGrace time.Duration
}

// DefaultConfig returns the budgets used when none are configured.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:   10 * time.Second,
		SecondaryTimeout: 5 * time.Second,
		ObscuredGrace:    time.Second,
	}
}

// Executor runs interactions for one session. Like the session, it must only be used
// from one goroutine.
type Executor struct {
	drv      driver.Driver
	resolver *locator.Resolver
	lib      *condition.Library
	engine   *wait.Engine
	cfg      Config
	logger   *zap.Logger
}

// New creates an Executor.
func New(drv driver.Driver, resolver *locator.Resolver, lib *condition.Library, engine *wait.Engine, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		drv:      drv,
		resolver: resolver,
		lib:      lib,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.Named("interact"),
	}
}

// Click waits up to timeout for loc to become clickable and clicks the handle that was
// observed clickable. An intercepted or refused native click, or a target that stays
// covered past the grace period, is retried once as a scripted click.
func (x *Executor) Click(ctx context.Context, loc locator.Locator, timeout time.Duration) error {
	var (
		target       driver.Element
		covered      driver.Element
		coveredSince time.Time
		useFallback  bool
	)
	clock := x.engine.Clock()
	cond := wait.Condition{
		Name: "clickable(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			p, err := x.lib.Probe(ctx, loc)
			if err != nil {
				return false, err
			}
			switch {
			case p.Clickable():
				target, covered = p.Element, nil
				return true, nil
			case p.Found && p.Displayed && p.Enabled:
				now := clock.Now()
				if covered == nil {
					coveredSince = now
				}
				covered = p.Element
				if x.cfg.ObscuredGrace > 0 && now.Sub(coveredSince) >= x.cfg.ObscuredGrace {
					target, useFallback = p.Element, true
					return true, nil
				}
			default:
				covered = nil
			}
			return false, nil
		},
	}

	err := x.engine.Wait(ctx, cond, x.engine.Budget(timeout))
	var te *wait.TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &te) && covered != nil:
		target, useFallback = covered, true
	default:
		return err
	}

	log := x.logger.With(zap.Stringer("locator", loc))
	if useFallback {
		log.Info("Click target stayed covered by another element; using scripted click.")
		return x.scriptClick(ctx, loc, target, driver.ErrClickIntercepted)
	}

	nativeErr := target.Click(ctx)
	if nativeErr == nil {
		return nil
	}
	if driver.IsFatal(nativeErr) {
		return nativeErr
	}
	log.Info("Native click failed; using scripted click.", zap.Error(nativeErr))
	return x.scriptClick(ctx, loc, target, nativeErr)
}

func (x *Executor) scriptClick(ctx context.Context, loc locator.Locator, el driver.Element, nativeErr error) error {
	if _, err := x.drv.ExecuteScript(ctx, clickScript, el); err != nil {
		if driver.IsFatal(err) {
			return err
		}
		return &InteractionBlockedError{Action: "click", Locator: loc, Native: nativeErr, Fallback: err}
	}
	return nil
}

// Type waits up to timeout for loc to become visible, then clears it and sends text.
// A field that refuses input gets SecondaryTimeout to become enabled and one more
// attempt. If that still fails the value is assigned by script, which fires input and
// change events but no key events, so listeners bound to keydown/keyup do not run.
func (x *Executor) Type(ctx context.Context, loc locator.Locator, text string, timeout time.Duration) error {
	target, err := x.capture(ctx, "visible", loc, timeout, func(p condition.Probe) bool { return p.Displayed })
	if err != nil {
		return err
	}
	log := x.logger.With(zap.Stringer("locator", loc))

	if _, err := x.drv.ExecuteScript(ctx, scrollIntoViewScript, target); err != nil && driver.IsFatal(err) {
		return err
	}

	nativeErr := typeInto(ctx, target, text)
	if nativeErr == nil {
		return nil
	}
	if driver.IsFatal(nativeErr) {
		return nativeErr
	}

	if errors.Is(nativeErr, driver.ErrNotInteractable) {
		log.Debug("Field refused input; waiting for it to become enabled.", zap.Error(nativeErr))
		enabled, werr := x.capture(ctx, "enabled", loc, x.cfg.SecondaryTimeout, func(p condition.Probe) bool {
			return p.Displayed && p.Enabled
		})
		switch {
		case werr == nil:
			target = enabled
			if nativeErr = typeInto(ctx, target, text); nativeErr == nil {
				return nil
			}
			if driver.IsFatal(nativeErr) {
				return nativeErr
			}
		case driver.IsFatal(werr):
			return werr
		}
	}

	// The waits above keep re-querying the page, which may have replaced the field.
	current, found, err := x.resolver.Resolve(ctx, loc)
	switch {
	case err != nil && driver.IsFatal(err):
		return err
	case err == nil && found:
		target = current
	}

	log.Info("Direct typing failed; assigning value by script.", zap.Error(nativeErr))
	if _, err := x.drv.ExecuteScript(ctx, setValueScript, target, text); err != nil {
		if driver.IsFatal(err) {
			return err
		}
		return &InteractionBlockedError{Action: "type", Locator: loc, Native: nativeErr, Fallback: err}
	}
	return nil
}

func typeInto(ctx context.Context, el driver.Element, text string) error {
	if err := el.Clear(ctx); err != nil {
		return err
	}
	return el.SendKeys(ctx, text)
}

// SelectByVisibleText picks the option of the dropdown at loc whose whitespace-normalized
// label equals text. The control gets the default budget to become visible; a missing
// option is reported immediately with the labels that do exist.
func (x *Executor) SelectByVisibleText(ctx context.Context, loc locator.Locator, text string) error {
	control, err := x.capture(ctx, "visible", loc, x.cfg.DefaultTimeout, func(p condition.Probe) bool { return p.Displayed })
	if err != nil {
		return err
	}
	options, err := x.resolver.ResolveWithin(ctx, control, optionLocator)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(options))
	for _, opt := range options {
		raw, err := opt.Text(ctx)
		if err != nil {
			if driver.IsFatal(err) {
				return err
			}
			continue
		}
		label := normalizeSpace(raw)
		if label != text {
			labels = append(labels, label)
			continue
		}

		enabled, err := opt.IsEnabled(ctx)
		if driver.IsFatal(err) {
			return err
		}
		if err == nil && !enabled {
			return &InteractionBlockedError{
				Action:  "select",
				Locator: loc,
				Native:  fmt.Errorf("option %q is disabled: %w", text, driver.ErrNotInteractable),
			}
		}
		if _, err := x.drv.ExecuteScript(ctx, selectOptionScript, control, opt); err != nil {
			if driver.IsFatal(err) {
				return err
			}
			return &InteractionBlockedError{Action: "select", Locator: loc, Fallback: err}
		}
		x.logger.Debug("Option selected.", zap.Stringer("locator", loc), zap.String("label", text))
		return nil
	}
	return &SelectionNotFoundError{Locator: loc, Text: text, Available: labels}
}

// ScrollToTop scrolls the window back to the origin.
func (x *Executor) ScrollToTop(ctx context.Context) error {
	if _, err := x.drv.ExecuteScript(ctx, scrollToTopScript); err != nil {
		return fmt.Errorf("scrolling to top: %w", err)
	}
	return nil
}

// capture waits for loc to satisfy pred and returns the handle observed satisfying it.
func (x *Executor) capture(ctx context.Context, kind string, loc locator.Locator, timeout time.Duration, pred func(condition.Probe) bool) (driver.Element, error) {
	var el driver.Element
	cond := wait.Condition{
		Name: kind + "(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			p, err := x.lib.Probe(ctx, loc)
			if err != nil || !pred(p) {
				return false, err
			}
			el = p.Element
			return true, nil
		},
	}
	if err := x.engine.Wait(ctx, cond, x.engine.Budget(timeout)); err != nil {
		return nil, err
	}
	return el, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
