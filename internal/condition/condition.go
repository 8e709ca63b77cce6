// internal/condition/condition.go
// Package condition holds the predicates the wait engine polls. Every constructor returns
// a wait.Condition whose Check never fails for "not found" or other transient driver
// trouble: those read as false so the next poll can try again. Only fatal session errors
// escape.
package condition

import (
	"context"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/wait"
)

// animationsSettledScript is true once the document finished loading and no Web
// Animation is still running.
const animationsSettledScript = `
	if (document.readyState !== 'complete') { return false; }
	if (typeof document.getAnimations !== 'function') { return true; }
	return document.getAnimations().every(function (a) { return a.playState !== 'running'; });`

// Library builds conditions over one session's driver.
type Library struct {
	drv      driver.Driver
	resolver *locator.Resolver
}

// New creates a Library.
func New(drv driver.Driver, resolver *locator.Resolver) *Library {
	return &Library{drv: drv, resolver: resolver}
}

// Probe is a point-in-time reading of the first element a locator matches.
type Probe struct {
	Element   driver.Element
	Found     bool
	Displayed bool
	Enabled   bool
	Obscured  bool
}

// Clickable reports whether a native click aimed at the element would reach it.
func (p Probe) Clickable() bool {
	return p.Found && p.Displayed && p.Enabled && !p.Obscured
}

// Probe resolves loc and reads its interactability. Attributes are read in order and
// the first transient failure stops the probe, leaving later flags false. Obscuring is
// only tested for elements that are visible and enabled.
func (l *Library) Probe(ctx context.Context, loc locator.Locator) (Probe, error) {
	el, found, err := l.resolver.Resolve(ctx, loc)
	if err != nil || !found {
		return Probe{}, swallow(err)
	}
	p := Probe{Element: el, Found: true}

	if p.Displayed, err = el.IsDisplayed(ctx); err != nil {
		return Probe{Element: el, Found: true}, swallow(err)
	}
	if !p.Displayed {
		return p, nil
	}
	if p.Enabled, err = el.IsEnabled(ctx); err != nil {
		p.Enabled = false
		return p, swallow(err)
	}
	if !p.Enabled {
		return p, nil
	}
	if p.Obscured, err = el.IsObscured(ctx); err != nil {
		// An unknown hit-test result must not count as clickable.
		p.Obscured = true
		return p, swallow(err)
	}
	return p, nil
}

// Visible holds when the first match of loc is displayed.
func (l *Library) Visible(loc locator.Locator) wait.Condition {
	return wait.Condition{
		Name: "visible(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			p, err := l.Probe(ctx, loc)
			return p.Displayed, err
		},
	}
}

// Enabled holds when the first match of loc is displayed and enabled.
func (l *Library) Enabled(loc locator.Locator) wait.Condition {
	return wait.Condition{
		Name: "enabled(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			p, err := l.Probe(ctx, loc)
			return p.Displayed && p.Enabled, err
		},
	}
}

// Clickable holds when the first match of loc is displayed, enabled and would receive a
// click aimed at its centre.
func (l *Library) Clickable(loc locator.Locator) wait.Condition {
	return wait.Condition{
		Name: "clickable(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			p, err := l.Probe(ctx, loc)
			return p.Clickable(), err
		},
	}
}

// PresentAll holds when loc matches at least one element, displayed or not.
func (l *Library) PresentAll(loc locator.Locator) wait.Condition {
	return wait.Condition{
		Name: "present(" + loc.String() + ")",
		Check: func(ctx context.Context) (bool, error) {
			els, err := l.resolver.ResolveAll(ctx, loc)
			if err != nil {
				return false, swallow(err)
			}
			return len(els) > 0, nil
		},
	}
}

// AnyVisible holds when any of locs has a displayed first match. Locators are checked in
// declaration order and evaluation stops at the first hit.
func (l *Library) AnyVisible(locs ...locator.Locator) wait.Condition {
	names := make([]string, len(locs))
	for i, loc := range locs {
		names[i] = loc.String()
	}
	return wait.Condition{
		Name: "anyVisible(" + strings.Join(names, " | ") + ")",
		Check: func(ctx context.Context) (bool, error) {
			for _, loc := range locs {
				p, err := l.Probe(ctx, loc)
				if err != nil {
					return false, err
				}
				if p.Displayed {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// URLContains holds when the current URL contains fragment.
func (l *Library) URLContains(fragment string) wait.Condition {
	return l.URLContainsAny(fragment)
}

// URLContainsAny holds when the current URL contains any of fragments.
func (l *Library) URLContainsAny(fragments ...string) wait.Condition {
	name := fmt.Sprintf("urlContainsAny(%q)", fragments)
	if len(fragments) == 1 {
		name = fmt.Sprintf("urlContains(%q)", fragments[0])
	}
	return wait.Condition{
		Name: name,
		Check: func(ctx context.Context) (bool, error) {
			u, err := l.drv.CurrentURL(ctx)
			if err != nil {
				return false, swallow(err)
			}
			for _, f := range fragments {
				if strings.Contains(u, f) {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// AnimationsSettled holds once the page has loaded and no animation is running. It is
// the only way the core waits out transitions; nothing sleeps for a fixed time.
func (l *Library) AnimationsSettled() wait.Condition {
	return wait.Condition{
		Name: "animationsSettled",
		Check: func(ctx context.Context) (bool, error) {
			raw, err := l.drv.ExecuteScript(ctx, animationsSettledScript)
			if err != nil {
				return false, swallow(err)
			}
			var settled bool
			if err := json.Unmarshal(raw, &settled); err != nil {
				return false, nil
			}
			return settled, nil
		},
	}
}

// swallow keeps fatal errors and drops everything else.
func swallow(err error) error {
	if driver.IsFatal(err) {
		return err
	}
	return nil
}
