// internal/interact/errors.go
package interact

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/cartprobe/internal/locator"
)

// InteractionBlockedError means both the native action and its scripted fallback failed
// against an element that was otherwise found.
type InteractionBlockedError struct {
	Action  string
	Locator locator.Locator
	// Native is the failure of the direct interaction, if one was attempted.
	Native error
	// Fallback is the failure of the scripted path, if one was attempted.
	Fallback error
}

func (e *InteractionBlockedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s blocked", e.Action, e.Locator)
	if e.Native != nil {
		fmt.Fprintf(&b, ": native: %v", e.Native)
	}
	if e.Fallback != nil {
		fmt.Fprintf(&b, ": fallback: %v", e.Fallback)
	}
	return b.String()
}

func (e *InteractionBlockedError) Unwrap() []error {
	var errs []error
	if e.Native != nil {
		errs = append(errs, e.Native)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// SelectionNotFoundError means a dropdown had no option with the requested label.
type SelectionNotFoundError struct {
	Locator   locator.Locator
	Text      string
	Available []string
}

func (e *SelectionNotFoundError) Error() string {
	return fmt.Sprintf("no option labelled %q in %s (available: %q)", e.Text, e.Locator, e.Available)
}
