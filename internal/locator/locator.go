// internal/locator/locator.go
package locator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// Strategy is the symbolic lookup mechanism of a Locator.
type Strategy string

const (
	CSS      Strategy = "css"
	XPath    Strategy = "xpath"
	ID       Strategy = "id"
	Name     Strategy = "name"
	Class    Strategy = "class"
	LinkText Strategy = "link_text"
)

// descriptions mirror the phrasing browsers use for "By" strategies so error messages
// read the way people already search for them.
var descriptions = map[Strategy]string{
	CSS:      "css selector",
	XPath:    "xpath",
	ID:       "id",
	Name:     "name",
	Class:    "class name",
	LinkText: "link text",
}

// Locator is an immutable symbolic element reference. It is defined once, usually as a
// field of a page-level type, and resolved to live handles at the moment of use.
type Locator struct {
	Strategy Strategy
	Value    string
}

// ByCSS, ByXPath, ByID, ByName, ByClass and ByLinkText construct locators.
func ByCSS(sel string) Locator       { return Locator{Strategy: CSS, Value: sel} }
func ByXPath(expr string) Locator    { return Locator{Strategy: XPath, Value: expr} }
func ByID(id string) Locator         { return Locator{Strategy: ID, Value: id} }
func ByName(name string) Locator     { return Locator{Strategy: Name, Value: name} }
func ByClass(class string) Locator   { return Locator{Strategy: Class, Value: class} }
func ByLinkText(text string) Locator { return Locator{Strategy: LinkText, Value: text} }

// String renders the locator as "css selector: .cart-total".
func (l Locator) String() string {
	desc, ok := descriptions[l.Strategy]
	if !ok {
		desc = string(l.Strategy)
	}
	return desc + ": " + l.Value
}

// IsZero reports whether the locator was never set.
func (l Locator) IsZero() bool {
	return l.Strategy == "" && l.Value == ""
}

// Parse reads the "strategy:value" form used in configuration files. A value without a
// recognised strategy prefix is taken as a CSS selector, so "a:hover" style selectors
// still parse as CSS.
func Parse(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("locator: empty expression")
	}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		strategy := Strategy(strings.ToLower(strings.TrimSpace(prefix)))
		if _, known := descriptions[strategy]; known {
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return Locator{}, fmt.Errorf("locator: empty value for strategy %q", strategy)
			}
			return Locator{Strategy: strategy, Value: rest}, nil
		}
	}
	return ByCSS(s), nil
}

// MustParse is Parse for package-level locator tables; it panics on error.
func MustParse(s string) Locator {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// Query lowers the locator to the CSS/XPath pair every driver understands.
func (l Locator) Query() (driver.Query, error) {
	if strings.TrimSpace(l.Value) == "" {
		return driver.Query{}, fmt.Errorf("locator %q: empty value", l.String())
	}
	switch l.Strategy {
	case CSS:
		return driver.Query{Strategy: driver.ByCSS, Selector: l.Value}, nil
	case XPath:
		return driver.Query{Strategy: driver.ByXPath, Selector: l.Value}, nil
	case ID:
		return driver.Query{Strategy: driver.ByCSS, Selector: "[id=" + cssString(l.Value) + "]"}, nil
	case Name:
		return driver.Query{Strategy: driver.ByCSS, Selector: "[name=" + cssString(l.Value) + "]"}, nil
	case Class:
		if strings.ContainsAny(l.Value, " \t") {
			return driver.Query{}, fmt.Errorf("locator %q: compound class names are not supported", l.String())
		}
		return driver.Query{Strategy: driver.ByCSS, Selector: "." + cssIdent(l.Value)}, nil
	case LinkText:
		return driver.Query{
			Strategy: driver.ByXPath,
			Selector: "//a[normalize-space(.)=" + xpathLiteral(l.Value) + "]",
		}, nil
	default:
		return driver.Query{}, fmt.Errorf("locator %q: unknown strategy %q", l.Value, l.Strategy)
	}
}

// cssString serializes s as a double-quoted CSS string, the way CSSOM does.
func cssString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// cssIdent serializes s as a CSS identifier, the way CSS.escape does.
func cssIdent(s string) string {
	if s == "-" {
		return `\-`
	}
	var b strings.Builder
	for i, r := range []rune(s) {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case r < 0x20 || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && strings.HasPrefix(s, "-"):
			fmt.Fprintf(&b, `\%x `, r)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
