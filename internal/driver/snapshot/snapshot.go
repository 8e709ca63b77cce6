// internal/driver/snapshot/snapshot.go
// Package snapshot implements a read-only driver.Driver over saved HTML. CSS queries run
// through goquery and XPath through htmlquery, so a cart page captured from a browser can
// be audited offline with the same locators and reader as a live session.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// errReadOnly is returned by every operation that would change the page.
var errReadOnly = fmt.Errorf("%w: snapshot pages are read-only", driver.ErrUnsupported)

// Driver serves queries against one parsed document.
type Driver struct {
	root *html.Node
	url  string
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Element = (*Element)(nil)
)

// Parse reads an HTML document. url is reported by CurrentURL.
func Parse(r io.Reader, url string) (*Driver, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Driver{root: root, url: url}, nil
}

// Load parses the file at path and reports a file:// URL for it.
func Load(path string) (*Driver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open html snapshot: %w", err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Parse(f, "file://"+filepath.ToSlash(abs))
}

func (d *Driver) Find(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return query(d.root, q)
}

func (d *Driver) ExecuteScript(ctx context.Context, source string, args ...any) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: snapshot pages cannot run scripts", driver.ErrUnsupported)
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.url, nil
}

func (d *Driver) Capture(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("%w: snapshot pages cannot be rendered", driver.ErrUnsupported)
}

// query matches descendants of root in document order.
func query(root *html.Node, q driver.Query) ([]driver.Element, error) {
	var nodes []*html.Node
	switch q.Strategy {
	case driver.ByCSS:
		if _, err := cascadia.Compile(q.Selector); err != nil {
			return nil, fmt.Errorf("%w: invalid css selector %q: %v", driver.ErrUnsupported, q.Selector, err)
		}
		nodes = goquery.NewDocumentFromNode(root).Find(q.Selector).Nodes
	case driver.ByXPath:
		found, err := htmlquery.QueryAll(root, q.Selector)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid xpath %q: %v", driver.ErrUnsupported, q.Selector, err)
		}
		for _, n := range found {
			if n.Type == html.ElementNode {
				nodes = append(nodes, n)
			}
		}
	default:
		return nil, fmt.Errorf("%w: strategy %q", driver.ErrUnsupported, q.Strategy)
	}

	els := make([]driver.Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &Element{node: n})
	}
	return els, nil
}

// Element is a node of the parsed document. Snapshot nodes never go stale.
type Element struct {
	node *html.Node
}

func (e *Element) String() string { return "snapshot<" + e.node.Data + ">" }

// IsDisplayed approximates visibility from markup alone: the hidden attribute, hidden
// inputs, and inline display or visibility styles on the node or any ancestor.
func (e *Element) IsDisplayed(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if hasAttr(n, "hidden") || n.Data == "template" || n.Data == "script" || n.Data == "style" {
			return false, nil
		}
		if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
			return false, nil
		}
		style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return !hasAttr(e.node, "disabled"), nil
}

func (e *Element) IsObscured(ctx context.Context) (bool, error) {
	return false, ctx.Err()
}

// Text returns the node's text with whitespace runs collapsed, close to what a browser
// renders for inline content.
func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := goquery.NewDocumentFromNode(e.node).Text()
	return strings.Join(strings.Fields(text), " "), nil
}

func (e *Element) Click(ctx context.Context) error                 { return errReadOnly }
func (e *Element) Clear(ctx context.Context) error                 { return errReadOnly }
func (e *Element) SendKeys(ctx context.Context, text string) error { return errReadOnly }

func (e *Element) FindAll(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return query(e.node, q)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
