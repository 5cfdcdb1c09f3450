package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means no locator in a cascade produced a qualifying element.
	ErrNotFound = errors.New("locator not found")
	// ErrStale means an element handle was invalidated by a DOM change.
	ErrStale = errors.New("stale element reference")
	// ErrRejected means an interaction method failed for a non-staleness reason.
	ErrRejected = errors.New("interaction rejected")
)

// LocatorKind names the strategy used to find candidate elements.
type LocatorKind string

const (
	// LocatorAttribute matches a CSS selector (tag, class, attribute).
	LocatorAttribute LocatorKind = "attribute"
	// LocatorPath matches an XPath expression.
	LocatorPath LocatorKind = "path"
	// LocatorText matches elements of tag Pattern whose text contains Text.
	LocatorText LocatorKind = "text"
)

// Locator is one rule for finding a candidate element.
type Locator struct {
	Kind    LocatorKind `yaml:"kind"`
	Pattern string      `yaml:"pattern"`
	Text    string      `yaml:"text,omitempty"`
	// Rank orders evaluation, lowest first; equal ranks keep slice order.
	Rank    int         `yaml:"rank,omitempty"`
}

func (l Locator) String() string {
	if l.Kind == LocatorText {
		return fmt.Sprintf("text:%s~%q", l.tag(), l.Text)
	}
	return fmt.Sprintf("%s:%s", l.Kind, l.Pattern)
}

func (l Locator) tag() string {
	if l.Pattern == "" {
		return "*"
	}
	return l.Pattern
}

// XPath renders a text-contains locator as an XPath expression. Path
// locators are returned unchanged.
func (l Locator) XPath() string {
	switch l.Kind {
	case LocatorText:
		return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", l.tag(), xpathLiteral(l.Text))
	default:
		return l.Pattern
	}
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// Attr is a shorthand for a CSS attribute-match locator.
func Attr(selector string) Locator { return Locator{Kind: LocatorAttribute, Pattern: selector} }

// Path is a shorthand for an XPath locator.
func Path(xpath string) Locator { return Locator{Kind: LocatorPath, Pattern: xpath} }

// TextIn is a shorthand for a text-contains locator scoped to tag.
func TextIn(tag, text string) Locator { return Locator{Kind: LocatorText, Pattern: tag, Text: text} }

// ElementState is the selection state an element reports. Checked is set
// only by the element's own checked property or aria-checked="true";
// Selected also folds in its parent and class name tokens.
type ElementState struct {
	Checked  bool
	Selected bool
}

// Active reports whether any selection indicator is set.
func (s ElementState) Active() bool { return s.Checked || s.Selected }

// Document is the read/write capability over the remote page.
type Document interface {
	Query(ctx context.Context, loc Locator) ([]Element, error)
	URL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	ClearState(ctx context.Context) error
	ScrollToBottom(ctx context.Context) error
}

// Element is a live handle to one node of the remote page. Handles are not
// cached across resolver calls.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	// Context returns the element's own text and attributes joined with its
	// parent's text and a few descendants' text/alt values.
	Context(ctx context.Context) (string, error)
	State(ctx context.Context) (ElementState, error)

	ScrollIntoView(ctx context.Context) error
	Input(ctx context.Context, text string) error

	Click(ctx context.Context) error
	ScriptClick(ctx context.Context) error
	DispatchClick(ctx context.Context) error
	PointerClick(ctx context.Context) error
	ForceState(ctx context.Context) error
}

// isStaleError reports whether a transport error means the node handle went
// away between lookup and use.
func isStaleError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStale) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "stale") ||
		strings.Contains(errStr, "cannot find object") ||
		strings.Contains(errStr, "cannot find context with specified id") ||
		strings.Contains(errStr, "could not find node with given id") ||
		strings.Contains(errStr, "node with given id does not belong to the document") ||
		strings.Contains(errStr, "no node with given id found") ||
		strings.Contains(errStr, "detached")
}

// classifyInteractionError maps a method failure onto the stale/rejected
// taxonomy, keeping the original error in the chain.
func classifyInteractionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStale) || errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound) {
		return err
	}
	if isStaleError(err) {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}
