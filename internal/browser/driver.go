// internal/browser/driver.go
// Package browser drives a headless Chrome session. The Driver interface is
// what the plan executor consumes; Session is the chromedp implementation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Locator addresses a target element either by CSS selector or by an
// accessibility role plus accessible name. Selector wins when both are set.
type Locator struct {
	Selector string
	Role     string
	Name     string
}

// IsZero reports whether the locator addresses nothing.
func (l Locator) IsZero() bool {
	return l.Selector == "" && (l.Role == "" || l.Name == "")
}

func (l Locator) String() string {
	if l.Selector != "" {
		return l.Selector
	}
	return fmt.Sprintf("role=%s name=%q", l.Role, l.Name)
}

// roleExprs maps accessibility roles to XPath predicates over the concrete
// elements that carry them implicitly.
var roleExprs = map[string]string{
	"button":  "self::button or @role='button' or (self::input and (@type='submit' or @type='button'))",
	"link":    "self::a or @role='link'",
	"textbox": "self::textarea or @role='textbox' or (self::input and not(@type='checkbox' or @type='radio' or @type='submit' or @type='button'))",
	"heading": "self::h1 or self::h2 or self::h3 or self::h4 or self::h5 or self::h6 or @role='heading'",
	"combobox": "self::select or @role='combobox'",
	"checkbox": "@role='checkbox' or (self::input and @type='checkbox')",
}

// xpath renders the role+name addressing mode as an XPath query. Chrome's DOM
// search accepts XPath directly, which is the closest analogue to locating by
// accessible name without walking the AX tree per action.
func (l Locator) xpath() string {
	expr, ok := roleExprs[strings.ToLower(l.Role)]
	if !ok {
		expr = fmt.Sprintf("@role='%s'", l.Role)
	}
	name := strings.ReplaceAll(l.Name, "'", "")
	return fmt.Sprintf(
		"//*[(%s) and (contains(normalize-space(.), '%s') or contains(@aria-label, '%s') or contains(@placeholder, '%s') or contains(@title, '%s'))]",
		expr, name, name, name, name,
	)
}

// TimeoutError marks an operation that ran out of time. The executor's retry
// policy treats timeouts differently from other failures.
type TimeoutError struct {
	Op      string
	Target  string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on %q timed out after %v: %v", e.Op, e.Target, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err represents a timeout of any flavor.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// Driver is the browser surface the plan executor runs against.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	// Type appends text to the target without clearing it first.
	Type(ctx context.Context, loc Locator, text string) error
	Press(ctx context.Context, loc Locator, key string) error
	Text(ctx context.Context, loc Locator) (string, error)
	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	SelectOption(ctx context.Context, loc Locator, value string) error
	Scroll(ctx context.Context) error
	Sleep(ctx context.Context, d time.Duration) error
	// WaitSettled blocks until the document reports itself loaded or the
	// timeout passes. Callers decide whether a timeout matters.
	WaitSettled(ctx context.Context, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Close() error
}
