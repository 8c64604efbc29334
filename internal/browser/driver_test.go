// internal/browser/driver_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocatorIsZero(t *testing.T) {
	assert.True(t, Locator{}.IsZero())
	assert.True(t, Locator{Role: "button"}.IsZero(), "role without name addresses nothing")
	assert.False(t, Locator{Selector: "#search"}.IsZero())
	assert.False(t, Locator{Role: "button", Name: "Search"}.IsZero())
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, "#search", Locator{Selector: "#search"}.String())
	assert.Equal(t, `role=button name="Go"`, Locator{Role: "button", Name: "Go"}.String())
}

func TestLocatorXPath(t *testing.T) {
	t.Run("KnownRole", func(t *testing.T) {
		xp := Locator{Role: "button", Name: "Search"}.xpath()
		assert.Contains(t, xp, "self::button")
		assert.Contains(t, xp, "@role='button'")
		assert.Contains(t, xp, "'Search'")
	})

	t.Run("UnknownRoleFallsBackToRoleAttribute", func(t *testing.T) {
		xp := Locator{Role: "tabpanel", Name: "Results"}.xpath()
		assert.Contains(t, xp, "@role='tabpanel'")
	})

	t.Run("SingleQuotesStripped", func(t *testing.T) {
		xp := Locator{Role: "link", Name: "City's data"}.xpath()
		assert.NotContains(t, xp, "City's")
		assert.Contains(t, xp, "Citys data")
	})
}

func TestIsTimeout(t *testing.T) {
	te := &TimeoutError{Op: "wait_for", Target: "#x", Timeout: time.Second, Err: context.DeadlineExceeded}

	assert.True(t, IsTimeout(te))
	assert.True(t, IsTimeout(fmt.Errorf("action failed: %w", te)))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("element detached")))
	assert.False(t, IsTimeout(nil))
}

func TestTimeoutErrorUnwrap(t *testing.T) {
	te := &TimeoutError{Op: "navigate", Target: "https://example.com", Timeout: time.Second, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, te, context.DeadlineExceeded)
	assert.Contains(t, te.Error(), "navigate")
}
