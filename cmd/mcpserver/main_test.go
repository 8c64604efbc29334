// File: cmd/mcpserver/main_test.go
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewViperBindsNestedEnvKeys(t *testing.T) {
	t.Setenv("PAGEPILOT_BROWSER_HEADLESS", "false")
	t.Setenv("PAGEPILOT_PORTAL_MAX_RESULTS", "3")

	v := newViper()

	assert.False(t, v.GetBool("browser.headless"))
	assert.Equal(t, 3, v.GetInt("portal.max_results"))
}

func TestNewViperDefaultsWithoutEnv(t *testing.T) {
	v := newViper()

	assert.True(t, v.GetBool("browser.headless"))
}
