// -- cmd/run_test.go --
package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepilot/internal/agent"
)

func TestPrintResultsJSON(t *testing.T) {
	var buf bytes.Buffer
	results := []agent.Result{
		{Title: "Crime Data from 2020 to Present", URL: "https://data.lacity.org/d/2nrs-mtv8"},
		{Title: "Arrest Data", URL: "https://data.lacity.org/d/amvf-fr72"},
	}

	require.NoError(t, printResults(&buf, results, "json"))

	var decoded []agent.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, results, decoded)
}

func TestPrintResultsJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, []agent.Result{}, "json"))
	assert.JSONEq(t, "[]", buf.String())
}

func TestPrintResultsText(t *testing.T) {
	var buf bytes.Buffer
	results := []agent.Result{
		{Title: "Crime Data", URL: "https://data.lacity.org/d/2nrs-mtv8"},
	}

	require.NoError(t, printResults(&buf, results, "text"))

	assert.Contains(t, buf.String(), "1. Crime Data")
	assert.Contains(t, buf.String(), "https://data.lacity.org/d/2nrs-mtv8")
}

func TestPrintResultsTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, nil, "text"))
	assert.Equal(t, "No results found.\n", buf.String())
}

func TestPrintResultsUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := printResults(&buf, nil, "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaml")
}

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "serve-mcp")

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("goal"))
	assert.NotNil(t, run.Flags().Lookup("debug"))
	assert.NotNil(t, run.Flags().Lookup("output"))
	assert.Equal(t, "g", run.Flags().Lookup("goal").Shorthand)
}
