// internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagepilot/internal/config"
	"pagepilot/internal/llmclient"
	"pagepilot/internal/pagecontext"
	"pagepilot/internal/plan"
)

// scriptedClient replays one canned response per call, keyed by call order.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     []llmclient.GenerationRequest
}

func (s *scriptedClient) Generate(ctx context.Context, req llmclient.GenerationRequest) (string, error) {
	i := len(s.calls)
	s.calls = append(s.calls, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (s *scriptedClient) Close() error { return nil }

const validPlanJSON = `[
	{"action": "wait_for", "selector": "input.react-autosuggest__input", "timeout_ms": 7000},
	{"action": "fill", "selector": "input.react-autosuggest__input", "value": "crime data"},
	{"action": "press", "selector": "input.react-autosuggest__input", "value": "Enter"},
	{"action": "wait_for", "selector": "a[href*='/d/']", "timeout_ms": 15000},
	{"action": "extract", "selector": "a[href*='/d/']"}
]`

func testGenerator(client llmclient.Client, models ...string) *Generator {
	if models == nil {
		models = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}
	}
	return NewGenerator(client, config.LLMConfig{Models: models, Temperature: 0.1}, zap.NewNop())
}

func TestGenerateUsesFirstWorkingModel(t *testing.T) {
	client := &scriptedClient{responses: []string{validPlanJSON}}
	g := testGenerator(client)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	require.Len(t, client.calls, 1)
	assert.Equal(t, "gemini-2.5-flash", client.calls[0].Model)
	assert.True(t, client.calls[0].ForceJSON)
	assert.Equal(t, plan.SourceGenerated, meta.Source)
	assert.Equal(t, "gemini-2.5-flash", meta.Model)
	assert.Len(t, p, 5)
	assert.Equal(t, "crime data", p[1].Value)
}

func TestGenerateAdvancesPastFailingModels(t *testing.T) {
	client := &scriptedClient{
		responses: []string{"", validPlanJSON},
		errs:      []error{errors.New("model overloaded"), nil},
	}
	g := testGenerator(client)

	_, meta := g.Generate(context.Background(), "crime data", nil)

	require.Len(t, client.calls, 2)
	assert.Equal(t, plan.SourceGenerated, meta.Source)
	assert.Equal(t, "gemini-2.5-flash-lite", meta.Model)
}

func TestGenerateStripsMarkdownFences(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Here is the plan:\n```json\n" + validPlanJSON + "\n```\nDone.",
	}}
	g := testGenerator(client)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Equal(t, plan.SourceGenerated, meta.Source)
	assert.Len(t, p, 5)
}

func TestGenerateRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and single-quoted strings, the usual LLM damage.
	client := &scriptedClient{responses: []string{
		`[{'action': 'wait_for', 'selector': '#q', 'timeout_ms': 7000}, {'action': 'extract', 'selector': '#q'},]`,
	}}
	g := testGenerator(client)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Equal(t, plan.SourceGenerated, meta.Source)
	require.Len(t, p, 2)
	assert.Equal(t, plan.KindExtract, p[1].Kind)
}

func TestGenerateRejectsPlanWithoutExtract(t *testing.T) {
	noExtract := `[{"action": "wait_for", "selector": "#q", "timeout_ms": 7000}]`
	client := &scriptedClient{responses: []string{noExtract, noExtract}}
	g := testGenerator(client)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Len(t, client.calls, 2, "both models should be tried")
	assert.Equal(t, plan.SourceFallback, meta.Source)
	assert.Empty(t, meta.Model)
	assert.True(t, plan.HasExtract(p))
}

func TestGenerateRejectsSchemaViolations(t *testing.T) {
	badKind := `[{"action": "teleport", "selector": "#q"}, {"action": "extract", "selector": "#q"}]`
	client := &scriptedClient{responses: []string{badKind, validPlanJSON}}
	g := testGenerator(client)

	_, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Equal(t, plan.SourceGenerated, meta.Source)
	assert.Equal(t, "gemini-2.5-flash-lite", meta.Model)
}

func TestGenerateFallsBackWithNilClient(t *testing.T) {
	g := testGenerator(nil)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Equal(t, plan.SourceFallback, meta.Source)
	require.Len(t, p, 5)
	assert.Equal(t, plan.KindFill, p[1].Kind)
	assert.Equal(t, "crime data", p[1].Value)
	assert.NoError(t, plan.Validate(p))
	assert.True(t, plan.HasExtract(p))
}

func TestGenerateFallsBackWhenAllModelsGarbage(t *testing.T) {
	client := &scriptedClient{responses: []string{"no json here at all", "still prose"}}
	g := testGenerator(client)

	p, meta := g.Generate(context.Background(), "crime data", nil)

	assert.Equal(t, plan.SourceFallback, meta.Source)
	assert.True(t, plan.HasExtract(p))
}

func TestGenerateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []string{validPlanJSON}}
	g := testGenerator(client)

	_, meta := g.Generate(ctx, "crime data", nil)

	assert.Empty(t, client.calls, "cancelled context must not reach the model")
	assert.Equal(t, plan.SourceFallback, meta.Source)
}

func TestGenerateIncludesPageContextInPrompt(t *testing.T) {
	client := &scriptedClient{responses: []string{validPlanJSON}}
	g := testGenerator(client)

	pageCtx := &pagecontext.Context{
		Source:   pagecontext.SourceRemoteTool,
		URL:      "https://data.lacity.org/",
		Elements: []pagecontext.Element{{Role: "textbox", Name: "Search", Visible: true}},
	}
	g.Generate(context.Background(), "crime data", pageCtx)

	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0].UserPrompt, `"goal":"crime data"`)
	assert.Contains(t, client.calls[0].UserPrompt, "https://data.lacity.org/")
	assert.Contains(t, client.calls[0].SystemPrompt, "wait_for")
}

func TestFallbackShape(t *testing.T) {
	p := Fallback("parking tickets")

	require.Len(t, p, 5)
	assert.Equal(t, plan.KindWaitFor, p[0].Kind)
	assert.Equal(t, 7000, p[0].TimeoutMs)
	assert.Equal(t, "parking tickets", p[1].Value)
	assert.Equal(t, "Enter", p[2].Value)
	assert.Equal(t, 15000, p[3].TimeoutMs)
	assert.Equal(t, plan.KindExtract, p[4].Kind)
}
