// internal/planner/planner.go
// Package planner turns a natural-language goal plus a page context into an
// executable action plan. A model-generated plan is preferred; a fixed
// heuristic plan covers every failure mode, so Generate never errors.
package planner

import (
	"context"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"pagepilot/internal/config"
	"pagepilot/internal/llmclient"
	"pagepilot/internal/pagecontext"
	"pagepilot/internal/plan"
)

// Selectors baked into the prompt and the fallback plan. The portal renders
// its search box through react-autosuggest and links datasets under /d/.
const (
	promptSearchSelector = "input.react-autosuggest__input[placeholder='Search for Data']"
	fallbackSearchInput  = "input[placeholder*='Search' i]"
	resultLinkSelector   = "a[href*='/d/']"

	searchInputTimeoutMs = 7000
	resultsTimeoutMs     = 15000
)

const systemPrompt = `You are a web automation planner for an open data portal.

Goal: produce a JSON plan (array) that searches the portal for datasets and extracts results.

The plan MUST follow this pattern:
1. wait_for the search input
2. fill the search box with the user query
3. press Enter
4. wait_for dataset result links
5. extract result titles and URLs

Selectors to ALWAYS use:
  - Search input: ` + promptSearchSelector + `
  - Result links: ` + resultLinkSelector + `

Timeouts:
  - wait_for input: 7000ms
  - wait_for results: 15000ms

Rules:
- Use only these 5 steps (no goto).
- Fill using the keyword form of the goal, not the full sentence.
- Output only valid JSON, no markdown or extra text.

Example:
[
  {"action": "wait_for", "selector": "` + promptSearchSelector + `", "timeout_ms": 7000},
  {"action": "fill", "selector": "` + promptSearchSelector + `", "value": "<keywords>"},
  {"action": "press", "selector": "` + promptSearchSelector + `", "value": "Enter"},
  {"action": "wait_for", "selector": "` + resultLinkSelector + `", "timeout_ms": 15000},
  {"action": "extract", "selector": "` + resultLinkSelector + `"}
]`

// Generator produces plans. A nil client means no credentials were available
// and every call resolves to the fallback plan.
type Generator struct {
	client      llmclient.Client
	models      []string
	temperature float32
	logger      *zap.Logger
}

// NewGenerator wires a generator from the LLM configuration. Pass a nil
// client to run fallback-only.
func NewGenerator(client llmclient.Client, cfg config.LLMConfig, logger *zap.Logger) *Generator {
	return &Generator{
		client:      client,
		models:      cfg.Models,
		temperature: cfg.Temperature,
		logger:      logger.Named("planner"),
	}
}

// Generate returns a plan for the goal. The returned plan is always
// schema-valid and always contains an extract step; when no model produces
// one, the fixed fallback plan is returned instead. Generate never errors.
func (g *Generator) Generate(ctx context.Context, goal string, pageCtx *pagecontext.Context) (plan.Plan, plan.Meta) {
	p, meta := g.generate(ctx, goal, pageCtx)

	// Guard the contract even against our own bugs: whatever path produced
	// the plan, the executor only ever sees a valid one with an extract.
	if err := plan.Validate(p); err != nil || !plan.HasExtract(p) {
		g.logger.Warn("Generated plan failed final validation; substituting fallback.",
			zap.Error(err), zap.String("source", meta.Source))
		return Fallback(goal), plan.Meta{Source: plan.SourceFallback}
	}
	return p, meta
}

func (g *Generator) generate(ctx context.Context, goal string, pageCtx *pagecontext.Context) (plan.Plan, plan.Meta) {
	if g.client == nil || len(g.models) == 0 {
		g.logger.Info("No LLM client configured; using fallback plan.")
		return Fallback(goal), plan.Meta{Source: plan.SourceFallback}
	}

	userPrompt, err := buildUserPrompt(goal, pageCtx)
	if err != nil {
		g.logger.Warn("Failed to encode planning prompt; using fallback plan.", zap.Error(err))
		return Fallback(goal), plan.Meta{Source: plan.SourceFallback}
	}

	for _, model := range g.models {
		if ctx.Err() != nil {
			g.logger.Warn("Planning cancelled; using fallback plan.", zap.Error(ctx.Err()))
			break
		}

		raw, err := g.client.Generate(ctx, llmclient.GenerationRequest{
			Model:        model,
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Temperature:  g.temperature,
			ForceJSON:    true,
		})
		if err != nil {
			g.logger.Debug("Model failed to respond.", zap.String("model", model), zap.Error(err))
			continue
		}

		candidate, err := parsePlan(raw)
		if err != nil {
			g.logger.Debug("Model produced an unusable plan.", zap.String("model", model), zap.Error(err))
			continue
		}
		if !plan.HasExtract(candidate) {
			g.logger.Debug("Model plan has no extract step; trying next model.", zap.String("model", model))
			continue
		}

		g.logger.Info("Plan generated.", zap.String("model", model), zap.Int("steps", len(candidate)))
		return candidate, plan.Meta{Source: plan.SourceGenerated, Model: model}
	}

	g.logger.Info("No model produced a usable plan; using fallback plan.")
	return Fallback(goal), plan.Meta{Source: plan.SourceFallback}
}

// buildUserPrompt packages the goal and the page context as one JSON document
// so the model sees the live element inventory alongside the request.
func buildUserPrompt(goal string, pageCtx *pagecontext.Context) (string, error) {
	payload := struct {
		Goal    string               `json:"goal"`
		Context *pagecontext.Context `json:"context,omitempty"`
	}{Goal: goal, Context: pageCtx}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parsePlan coerces raw model output into a schema-valid plan. Prose and
// markdown fences around the array are stripped; mildly malformed JSON is
// repaired before giving up.
func parsePlan(raw string) (plan.Plan, error) {
	text := strings.TrimSpace(raw)

	if !strings.HasPrefix(text, "[") {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start == -1 || end == -1 || end < start {
			return nil, &plan.SchemaError{Index: -1, Reason: "response contains no JSON array"}
		}
		text = text[start : end+1]
	}

	candidate, err := plan.Unmarshal([]byte(text))
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, err
		}
		if candidate, err = plan.Unmarshal([]byte(repaired)); err != nil {
			return nil, err
		}
	}

	if err := plan.Validate(candidate); err != nil {
		return nil, err
	}
	if len(candidate) == 0 {
		return nil, &plan.SchemaError{Index: -1, Reason: "empty plan"}
	}
	return candidate, nil
}

// Fallback is the fixed five-step heuristic plan. It targets the portal's
// search box by a loose placeholder match so it survives markup drift.
func Fallback(goal string) plan.Plan {
	return plan.Plan{
		{Kind: plan.KindWaitFor, Selector: fallbackSearchInput, TimeoutMs: searchInputTimeoutMs},
		{Kind: plan.KindFill, Selector: fallbackSearchInput, Value: goal},
		{Kind: plan.KindPress, Selector: fallbackSearchInput, Value: "Enter"},
		{Kind: plan.KindWaitFor, Selector: resultLinkSelector, TimeoutMs: resultsTimeoutMs},
		{Kind: plan.KindExtract, Selector: resultLinkSelector},
	}
}
