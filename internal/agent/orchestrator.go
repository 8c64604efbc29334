// internal/agent/orchestrator.go
// Package agent owns the end-to-end run: open the portal, read the page,
// plan, execute, and harvest results. RunGoal absorbs every failure mode and
// reports an empty result list instead of an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"pagepilot/internal/browser"
	"pagepilot/internal/config"
	"pagepilot/internal/executor"
	"pagepilot/internal/keywords"
	"pagepilot/internal/llmclient"
	"pagepilot/internal/mcp"
	"pagepilot/internal/pagecontext"
	"pagepilot/internal/plan"
	"pagepilot/internal/planner"
)

// resultLinks matches the portal's dataset anchors on a results page.
const resultLinks = "a[href*='/d/']"

const resultsWaitTimeout = 15 * time.Second

// Result is one harvested dataset entry.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// session is the browser surface the orchestrator needs beyond the plain
// executor driver: bulk scraping and accessibility introspection.
type session interface {
	browser.Driver
	Evaluate(ctx context.Context, expression string, out any) error
	Introspect(ctx context.Context) (*pagecontext.Context, error)
}

// Orchestrator wires the pipeline for one or more goal runs.
type Orchestrator struct {
	cfg       config.Interface
	logger    *zap.Logger
	generator *planner.Generator
	llm       llmclient.Client

	// Factories are swappable for tests.
	newSession func(ctx context.Context) (session, error)
	newRemote  func() pagecontext.RemoteSource
}

// New builds an orchestrator from configuration. Missing LLM credentials are
// not an error; planning simply degrades to the heuristic plan.
func New(cfg config.Interface, logger *zap.Logger) *Orchestrator {
	log := logger.Named("agent")

	client, err := llmclient.New(cfg.LLM(), logger)
	if err != nil {
		if errors.Is(err, llmclient.ErrNoCredentials) {
			log.Info("No LLM credentials found; plans will use the heuristic fallback.")
		} else {
			log.Warn("LLM client unavailable; plans will use the heuristic fallback.", zap.Error(err))
		}
		client = nil
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    log,
		generator: planner.NewGenerator(client, cfg.LLM(), logger),
		llm:       client,
		newSession: func(ctx context.Context) (session, error) {
			return browser.NewSession(ctx, cfg.Browser(), cfg.Network(), logger)
		},
	}
	if cfg.Bridge().Enabled {
		o.newRemote = bridgeFactory(cfg.Bridge(), logger)
	}
	return o
}

// Close releases the LLM client's transport resources.
func (o *Orchestrator) Close() error {
	if o.llm != nil {
		return o.llm.Close()
	}
	return nil
}

// bridgeFactory creates one MCP client per context build. An empty command
// points the bridge back at this binary's own serve-mcp subcommand.
func bridgeFactory(cfg config.BridgeConfig, logger *zap.Logger) func() pagecontext.RemoteSource {
	return func() pagecontext.RemoteSource {
		resolved := cfg
		if resolved.Command == "" {
			exe, err := os.Executable()
			if err != nil {
				logger.Warn("Cannot resolve own executable for the MCP bridge.", zap.Error(err))
				exe = "pagepilot"
			}
			resolved.Command = exe
			resolved.Args = []string{"serve-mcp"}
		}
		return mcp.NewClient(resolved, logger)
	}
}

// RunGoal drives the page toward the goal and returns up to MaxResults
// dataset entries. It never returns an error and never panics; every failure
// degrades to a shorter (possibly empty) result list.
func (o *Orchestrator) RunGoal(ctx context.Context, goal string) (results []Result) {
	results = []Result{}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Run panicked; returning no results.",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			results = []Result{}
		}
	}()

	sess, err := o.newSession(ctx)
	if err != nil {
		o.logger.Error("Failed to start browser session.", zap.Error(err))
		return results
	}
	defer func() {
		if err := sess.Close(); err != nil {
			o.logger.Debug("Browser session close failed.", zap.Error(err))
		}
	}()

	portal := o.cfg.Portal()
	o.logger.Info("Opening portal.", zap.String("url", portal.BaseURL))
	if err := sess.Navigate(ctx, portal.BaseURL); err != nil {
		o.logger.Error("Portal did not load.", zap.Error(err))
		return results
	}

	builder := pagecontext.NewBuilder(o.newRemote, o.logger)
	pageCtx := builder.Build(ctx, sess)
	o.logger.Info("Page context ready.",
		zap.String("source", pageCtx.Source),
		zap.Int("elements", len(pageCtx.Elements)))

	kwGoal := keywords.Extract(goal)
	o.logger.Info("Planning.", zap.String("goal", goal), zap.String("keywords", kwGoal))

	p, meta := o.generator.Generate(ctx, kwGoal, pageCtx)
	o.logger.Info("Plan ready.",
		zap.String("source", meta.Source),
		zap.String("model", meta.Model),
		zap.Int("steps", len(p)))
	if o.cfg.Run().Debug {
		o.savePlan(p, meta)
	}

	exec := executor.New(sess, portal, o.cfg.Network(), o.logger)
	hit, err := exec.Execute(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			o.logger.Warn("Run cancelled during execution.", zap.Error(err))
			return results
		}
		// A stalled plan is not a lost run; the harvest below can still pull
		// results off whatever page we ended up on.
		o.logger.Warn("Plan stopped early.", zap.Error(err))
	}

	var firstHit *Result
	if hit != nil && hit.Text != "" && hit.Href != "" {
		firstHit = &Result{Title: hit.Text, URL: hit.Href}
	}

	if o.cfg.Run().Reread {
		after := builder.Build(ctx, sess)
		o.logger.Debug("Re-read page after plan execution.",
			zap.String("source", after.Source),
			zap.Int("elements", len(after.Elements)))
	}

	results = o.harvest(ctx, sess, exec, kwGoal)

	// A unique hit from the plan's own extract leads the list.
	if firstHit != nil && !containsURL(results, firstHit.URL) {
		results = append([]Result{*firstHit}, results...)
	}
	if max := portal.MaxResults; len(results) > max {
		results = results[:max]
	}

	o.logger.Info("Run complete.", zap.Int("results", len(results)))
	return results
}

// harvest makes sure the session is on a results page, then scrapes dataset
// anchors off it.
func (o *Orchestrator) harvest(ctx context.Context, sess session, exec *executor.Executor, kwGoal string) []Result {
	portal := o.cfg.Portal()

	current, err := sess.CurrentURL(ctx)
	if err != nil {
		o.logger.Warn("Cannot read current URL.", zap.Error(err))
	}
	if !strings.Contains(current, "browse") {
		target := browseURL(portal.BrowseURL, kwGoal)
		o.logger.Info("Not on a results page; navigating directly.", zap.String("url", target))
		if err := sess.Navigate(ctx, target); err != nil {
			o.logger.Warn("Direct results navigation failed.", zap.Error(err))
		}
	}

	loc := browser.Locator{Selector: resultLinks}
	if err := sess.WaitVisible(ctx, loc, resultsWaitTimeout); err != nil {
		o.logger.Warn("No result links appeared.", zap.Error(err))
	}

	results := o.scrape(ctx, sess, exec)
	if len(results) > 0 {
		return results
	}

	// Last resort: read just the first anchor through the single-element path.
	text, terr := sess.Text(ctx, loc)
	href, ok, aerr := sess.Attribute(ctx, loc, "href")
	if terr == nil && aerr == nil && ok && strings.TrimSpace(text) != "" && href != "" {
		return []Result{{
			Title: strings.TrimSpace(strings.ReplaceAll(text, "\n", " ")),
			URL:   exec.Absolutize(href),
		}}
	}
	return []Result{}
}

// scrapeResultsJS collects dataset anchors in one evaluation round trip.
const scrapeResultsJS = `(() => {
  const out = [];
  for (const a of document.querySelectorAll("a[href*='/d/']")) {
    const title = (a.innerText || '').trim().replace(/\s+/g, ' ');
    const href = a.getAttribute('href') || '';
    if (!title || !href) continue;
    out.push({title: title, href: href});
  }
  return out;
})()`

func (o *Orchestrator) scrape(ctx context.Context, sess session, exec *executor.Executor) []Result {
	var anchors []struct {
		Title string `json:"title"`
		Href  string `json:"href"`
	}
	if err := sess.Evaluate(ctx, scrapeResultsJS, &anchors); err != nil {
		o.logger.Warn("Result scrape failed.", zap.Error(err))
		return []Result{}
	}

	max := o.cfg.Portal().MaxResults
	results := make([]Result, 0, max)
	for _, a := range anchors {
		if len(results) >= max {
			break
		}
		results = append(results, Result{Title: a.Title, URL: exec.Absolutize(a.Href)})
	}
	return results
}

// browseURL builds the direct search results URL for the keywordized goal.
func browseURL(base, kwGoal string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%slimitTo=datasets&q=%s", base, sep, url.QueryEscape(kwGoal))
}

func containsURL(results []Result, u string) bool {
	for _, r := range results {
		if r.URL == u {
			return true
		}
	}
	return false
}

// savePlan dumps the plan and its provenance for debugging.
func (o *Orchestrator) savePlan(p plan.Plan, meta plan.Meta) {
	dir := o.cfg.Run().PlanDir
	if dir == "" {
		dir = "debug"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Warn("Cannot create plan dump directory.", zap.Error(err))
		return
	}

	payload := struct {
		Meta plan.Meta `json:"meta"`
		Plan plan.Plan `json:"plan"`
	}{Meta: meta, Plan: p}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		o.logger.Warn("Cannot encode plan dump.", zap.Error(err))
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("plan_%s.json", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.logger.Warn("Cannot write plan dump.", zap.Error(err))
		return
	}
	o.logger.Info("Plan saved.", zap.String("path", path))
}
