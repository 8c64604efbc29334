// internal/executor/executor.go
// Package executor runs a validated plan against a browser driver. Transient
// step failures are logged and absorbed so a flaky selector cannot sink the
// whole run; a failed navigation or an exhausted visibility wait stops the
// plan, and the caller decides whether to harvest anyway.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pagepilot/internal/browser"
	"pagepilot/internal/config"
	"pagepilot/internal/plan"
)

const (
	defaultWaitForTimeout = 7 * time.Second
	defaultSleep          = 500 * time.Millisecond

	waitForAttempts  = 3
	retryInitial     = 500 * time.Millisecond
	waitForRetryCap  = 3 * time.Second
	interactAttempts = 2
	interactRetryCap = 2 * time.Second
)

// Executor drives one plan over one browser session.
type Executor struct {
	driver     browser.Driver
	baseURL    string
	settleWait time.Duration
	logger     *zap.Logger
}

// New wires an executor. baseURL from the portal config is used to absolutize
// relative hrefs captured by extract steps.
func New(driver browser.Driver, portal config.PortalConfig, net config.NetworkConfig, logger *zap.Logger) *Executor {
	return &Executor{
		driver:     driver,
		baseURL:    portal.BaseURL,
		settleWait: net.SettleWait,
		logger:     logger.Named("executor"),
	}
}

// Execute runs the steps in order and returns the last successful extract.
// A goto failure or a timeout that survives its retries aborts the remaining
// steps and is returned alongside whatever was extracted before it; any other
// step failure is logged and execution moves on.
func (e *Executor) Execute(ctx context.Context, p plan.Plan) (*plan.ExtractionResult, error) {
	var extracted *plan.ExtractionResult

	for i, step := range p {
		if ctx.Err() != nil {
			return extracted, ctx.Err()
		}

		stepLog := e.logger.With(
			zap.Int("step", i+1),
			zap.Int("of", len(p)),
			zap.String("action", string(step.Kind)))

		if step.Kind == plan.KindExtract {
			hit, err := e.extract(ctx, step)
			if err != nil {
				stepLog.Warn("Extraction failed.", zap.Error(err))
				continue
			}
			stepLog.Info("Extracted result.", zap.String("text", hit.Text), zap.String("href", hit.Href))
			extracted = hit
			continue
		}

		if err := e.runStep(ctx, step); err != nil {
			if ctx.Err() != nil {
				return extracted, ctx.Err()
			}
			// Navigation failures and exhausted timeouts leave the page in a
			// state the rest of the plan cannot recover from.
			if step.Kind == plan.KindGoto || browser.IsTimeout(err) {
				stepLog.Warn("Aborting remaining steps.", zap.Error(err))
				return extracted, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Kind, err)
			}
			stepLog.Warn("Step failed.", zap.Error(err))
		} else {
			stepLog.Debug("Step completed.")
		}

		// Navigation-shaped actions get a bounded settle so the next step
		// sees the page they produced. A slow page is not an error here.
		switch step.Kind {
		case plan.KindGoto, plan.KindClick, plan.KindPress:
			if err := e.driver.WaitSettled(ctx, e.settleWait); err != nil {
				stepLog.Debug("Page did not settle in time.", zap.Error(err))
			}
		}
	}

	return extracted, nil
}

// runStep performs one non-extract action, retrying the transiently flaky
// kinds. The retry counts mirror how often each action is worth re-probing:
// visibility waits race against page rendering, fills and clicks race against
// re-rendered nodes, everything else either works or it does not.
func (e *Executor) runStep(ctx context.Context, step plan.Action) error {
	op := func() error { return e.perform(ctx, step) }

	policy := retryPolicy(step.Kind)
	if policy == nil {
		return op()
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func retryPolicy(kind plan.Kind) backoff.BackOff {
	switch kind {
	case plan.KindWaitFor:
		return newPolicy(waitForAttempts, waitForRetryCap)
	case plan.KindFill, plan.KindClick:
		return newPolicy(interactAttempts, interactRetryCap)
	default:
		return nil
	}
}

func newPolicy(attempts int, maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	b.MaxInterval = maxInterval
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

func (e *Executor) perform(ctx context.Context, step plan.Action) error {
	switch step.Kind {
	case plan.KindGoto:
		return e.driver.Navigate(ctx, step.URL)

	case plan.KindWaitFor:
		timeout := defaultWaitForTimeout
		if step.TimeoutMs > 0 {
			timeout = time.Duration(step.TimeoutMs) * time.Millisecond
		}
		return e.driver.WaitVisible(ctx, locator(step), timeout)

	case plan.KindFill:
		return e.driver.Fill(ctx, locator(step), step.Value)

	case plan.KindClick:
		return e.driver.Click(ctx, locator(step))

	case plan.KindPress:
		key := step.Value
		if key == "" {
			key = "Enter"
		}
		return e.driver.Press(ctx, locator(step), key)

	case plan.KindAssertText:
		actual, err := e.driver.Text(ctx, locator(step))
		if err != nil {
			return err
		}
		if !strings.Contains(actual, step.Assert) {
			return fmt.Errorf("text assertion failed: want substring %q, got %q", step.Assert, truncate(actual, 120))
		}
		return nil

	case plan.KindSelectOption:
		return e.driver.SelectOption(ctx, locator(step), step.Value)

	case plan.KindScroll:
		return e.driver.Scroll(ctx)

	case plan.KindSleep:
		d := defaultSleep
		if step.TimeoutMs > 0 {
			d = time.Duration(step.TimeoutMs) * time.Millisecond
		}
		return e.driver.Sleep(ctx, d)

	default:
		// Validate keeps unknown kinds out of executed plans; skip quietly
		// if one slips through anyway.
		e.logger.Debug("Skipping unrecognized action.", zap.String("action", string(step.Kind)))
		return nil
	}
}

// extract reads the target's text and href. A missing href is fine (the
// target may not be an anchor); a relative one is absolutized against the
// portal base.
func (e *Executor) extract(ctx context.Context, step plan.Action) (*plan.ExtractionResult, error) {
	loc := locator(step)

	text, err := e.driver.Text(ctx, loc)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))

	href, ok, err := e.driver.Attribute(ctx, loc, "href")
	if err != nil || !ok {
		return &plan.ExtractionResult{Text: text}, nil
	}

	return &plan.ExtractionResult{Text: text, Href: e.Absolutize(href)}, nil
}

// Absolutize resolves a scraped href against the portal base URL.
func (e *Executor) Absolutize(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := strings.TrimRight(e.baseURL, "/")
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base + href
}

func locator(step plan.Action) browser.Locator {
	if step.Role != "" && step.Name != "" {
		return browser.Locator{Role: step.Role, Name: step.Name}
	}
	return browser.Locator{Selector: step.Selector}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
