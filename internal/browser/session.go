// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagepilot/internal/config"
)

// Session is a chromedp-backed Driver bound to one browser instance.
type Session struct {
	id          string
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	browserCfg config.BrowserConfig
	netCfg     config.NetworkConfig
	logger     *zap.Logger

	closeOnce sync.Once
}

// NewSession launches a browser and attaches a fresh tab to it.
func NewSession(ctx context.Context, browserCfg config.BrowserConfig, netCfg config.NetworkConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", browserCfg.Headless))
	if browserCfg.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	for _, arg := range browserCfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	ctxOpts := []chromedp.ContextOption{}
	if browserCfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s := &Session{
		id:          id,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		browserCfg:  browserCfg,
		netCfg:      netCfg,
		logger:      logger.Named("browser.session").With(zap.String("session_id", id)),
	}

	// Force the browser process to start now so failures surface here
	// rather than on the first action.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	s.logger.Info("Browser session started.", zap.Bool("headless", browserCfg.Headless))
	return s, nil
}

// run executes chromedp actions against the session tab while honoring the
// caller's context. The derived context is cancelled when either the caller
// gives up or the session shuts down.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("session closed: %w", s.ctx.Err())
	}

	opCtx, opCancel := context.WithCancel(s.ctx)
	defer opCancel()
	if timeout > 0 {
		opCtx, opCancel = context.WithTimeout(opCtx, timeout)
		defer opCancel()
	}
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil {
		// Context errors take precedence over whatever chromedp reports.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return fmt.Errorf("session closed: %w", s.ctx.Err())
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
	}
	return err
}

// query renders a locator as chromedp query arguments. CSS selectors go
// through querySelector; role+name locators use an XPath search.
func query(loc Locator) (string, chromedp.QueryOption) {
	if loc.Selector != "" {
		return loc.Selector, chromedp.ByQuery
	}
	return loc.xpath(), chromedp.BySearch
}

// Navigate loads the URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))

	timeout := s.netCfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	err := s.run(ctx, timeout, chromedp.Navigate(url))
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "navigate", Target: url, Timeout: timeout, Err: err}
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until the target is visible or the timeout passes.
func (s *Session) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.netCfg.ActionTimeout
	}

	sel, opt := query(loc)
	err := s.run(ctx, timeout, chromedp.WaitVisible(sel, opt))
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "wait_for", Target: loc.String(), Timeout: timeout, Err: err}
		}
		return fmt.Errorf("wait for %s failed: %w", loc, err)
	}
	return nil
}

// Click scrolls the target into view and clicks it.
func (s *Session) Click(ctx context.Context, loc Locator) error {
	s.logger.Debug("Clicking.", zap.String("target", loc.String()))

	sel, opt := query(loc)
	timeout := s.netCfg.ActionTimeout
	err := s.run(ctx, timeout,
		chromedp.ScrollIntoView(sel, opt),
		chromedp.Click(sel, opt),
	)
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "click", Target: loc.String(), Timeout: timeout, Err: err}
		}
		return fmt.Errorf("click on %s failed: %w", loc, err)
	}
	return nil
}

// Fill types text into the target the way a person would: click to focus,
// clear the existing value, then emit one key event per character with a
// small pause between them.
func (s *Session) Fill(ctx context.Context, loc Locator, value string) error {
	s.logger.Debug("Filling.", zap.String("target", loc.String()), zap.Int("chars", len(value)))

	delay := s.browserCfg.TypingDelay
	if delay <= 0 {
		delay = 30 * time.Millisecond
	}

	sel, opt := query(loc)
	actions := []chromedp.Action{
		chromedp.ScrollIntoView(sel, opt),
		chromedp.Click(sel, opt),
		// Select whatever is already there so the Backspace clears it.
		chromedp.Evaluate(`(() => { const el = document.activeElement; if (el && el.select) { el.select(); } })()`, nil),
		chromedp.KeyEvent(kb.Backspace),
	}
	actions = append(actions, typingActions(value, delay)...)

	timeout := s.netCfg.ActionTimeout + time.Duration(len(value))*delay
	err := s.run(ctx, timeout, actions...)
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "fill", Target: loc.String(), Timeout: timeout, Err: err}
		}
		return fmt.Errorf("fill on %s failed: %w", loc, err)
	}
	return nil
}

// Type appends text to the target without clearing its current value.
func (s *Session) Type(ctx context.Context, loc Locator, text string) error {
	delay := s.browserCfg.TypingDelay
	if delay <= 0 {
		delay = 30 * time.Millisecond
	}

	sel, opt := query(loc)
	actions := append([]chromedp.Action{chromedp.Focus(sel, opt)}, typingActions(text, delay)...)

	timeout := s.netCfg.ActionTimeout + time.Duration(len(text))*delay
	err := s.run(ctx, timeout, actions...)
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "type", Target: loc.String(), Timeout: timeout, Err: err}
		}
		return fmt.Errorf("type on %s failed: %w", loc, err)
	}
	return nil
}

// typingActions emits one key event per character with a pause between them,
// so SPA input listeners fire the way they would for a person.
func typingActions(text string, delay time.Duration) []chromedp.Action {
	actions := make([]chromedp.Action, 0, 2*len(text))
	for _, r := range text {
		actions = append(actions,
			chromedp.KeyEvent(string(r)),
			chromedp.Sleep(delay),
		)
	}
	return actions
}

// keyNames maps the wire key names the planner emits to key event input.
var keyNames = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
	"ArrowDown": kb.ArrowDown,
	"ArrowUp":   kb.ArrowUp,
	"Space":     " ",
}

// Press focuses the target and sends a single key.
func (s *Session) Press(ctx context.Context, loc Locator, key string) error {
	s.logger.Debug("Pressing key.", zap.String("target", loc.String()), zap.String("key", key))

	input, ok := keyNames[key]
	if !ok {
		input = key
	}

	sel, opt := query(loc)
	timeout := s.netCfg.ActionTimeout
	err := s.run(ctx, timeout,
		chromedp.Focus(sel, opt),
		chromedp.KeyEvent(input),
	)
	if err != nil {
		if err == context.DeadlineExceeded {
			return &TimeoutError{Op: "press", Target: loc.String(), Timeout: timeout, Err: err}
		}
		return fmt.Errorf("press %q on %s failed: %w", key, loc, err)
	}
	return nil
}

// Text returns the trimmed text content of the target.
func (s *Session) Text(ctx context.Context, loc Locator) (string, error) {
	sel, opt := query(loc)
	var out string
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Text(sel, &out, opt)); err != nil {
		return "", fmt.Errorf("reading text of %s failed: %w", loc, err)
	}
	return strings.TrimSpace(out), nil
}

// Attribute returns the named attribute of the target and whether it exists.
func (s *Session) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	sel, opt := query(loc)
	var value string
	var ok bool
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.AttributeValue(sel, name, &value, &ok, opt)); err != nil {
		return "", false, fmt.Errorf("reading attribute %q of %s failed: %w", name, loc, err)
	}
	return value, ok, nil
}

// SelectOption sets the value of a select element and fires change events.
func (s *Session) SelectOption(ctx context.Context, loc Locator, value string) error {
	sel, opt := query(loc)
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.SetValue(sel, value, opt)); err != nil {
		return fmt.Errorf("selecting %q on %s failed: %w", value, loc, err)
	}
	return nil
}

// scrollSettle gives lazily loaded content a beat to appear after scrolling.
const scrollSettle = 300 * time.Millisecond

// Scroll advances the viewport by one screen height, then pauses briefly.
func (s *Session) Scroll(ctx context.Context) error {
	return s.run(ctx, s.netCfg.ActionTimeout,
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
		chromedp.Sleep(scrollSettle),
	)
}

// Sleep pauses for the requested duration, honoring cancellation.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("session closed: %w", s.ctx.Err())
	}
}

// WaitSettled polls document.readyState until the page reports itself loaded
// or the timeout passes.
func (s *Session) WaitSettled(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.netCfg.SettleWait
	}

	deadline := time.Now().Add(timeout)
	for {
		var state string
		if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: "wait_settled", Target: "document", Timeout: timeout, Err: context.DeadlineExceeded}
		}
		if err := s.Sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// Evaluate runs a JavaScript expression in the page and decodes the result
// into out. Pass nil to discard the result.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	return nil
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location failed: %w", err)
	}
	return url, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title failed: %w", err)
	}
	return title, nil
}

// Close tears down the tab and the browser process. Safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session.")
		if s.cancel != nil {
			s.cancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
	})
	return nil
}
