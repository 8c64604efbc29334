// internal/mcp/snapshot.go
package mcp

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// defaultResultSelectors are the catalog-shaped result selector candidates
// recommended to planners, most specific first.
var defaultResultSelectors = []string{
	"li.listing a[href^='/d/']",
	".search-results a[href*='/d/']",
	"a[href*='/d/']",
}

// richSnapshotJS scans the live DOM for interactive elements and builds
// ranked CSS selector candidates for each. It runs inside the page.
const richSnapshotJS = `
(() => {
  const isVisible = (el) => {
    if (!el) return false;
    const style = window.getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none' || parseFloat(style.opacity || '1') === 0) return false;
    const rect = el.getBoundingClientRect();
    if (!rect || rect.width === 0 || rect.height === 0) return false;
    return true;
  };

  const clsSelector = (cls) => cls ? '.' + cls.trim().split(/\s+/).join('.') : '';
  const esc = (s) => String(s).replace(/["\\]/g, m => '\\' + m);

  const buildSelectorsForInput = (el) => {
    const ph = el.getAttribute('placeholder');
    const cls = el.getAttribute('class');
    const id  = el.id;
    const sels = [];
    if (id) sels.push('#' + id);
    if (cls && ph) sels.push('input' + clsSelector(cls) + '[placeholder="' + esc(ph) + '"]');
    if (ph) sels.push('input[placeholder="' + esc(ph) + '"]');
    if (ph) sels.push('input[placeholder*="' + esc(ph.split(' ')[0]) + '" i]');
    if (cls) sels.push('input' + clsSelector(cls));
    sels.push("main input[type='search'], main input[placeholder*='Search' i]");
    sels.push("input[type='search'], input[placeholder*='Search' i]");
    return Array.from(new Set(sels));
  };

  const buildSelectorsForLink = (el) => {
    const href = el.getAttribute('href') || '';
    const cls  = el.getAttribute('class');
    const id   = el.id;
    const sels = [];
    if (id) sels.push('#' + id);
    if (cls) sels.push('a' + clsSelector(cls));
    if (href) sels.push('a[href="' + esc(href) + '"]');
    if (href.includes('/d/')) sels.push("a[href*='/d/']");
    if (href.startsWith('/d/')) sels.push("a[href^='/d/']");
    sels.push("li.listing a[href^='/d/']");
    sels.push(".search-results a[href*='/d/']");
    return Array.from(new Set(sels));
  };

  const buildSelectorsForButton = (el) => {
    const cls = el.getAttribute('class');
    const id  = el.id;
    const sels = [];
    if (id) sels.push('#' + id);
    if (cls) sels.push('button' + clsSelector(cls));
    const al = el.getAttribute('aria-label');
    if (al) sels.push('button[aria-label="' + esc(al) + '"]');
    return Array.from(new Set(sels));
  };

  const takeText = (el) => (el.innerText || el.textContent || '').trim().slice(0, 200);

  const gather = (selector, roleHint) => {
    const out = [];
    document.querySelectorAll(selector).forEach(el => {
      const tag = el.tagName.toLowerCase();
      const role = roleHint || el.getAttribute('role') ||
                   (tag === 'input' ? 'textbox' : tag === 'a' ? 'link' : tag === 'button' ? 'button' : '');
      const name = el.getAttribute('aria-label') || el.getAttribute('title') ||
                   el.getAttribute('placeholder') || takeText(el) || '';

      const attributes = {};
      attributes.tag = tag;
      if (el.getAttribute('type')) attributes.type = el.getAttribute('type');
      if (el.getAttribute('placeholder')) attributes.placeholder = el.getAttribute('placeholder');
      if (el.getAttribute('class')) attributes.class = el.getAttribute('class');
      if (el.id) attributes.id = el.id;
      if (el.getAttribute('aria-label')) attributes.aria_label = el.getAttribute('aria-label');
      if (tag === 'a' && el.getAttribute('href')) attributes.href = el.getAttribute('href');
      if (tag !== 'input') attributes.text = takeText(el);

      let selectors = [];
      if (tag === 'input') selectors = buildSelectorsForInput(el);
      else if (tag === 'a') selectors = buildSelectorsForLink(el);
      else if (tag === 'button') selectors = buildSelectorsForButton(el);

      out.push({ role, name, visible: isVisible(el), attributes, selectors });
    });
    return out;
  };

  const inputs  = gather("input[type='search'], input[placeholder], input[type='text']", "textbox");
  const links   = gather("a[href]", "link");
  const buttons = gather("button, [role='button']", "button");
  const elements = [...inputs, ...buttons, ...links];

  const searchCandidates = inputs.filter(e =>
    e.visible && e.attributes && (
      (e.attributes.type && e.attributes.type.toLowerCase() === 'search') ||
      (e.attributes.placeholder && /search|find/i.test(e.attributes.placeholder)) ||
      (e.name && /search|find/i.test(e.name))
    )
  );
  const pickBestSearch = (arr) => {
    let best = null; let score = -1;
    for (const e of arr) {
      const cls = (e.attributes.class || '');
      let s = 0;
      if (/autosuggest|hero|searchbar/i.test(cls)) s += 2;
      if (e.attributes.placeholder) s += 1;
      if (e.attributes.type && e.attributes.type.toLowerCase() === 'search') s += 1;
      if (s > score) { score = s; best = e; }
    }
    return best || arr[0] || null;
  };

  return {
    url: window.location.href,
    title: document.title,
    elements,
    element_count: elements.length,
    recommended: {
      search_input: pickBestSearch(searchCandidates),
      results_selector_candidates: [
        "li.listing a[href^='/d/']",
        ".search-results a[href*='/d/']",
        "a[href*='/d/']"
      ]
    }
  };
})()`

// snapshot reads the rich DOM snapshot, degrading to an accessibility walk
// with an attached warning when the in-page scan fails.
func (s *Server) snapshot(ctx context.Context) (any, error) {
	sess, err := s.startSession(ctx)
	if err != nil {
		return nil, err
	}

	// Minimal probe to detect evaluate issues early.
	var titleProbe string
	if err := sess.Evaluate(ctx, `document.title`, &titleProbe); err != nil {
		return nil, fmt.Errorf("basic evaluate failed: %w", err)
	}

	var data map[string]any
	richErr := sess.Evaluate(ctx, richSnapshotJS, &data)
	if richErr == nil {
		return data, nil
	}

	s.logger.Warn("Rich snapshot failed; falling back to accessibility walk.", zap.Error(richErr))
	trace := string(debug.Stack())

	local, axErr := sess.Introspect(ctx)
	if axErr != nil {
		url, _ := sess.CurrentURL(ctx)
		title, _ := sess.Title(ctx)
		return map[string]any{
			"url":           url,
			"title":         title,
			"elements":      []any{},
			"element_count": 0,
			"warning": map[string]string{
				"rich_snapshot_error": richErr.Error(),
				"trace":               trace,
				"accessibility_error": axErr.Error(),
				"note":                "Both rich and accessibility snapshots failed.",
			},
		}, nil
	}

	return map[string]any{
		"url":           local.URL,
		"title":         local.Title,
		"elements":      local.Elements,
		"element_count": len(local.Elements),
		"recommended": map[string]any{
			"results_selector_candidates": defaultResultSelectors,
		},
		"warning": map[string]string{
			"rich_snapshot_error": richErr.Error(),
			"trace":               trace,
			"note":                "Returned fallback accessibility snapshot.",
		},
	}, nil
}
