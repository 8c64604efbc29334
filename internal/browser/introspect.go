// internal/browser/introspect.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pagepilot/internal/pagecontext"
)

// interactiveRoles is the subset of accessibility roles worth surfacing to
// the planner.
var interactiveRoles = map[string]bool{
	"textbox":  true,
	"button":   true,
	"link":     true,
	"combobox": true,
	"menuitem": true,
	"checkbox": true,
	"radio":    true,
	"img":      true,
}

// maxIntrospectedElements bounds the context size handed to the planner.
const maxIntrospectedElements = 120

const testIDProbeJS = `
(() => Array.from(document.querySelectorAll('[data-testid]'))
	.slice(0, 50)
	.map(el => el.getAttribute('data-testid')))()`

const searchBoxProbeJS = `
(() => {
	const inputs = Array.from(document.querySelectorAll(
		"input[type='search'], input[type='text'], input:not([type])"));
	return inputs.some(el => {
		const hay = ((el.placeholder || '') + ' ' + (el.getAttribute('aria-label') || '')
			+ ' ' + (el.name || '') + ' ' + (el.id || '')).toLowerCase();
		const visible = el.offsetParent !== null;
		return visible && hay.includes('search');
	});
})()`

const submitBtnProbeJS = `
(() => {
	const btns = Array.from(document.querySelectorAll(
		"button, input[type='submit'], [role='button']"));
	return btns.some(el => {
		const hay = ((el.textContent || '') + ' ' + (el.value || '')
			+ ' ' + (el.getAttribute('aria-label') || '')).toLowerCase();
		const visible = el.offsetParent !== null;
		return visible && (hay.includes('search') || hay.includes('submit') || hay.includes('go'));
	});
})()`

// Introspect builds a local page context from the accessibility tree plus a
// few targeted DOM probes. It is the fallback when no remote tool server can
// describe the page.
func (s *Session) Introspect(ctx context.Context) (*pagecontext.Context, error) {
	var nodes []*accessibility.Node
	err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := accessibility.GetFullAXTree().Do(ctx)
		if err != nil {
			return err
		}
		nodes = tree
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read accessibility tree: %w", err)
	}

	result := &pagecontext.Context{
		Source: pagecontext.SourceLocalIntrospection,
		Hints:  map[string]bool{},
	}

	for _, node := range nodes {
		if node == nil || node.Ignored || node.Role == nil {
			continue
		}
		role := fmt.Sprint(node.Role.Value)
		if !interactiveRoles[role] {
			continue
		}
		var name string
		if node.Name != nil {
			name = fmt.Sprint(node.Name.Value)
		}
		result.Elements = append(result.Elements, pagecontext.Element{
			Role:    role,
			Name:    name,
			Visible: true,
		})
		if len(result.Elements) >= maxIntrospectedElements {
			break
		}
	}

	// Best-effort probes; their absence is not an introspection failure.
	var testIDs []string
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Evaluate(testIDProbeJS, &testIDs)); err != nil {
		s.logger.Debug("Test ID probe failed.", zap.Error(err))
	}
	result.TestIDs = testIDs

	var hasSearchBox, hasSubmitBtn bool
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Evaluate(searchBoxProbeJS, &hasSearchBox)); err != nil {
		s.logger.Debug("Search box probe failed.", zap.Error(err))
	}
	if err := s.run(ctx, s.netCfg.ActionTimeout, chromedp.Evaluate(submitBtnProbeJS, &hasSubmitBtn)); err != nil {
		s.logger.Debug("Submit button probe failed.", zap.Error(err))
	}
	result.Hints[pagecontext.HintHasSearchBox] = hasSearchBox
	result.Hints[pagecontext.HintHasSubmitBtn] = hasSubmitBtn

	if url, err := s.CurrentURL(ctx); err == nil {
		result.URL = url
	}
	if title, err := s.Title(ctx); err == nil {
		result.Title = title
	}

	s.logger.Debug("Local introspection complete.",
		zap.Int("elements", len(result.Elements)),
		zap.Int("test_ids", len(result.TestIDs)),
		zap.Bool("has_search_box", hasSearchBox),
	)
	return result, nil
}
