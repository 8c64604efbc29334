// internal/mcp/client_test.go
package mcp

import (
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"

	"pagepilot/internal/pagecontext"
)

func TestMatchTool(t *testing.T) {
	tests := []struct {
		name       string
		available  []string
		candidates []string
		want       string
	}{
		{
			name:       "ExactPrefix",
			available:  []string{"playwright_click", "playwright_navigate", "playwright_snapshot"},
			candidates: []string{"playwright_navigate", "navigate"},
			want:       "playwright_navigate",
		},
		{
			name:       "PrefixBeatsSubstring",
			available:  []string{"do_navigate", "navigate_to"},
			candidates: []string{"navigate"},
			want:       "navigate_to",
		},
		{
			name:       "CandidatePriorityOverAvailableOrder",
			available:  []string{"snapshot_page", "get_context_full"},
			candidates: []string{"get_context", "snapshot"},
			want:       "get_context_full",
		},
		{
			name:       "SubstringFallback",
			available:  []string{"browser.page_snapshot"},
			candidates: []string{"snapshot"},
			want:       "browser.page_snapshot",
		},
		{
			name:       "CaseInsensitive",
			available:  []string{"Playwright_Snapshot"},
			candidates: []string{"playwright_snapshot"},
			want:       "Playwright_Snapshot",
		},
		{
			name:       "NoMatch",
			available:  []string{"screenshot"},
			candidates: []string{"navigate", "goto"},
			want:       "",
		},
		{
			name:       "EmptyAvailable",
			available:  nil,
			candidates: []string{"navigate"},
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTool(tt.available, tt.candidates))
		})
	}
}

func TestRemoteSnapshotParsing(t *testing.T) {
	t.Run("ExtraFieldsTolerated", func(t *testing.T) {
		raw := `{
			"url": "https://data.lacity.org/",
			"title": "LA Open Data",
			"elements": [{"role":"textbox","name":"Search","selectors":["#q"],"visible":true}],
			"element_count": 1,
			"recommended": {"results_selector_candidates": ["a[href*='/d/']"]}
		}`

		var snap remoteSnapshot
		err := json.Unmarshal([]byte(raw), &snap)
		assert.NoError(t, err)
		assert.Equal(t, "https://data.lacity.org/", snap.URL)
		assert.Len(t, snap.Elements, 1)
		assert.Equal(t, pagecontext.Element{
			Role: "textbox", Name: "Search", Selectors: []string{"#q"}, Visible: true,
		}, snap.Elements[0])
	})

	t.Run("ErrorPayload", func(t *testing.T) {
		var snap remoteSnapshot
		err := json.Unmarshal([]byte(`{"error":"browser session unavailable","trace":"..."}`), &snap)
		assert.NoError(t, err)
		assert.NotEmpty(t, snap.Error)
		assert.Empty(t, snap.Elements)
	})
}
