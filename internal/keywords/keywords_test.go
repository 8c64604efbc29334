// internal/keywords/keywords_test.go
package keywords

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		goal string
		want string
	}{
		{
			name: "FillerAndStopwordsStripped",
			goal: "I want to know about the crimes in LA",
			want: "crimes LA",
		},
		{
			// "find" and "datasets" are stopwords; the phrase words survive
			// as loose tokens and the verbatim phrase is appended after them.
			name: "QuotedPhraseAppendedVerbatim",
			goal: `Find datasets on "General Services"`,
			want: "General Services General Services",
		},
		{
			name: "SingleQuotedPhraseSurvivesStopwordFilter",
			goal: "show me info on 'the arts'",
			want: "info arts the arts",
		},
		{
			name: "ShortAcronymsSurvive",
			goal: "records from LA PD and DPW offices",
			want: "records LA PD DPW offices",
		},
		{
			name: "ShortNoiseTokensDropped",
			goal: "stats re GDP growth",
			want: "stats GDP growth",
		},
		{
			name: "CappedAtFiveTokens",
			goal: "budget crime traffic housing parks libraries schools",
			want: "budget crime traffic housing parks",
		},
		{
			name: "CaseInsensitiveDedupe",
			goal: "Crime crime CRIME statistics",
			want: "Crime statistics",
		},
		{
			name: "LowercaseLaNormalized",
			goal: "potholes near la streets",
			want: "potholes near LA streets",
		},
		{
			name: "WhitespaceCollapsed",
			goal: "  traffic\t\ncollisions   downtown ",
			want: "traffic collisions downtown",
		},
		{
			name: "Empty",
			goal: "",
			want: "",
		},
		{
			name: "OnlyFillerYieldsEmpty",
			goal: "i would like to know about it",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.goal))
		})
	}
}

func TestExtractNeverExceedsCap(t *testing.T) {
	goal := "alpha bravo charlie delta echo foxtrot golf hotel india juliet"
	got := Extract(goal)
	assert.LessOrEqual(t, len(strings.Fields(got)), 5)
}
