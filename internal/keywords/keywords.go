// internal/keywords/keywords.go
// Package keywords turns a natural-language goal into a short search query.
// The planner fills search boxes with the keyword form of the goal rather
// than the full sentence, which keeps portal search results tight.
package keywords

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	quotedRe     = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	quoteCharsRe = regexp.MustCompile(`["']`)
	fillerRe     = regexp.MustCompile(`(?i)^(i\s*(want|would\s*like|need)\s*(to\s*(know|see|find|search))?|tell\s*me|show\s*me|can\s*you\s*(find|show))\s*(about|for)?\s*`)
	tokenRe      = regexp.MustCompile(`[A-Za-z0-9\-]+`)
)

// stopwords are dropped from the query. The list is intentionally short and
// includes portal-specific noise words like "dataset".
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"on": true, "in": true, "for": true, "to": true, "from": true, "with": true,
	"about": true, "at": true, "by": true, "into": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"that": true, "this": true, "these": true, "those": true, "it": true,
	"its": true, "as": true, "i": true, "we": true, "you": true, "they": true,
	"he": true, "she": true, "them": true, "me": true, "my": true, "our": true,
	"your": true, "their": true, "want": true, "would": true, "like": true,
	"know": true, "find": true, "search": true, "see": true, "please": true,
	"dataset": true, "datasets": true, "data": true,
}

// shortAllowList keeps meaningful short acronyms that would otherwise be
// dropped by the length filter.
var shortAllowList = map[string]bool{
	"LA":  true,
	"PD":  true,
	"DPW": true,
}

// maxTokens caps the query length; more tokens dilute portal search results.
const maxTokens = 5

// Extract normalizes a free-text goal into a short keyword query.
//
//	Extract("I want to know about the crimes in LA") => "crimes LA"
//
// Quoted phrases survive filtering verbatim and are appended after the loose
// tokens. The result may be empty if the goal contains only filler and
// stopwords.
func Extract(goal string) string {
	if goal == "" {
		return ""
	}

	s := strings.TrimSpace(whitespaceRe.ReplaceAllString(goal, " "))

	// Quoted phrases are preserved verbatim and re-appended after filtering.
	var phrases []string
	for _, m := range quotedRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			phrases = append(phrases, m[1])
		} else if m[2] != "" {
			phrases = append(phrases, m[2])
		}
	}

	s = quoteCharsRe.ReplaceAllString(s, "")
	s = fillerRe.ReplaceAllString(s, "")

	var cleaned []string
	for _, tok := range tokenRe.FindAllString(s, -1) {
		if stopwords[strings.ToLower(tok)] {
			continue
		}
		if len(tok) <= 2 && !shortAllowList[strings.ToUpper(tok)] {
			continue
		}
		cleaned = append(cleaned, tok)
	}

	cleaned = append(cleaned, phrases...)

	// De-duplicate case-insensitively, preserving first-seen order.
	seen := make(map[string]bool, len(cleaned))
	deduped := cleaned[:0]
	for _, tok := range cleaned {
		key := strings.ToLower(tok)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, tok)
	}

	if len(deduped) > maxTokens {
		deduped = deduped[:maxTokens]
	}

	for i, tok := range deduped {
		if strings.EqualFold(tok, "la") {
			deduped[i] = "LA"
		}
	}

	return strings.TrimSpace(strings.Join(deduped, " "))
}
