// internal/pagecontext/context.go
// Package pagecontext models the interactive surface of the current page as
// seen by the plan generator.
package pagecontext

import "context"

// Context sources.
const (
	SourceRemoteTool         = "remote-tool"
	SourceLocalIntrospection = "local-introspection"
)

// Element is one interactive element candidate.
type Element struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	// Selectors are CSS candidates ranked most to least specific.
	Selectors  []string          `json:"selectors,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Visible    bool              `json:"visible"`
}

// Context describes what the page offers to interact with. Source records
// which path produced it.
type Context struct {
	Source   string          `json:"source"`
	URL      string          `json:"url,omitempty"`
	Title    string          `json:"title,omitempty"`
	Elements []Element       `json:"elements"`
	TestIDs  []string        `json:"test_ids,omitempty"`
	Hints    map[string]bool `json:"hints,omitempty"`
}

// Hint keys populated by local introspection.
const (
	HintHasSearchBox = "has_search_box"
	HintHasSubmitBtn = "has_submit_btn"
)

// Introspector supplies the local fallback view of the page. The browser
// session implements this.
type Introspector interface {
	Introspect(ctx context.Context) (*Context, error)
	CurrentURL(ctx context.Context) (string, error)
}

// RemoteSource is one bridge session against a remote tool server. The MCP
// client implements this; Build drives the full open/read/close lifecycle.
type RemoteSource interface {
	Open(ctx context.Context) error
	// Navigate is best effort; a false return means no matching tool existed.
	Navigate(ctx context.Context, url string) bool
	// GetContext returns nil when no usable snapshot could be read.
	GetContext(ctx context.Context) *Context
	Close() error
}
