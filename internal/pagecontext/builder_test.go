// internal/pagecontext/builder_test.go
package pagecontext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeRemote scripts one bridge session.
type fakeRemote struct {
	openErr   error
	pageCtx   *Context
	navigated []string
	closed    bool
}

func (f *fakeRemote) Open(ctx context.Context) error { return f.openErr }

func (f *fakeRemote) Navigate(ctx context.Context, url string) bool {
	f.navigated = append(f.navigated, url)
	return true
}

func (f *fakeRemote) GetContext(ctx context.Context) *Context { return f.pageCtx }

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

// fakeIntrospector returns a canned local context.
type fakeIntrospector struct {
	snapshot *Context
	err      error
	url      string
}

func (f *fakeIntrospector) Introspect(ctx context.Context) (*Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	// Return a copy so mutation by the builder does not leak between tests.
	c := *f.snapshot
	return &c, nil
}

func (f *fakeIntrospector) CurrentURL(ctx context.Context) (string, error) {
	return f.url, nil
}

func localSnapshot() *Context {
	return &Context{
		Elements: []Element{{Role: "textbox", Name: "Search", Visible: true}},
		Hints:    map[string]bool{HintHasSearchBox: true},
	}
}

func TestBuildPrefersRemote(t *testing.T) {
	remote := &fakeRemote{
		pageCtx: &Context{
			URL:      "https://data.lacity.org/",
			Elements: []Element{{Role: "textbox", Name: "Search", Selectors: []string{"#q"}, Visible: true}},
		},
	}
	b := NewBuilder(func() RemoteSource { return remote }, zap.NewNop())

	got := b.Build(context.Background(), &fakeIntrospector{snapshot: localSnapshot(), url: "https://data.lacity.org/"})

	assert.Equal(t, SourceRemoteTool, got.Source)
	assert.Len(t, got.Elements, 1)
	assert.Equal(t, []string{"https://data.lacity.org/"}, remote.navigated)
	assert.True(t, remote.closed, "bridge session must always be closed")
}

func TestBuildFallsBackWhenRemoteOpenFails(t *testing.T) {
	remote := &fakeRemote{openErr: errors.New("spawn failed")}
	b := NewBuilder(func() RemoteSource { return remote }, zap.NewNop())

	got := b.Build(context.Background(), &fakeIntrospector{snapshot: localSnapshot()})

	assert.Equal(t, SourceLocalIntrospection, got.Source)
	assert.Len(t, got.Elements, 1)
	assert.True(t, remote.closed)
}

func TestBuildFallsBackWhenRemoteContextEmpty(t *testing.T) {
	tests := []struct {
		name    string
		pageCtx *Context
	}{
		{name: "NilContext", pageCtx: nil},
		{name: "NoElements", pageCtx: &Context{URL: "https://data.lacity.org/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{pageCtx: tt.pageCtx}
			b := NewBuilder(func() RemoteSource { return remote }, zap.NewNop())

			got := b.Build(context.Background(), &fakeIntrospector{snapshot: localSnapshot()})

			assert.Equal(t, SourceLocalIntrospection, got.Source)
			assert.True(t, remote.closed)
		})
	}
}

func TestBuildLocalOnlyWhenNoRemoteConfigured(t *testing.T) {
	b := NewBuilder(nil, zap.NewNop())

	got := b.Build(context.Background(), &fakeIntrospector{snapshot: localSnapshot()})

	assert.Equal(t, SourceLocalIntrospection, got.Source)
	assert.True(t, got.Hints[HintHasSearchBox])
}

func TestBuildNeverFails(t *testing.T) {
	b := NewBuilder(nil, zap.NewNop())

	got := b.Build(context.Background(), &fakeIntrospector{err: errors.New("browser gone")})

	assert.NotNil(t, got)
	assert.Equal(t, SourceLocalIntrospection, got.Source)
	assert.Empty(t, got.Elements)
	assert.NotNil(t, got.Hints)
}

func TestBuildSkipsNavigateForBlankPage(t *testing.T) {
	remote := &fakeRemote{
		pageCtx: &Context{Elements: []Element{{Role: "link", Name: "Browse"}}},
	}
	b := NewBuilder(func() RemoteSource { return remote }, zap.NewNop())

	b.Build(context.Background(), &fakeIntrospector{snapshot: localSnapshot(), url: "about:blank"})

	assert.Empty(t, remote.navigated)
}
