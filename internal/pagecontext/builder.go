// internal/pagecontext/builder.go
package pagecontext

import (
	"context"

	"go.uber.org/zap"
)

// Builder assembles a page context, preferring the remote tool server and
// degrading to local introspection. Build never fails; the worst case is an
// empty local context.
type Builder struct {
	// newRemote creates one bridge session per Build. Nil disables the
	// remote path entirely.
	newRemote func() RemoteSource
	logger    *zap.Logger
}

// NewBuilder wires a builder. Pass nil for newRemote to run local-only.
func NewBuilder(newRemote func() RemoteSource, logger *zap.Logger) *Builder {
	return &Builder{
		newRemote: newRemote,
		logger:    logger.Named("context_builder"),
	}
}

// Build produces the page context the planner will see.
func (b *Builder) Build(ctx context.Context, intro Introspector) *Context {
	if b.newRemote != nil {
		if remote := b.buildRemote(ctx, intro); remote != nil {
			b.logger.Info("Page context built from remote tool server.",
				zap.Int("elements", len(remote.Elements)))
			return remote
		}
		b.logger.Info("Remote context unavailable; using local introspection.")
	}

	local, err := intro.Introspect(ctx)
	if err != nil || local == nil {
		b.logger.Warn("Local introspection failed; returning empty context.", zap.Error(err))
		return &Context{
			Source: SourceLocalIntrospection,
			Hints:  map[string]bool{},
		}
	}

	local.Source = SourceLocalIntrospection
	return local
}

// buildRemote runs one complete bridge session on a worker goroutine and
// hands the outcome back over a single-slot channel. The caller blocks until
// the session completes or the context expires; a session abandoned by an
// expired context still tears itself down.
func (b *Builder) buildRemote(ctx context.Context, intro Introspector) *Context {
	type outcome struct {
		pageCtx *Context
		err     error
	}
	results := make(chan outcome, 1)

	go func() {
		remote := b.newRemote()
		pageCtx, err := b.runBridgeSession(ctx, remote, intro)

		// Tear down before handing the outcome back so an observer of the
		// returned context never sees a half-closed session.
		if cerr := remote.Close(); cerr != nil {
			b.logger.Debug("Bridge close failed.", zap.Error(cerr))
		}
		results <- outcome{pageCtx: pageCtx, err: err}
	}()

	select {
	case out := <-results:
		if out.err != nil {
			b.logger.Warn("Bridge session failed.", zap.Error(out.err))
			return nil
		}
		if out.pageCtx == nil || len(out.pageCtx.Elements) == 0 {
			return nil
		}
		out.pageCtx.Source = SourceRemoteTool
		return out.pageCtx
	case <-ctx.Done():
		b.logger.Warn("Context build cancelled while waiting on bridge.", zap.Error(ctx.Err()))
		return nil
	}
}

// runBridgeSession opens the bridge, points the server's browser at the page
// we are looking at, and reads one snapshot. Navigation is best effort; the
// snapshot of a blank page simply comes back empty.
func (b *Builder) runBridgeSession(ctx context.Context, remote RemoteSource, intro Introspector) (*Context, error) {
	if err := remote.Open(ctx); err != nil {
		return nil, err
	}

	if url, err := intro.CurrentURL(ctx); err == nil && url != "" && url != "about:blank" {
		if !remote.Navigate(ctx, url) {
			b.logger.Debug("Remote navigation unavailable.", zap.String("url", url))
		}
	}

	return remote.GetContext(ctx), nil
}
