package controller

import (
	"context"
	"time"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/datasource"
	"github.com/vercel/flags-go/internal/usagetracker"
)

// resolveFallback runs the degraded-mode fallback chain when neither the
// primary source nor a provided seed produced data in time: bundled
// snapshot first, then — only when no live source will eventually arrive on
// its own — a one-shot authenticated fetch. It ends in StateDegraded either
// way, since a stream or polling source may still be running in the
// background and recover on its own.
func (c *Controller) resolveFallback(ctx context.Context) error {
	c.mu.Lock()
	if c.data != nil {
		c.setState(StateDegraded, nil)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if bundledData, ok := c.bundled.TryLoad(c.opts.SDKKey); ok {
		c.mu.Lock()
		tagged := internal.TaggedDatafile{Datafile: bundledData, Origin: internal.OriginBundled}
		if isNewerData(c.data, tagged) {
			c.data = &tagged
		}
		c.setState(StateDegraded, nil)
		c.mu.Unlock()
		return nil
	}

	if !c.opts.StreamEnabled && !c.opts.PollEnabled {
		df, err := datasource.Fetch(ctx, datasource.FetchConfig{
			Host:      c.opts.Host,
			SDKKey:    c.opts.SDKKey,
			UserAgent: c.opts.UserAgent,
			Client:    c.opts.Client,
			Loggers:   c.opts.Loggers,
		})
		if err == nil {
			c.mu.Lock()
			tagged := internal.TaggedDatafile{Datafile: df, Origin: internal.OriginFetched}
			if isNewerData(c.data, tagged) {
				c.data = &tagged
			}
			c.setState(StateDegraded, nil)
			c.mu.Unlock()
			return nil
		}
		c.mu.Lock()
		c.setState(StateDegraded, err)
		c.mu.Unlock()
		if _, unauthorized := err.(*internal.UnauthorizedError); unauthorized {
			return err
		}
		return &internal.NoDataAvailableError{}
	}

	noData := &internal.NoDataAvailableError{}
	c.mu.Lock()
	c.setState(StateDegraded, noData)
	c.mu.Unlock()
	return noData
}

// resolveBuildStepData resolves the build-step datafile if it isn't already
// cached: provided seed first (nothing to do), then bundled snapshot, then a
// one-shot fetch. It mutates c.data/c.lastErr as a side effect so repeated
// calls converge on the same already-resolved datafile instead of
// re-fetching.
func (c *Controller) resolveBuildStepData(ctx context.Context) (*internal.TaggedDatafile, error) {
	c.mu.Lock()
	if c.data != nil {
		data := c.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	if bundledData, ok := c.bundled.TryLoad(c.opts.SDKKey); ok {
		tagged := &internal.TaggedDatafile{Datafile: bundledData, Origin: internal.OriginBundled}
		c.mu.Lock()
		c.data = tagged
		c.mu.Unlock()
		return tagged, nil
	}

	df, err := datasource.Fetch(ctx, datasource.FetchConfig{
		Host:      c.opts.Host,
		SDKKey:    c.opts.SDKKey,
		UserAgent: c.opts.UserAgent,
		Client:    c.opts.Client,
		Loggers:   c.opts.Loggers,
	})
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return nil, err
	}

	tagged := &internal.TaggedDatafile{Datafile: df, Origin: internal.OriginFetched}
	c.mu.Lock()
	c.data = tagged
	c.mu.Unlock()
	return tagged, nil
}

// initBuildStep resolves a datafile once for a build-time prerender: no
// stream, no polling, nothing is left running afterward. Order is provided
// seed, then bundled snapshot, then a one-shot fetch.
func (c *Controller) initBuildStep(ctx context.Context) error {
	c.mu.Lock()
	c.setState(StateBuildLoading, nil)
	c.mu.Unlock()

	_, err := c.resolveBuildStepData(ctx)

	c.mu.Lock()
	c.setState(StateBuildReady, err)
	c.mu.Unlock()
	return err
}

// readBuildStep serves a read during a build-time prerender. If nothing has
// resolved the datafile yet — Read called without a prior Initialize — it
// runs the same bundled/fetch resolution inline and reports CacheMiss;
// subsequent reads find the datafile already cached and report CacheHit.
func (c *Controller) readBuildStep(ctx context.Context, start time.Time, reqCtx usagetracker.RequestContext) (internal.Result, error) {
	c.mu.Lock()
	alreadyResolved := c.data != nil
	c.mu.Unlock()

	tagged, err := c.resolveBuildStepData(ctx)
	if err != nil {
		return internal.Result{}, err
	}

	c.mu.Lock()
	c.setState(StateBuildReady, nil)
	c.mu.Unlock()

	cacheStatus := internal.CacheHit
	if !alreadyResolved {
		cacheStatus = internal.CacheMiss
	}
	return c.finishRead(*tagged, start, cacheStatus, internal.ConnectionDisconnected, reqCtx), nil
}
