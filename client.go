package flags

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/controller"
	"github.com/vercel/flags-go/internal/usagetracker"
)

var clientIDSeq int64

// Client is the public façade of the Datafile Controller: the only type
// consumers bind against. It wraps a Controller with a monotonic id,
// initialize() dedup, and the evaluate() seam.
type Client struct {
	id        int64
	ctrl      *controller.Controller
	evaluator Evaluator

	initialized internal.AtomicBoolean
	sf          singleflight.Group

	mu        sync.Mutex
	evalMu    sync.RWMutex
	listeners map[<-chan DataSourceStatus]<-chan controller.Status
}

// NewClient builds a Client from Options, validating them and filling in
// defaults first. CreateClient is a shorthand that accepts a raw SDK key or
// connection string and passes the resulting Options here.
func NewClient(opts Options) (*Client, error) {
	normalized, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	ctrl := controller.New(controller.Options{
		SDKKey:            normalized.SDKKey,
		Host:              normalized.Host,
		UserAgent:         normalized.UserAgent,
		Datafile:          normalized.Datafile,
		StreamEnabled:     normalized.Stream.Enabled,
		StreamInitTimeout: normalized.Stream.InitTimeout,
		PollEnabled:       normalized.Poll.Enabled,
		PollInterval:      normalized.Poll.Interval,
		PollInitTimeout:   normalized.Poll.InitTimeout,
		BuildStep:         normalized.resolvedBuildStep(),
		Client:            normalized.HTTPClient,
		Loggers:           normalized.Loggers,
		H:                 normalized.H,
		BundledLoader:     normalized.BundledLoader,
	})

	return &Client{
		id:        atomic.AddInt64(&clientIDSeq, 1),
		ctrl:      ctrl,
		evaluator: defaultEvaluator{},
		listeners: make(map[<-chan DataSourceStatus]<-chan controller.Status),
	}, nil
}

// ID returns the client's monotonic identifier, unique within the process.
func (c *Client) ID() int64 { return c.id }

// SetEvaluator replaces the default environment-indexed evaluator with a
// caller-supplied one that understands targeting rules, segments, and
// splits.
func (c *Client) SetEvaluator(e Evaluator) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()
	c.evaluator = e
}

func (c *Client) currentEvaluator() Evaluator {
	c.evalMu.RLock()
	defer c.evalMu.RUnlock()
	return c.evaluator
}

// Initialize brings the underlying Controller to a steady state.
// Concurrent callers are deduplicated onto a single underlying attempt; a
// successful call makes subsequent calls effectively free.
func (c *Client) Initialize(ctx context.Context) error {
	_, err, _ := c.sf.Do("initialize", func() (interface{}, error) {
		if c.initialized.Get() {
			return nil, nil
		}
		err := c.ctrl.Initialize(ctx)
		if err == nil {
			c.initialized.Set(true)
		}
		return nil, err
	})
	return err
}

// Read returns the current Datafile along with Metrics describing how it
// was obtained, deduplicating per-request telemetry via reqCtx.
func (c *Client) Read(ctx context.Context, reqCtx usagetracker.RequestContext) (Result, error) {
	return c.ctrl.Read(ctx, reqCtx)
}

// GetDatafile never opens a stream: it serves the cached value if a stream
// is already live, otherwise performs a one-shot authenticated fetch and
// falls back to the bundled snapshot.
func (c *Client) GetDatafile(ctx context.Context) (Datafile, error) {
	return c.ctrl.GetDatafile(ctx)
}

// GetFallbackDatafile returns the bundled snapshot directly, without
// consulting any live source.
func (c *Client) GetFallbackDatafile() (Datafile, error) {
	return c.ctrl.GetFallbackDatafile()
}

// Shutdown stops both sources, flushes telemetry, and resets the client so
// a later Initialize call starts clean.
func (c *Client) Shutdown() {
	c.ctrl.Shutdown()
	c.initialized.Set(false)
}

// Current returns the client's current data-source status.
func (c *Client) Current() DataSourceStatus { return convertStatus(c.ctrl.Status()) }

// AddListener subscribes to data-source status transitions.
func (c *Client) AddListener() <-chan DataSourceStatus {
	src := c.ctrl.AddStatusListener()
	out := make(chan DataSourceStatus, 10)

	c.mu.Lock()
	c.listeners[out] = src
	c.mu.Unlock()

	go func() {
		for s := range src {
			select {
			case out <- convertStatus(s):
			default:
			}
		}
		close(out)
	}()
	return out
}

// RemoveListener unsubscribes a channel previously returned by AddListener.
func (c *Client) RemoveListener(ch <-chan DataSourceStatus) {
	c.mu.Lock()
	src, ok := c.listeners[ch]
	if ok {
		delete(c.listeners, ch)
	}
	c.mu.Unlock()
	if ok {
		c.ctrl.RemoveStatusListener(src)
	}
}

func convertStatus(s controller.Status) DataSourceStatus {
	var state DataSourceState
	switch s.State {
	case controller.StateStreaming:
		state = StateStreaming
	case controller.StatePolling:
		state = StatePolling
	case controller.StateDegraded:
		state = StateDegraded
	case controller.StateBuildReady:
		state = StateBuildReady
	case controller.StateShutdown:
		state = StateShutdown
	default:
		state = StateInitializing
	}
	return DataSourceStatus{State: state, StateSince: s.StateSince, LastError: s.LastError}
}

var _ StatusProvider = (*Client)(nil)

// Evaluate resolves a single flag against the client's current Datafile,
// auto-initializing the client on first call. It is a free function rather
// than a method because Go methods cannot carry their own type parameters.
func Evaluate[T any](ctx context.Context, c *Client, flagKey string, defaultValue T, entities map[string]any) EvaluationResult[T] {
	if !c.initialized.Get() {
		if err := c.Initialize(ctx); err != nil {
			return EvaluationResult[T]{Value: defaultValue, Reason: ReasonError, ErrorMessage: err.Error()}
		}
	}

	result, err := c.ctrl.Read(ctx, usagetracker.RequestContext{})
	if err != nil {
		return EvaluationResult[T]{Value: defaultValue, Reason: ReasonError, ErrorMessage: err.Error()}
	}

	return evaluateTyped(c.currentEvaluator(), result.Datafile, flagKey, defaultValue, entities, result.Metrics)
}
