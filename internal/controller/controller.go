// Package controller implements the Datafile Controller: the state machine
// that selects a primary source (stream or polling), wires its events,
// owns the single cached datafile, enforces monotonicity, and serves reads
// with metrics. It composes internal/datasource's three sources and
// internal/usagetracker's telemetry sink behind one API, with each source
// pumped by its own goroutine so it is the sole writer for its events.
package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/broadcast"
	"github.com/vercel/flags-go/internal/corelog"
	"github.com/vercel/flags-go/internal/datasource"
	"github.com/vercel/flags-go/internal/host"
	"github.com/vercel/flags-go/internal/usagetracker"
)

// State is one node of the Controller's state machine.
type State string

// The closed set of Controller states.
const (
	StateIdle         State = "idle"
	StateBuildLoading State = "build:loading"
	StateBuildReady   State = "build:ready"
	StateInitStream   State = "initializing:stream"
	StateInitPolling  State = "initializing:polling"
	StateInitFallback State = "initializing:fallback"
	StateStreaming    State = "streaming"
	StatePolling      State = "polling"
	StateDegraded     State = "degraded"
	StateShutdown     State = "shutdown"
)

// Status is one transition of the Controller's state machine.
type Status struct {
	State      State
	StateSince time.Time
	LastError  error
}

// Options configures a Controller. New replaces zero init timeouts with 3s
// and raises PollInterval to datasource.MinPollInterval; Client, Loggers and
// H may be nil.
type Options struct {
	SDKKey            string
	Host              string
	UserAgent         string
	Datafile          *internal.Datafile // optional: seed cache immediately
	StreamEnabled     bool
	StreamInitTimeout time.Duration
	PollEnabled       bool
	PollInterval      time.Duration
	PollInitTimeout   time.Duration
	BuildStep         bool
	Client            *http.Client
	Loggers           *corelog.Loggers
	H                 host.Host
	BundledLoader     datasource.Loader // optional: build-generated snapshot module
}

// Controller owns the single cached datafile and the state machine that
// keeps it fresh. The zero value is not usable; construct with New.
type Controller struct {
	opts Options

	mu          sync.Mutex
	data        *internal.TaggedDatafile
	state       State
	stateSince  time.Time
	lastErr     error
	stream      *datasource.Stream
	polling     *datasource.Polling
	pollPrimary bool
	pollRunning bool
	streamCancel context.CancelFunc

	initializing chan struct{}
	initialized  bool
	initErr      error

	bundled  *datasource.Bundled
	tracker  *usagetracker.Tracker
	status   *broadcast.Broadcaster[Status]

	shutdownOnce sync.Once
	runCtx       context.Context
	runCancel    context.CancelFunc
}

// New creates a Controller. The telemetry tracker is created here and its
// background goroutine starts immediately; the stream and polling sources
// are created and started only by Initialize.
func New(opts Options) *Controller {
	if opts.StreamInitTimeout <= 0 {
		opts.StreamInitTimeout = 3 * time.Second
	}
	if opts.PollInitTimeout <= 0 {
		opts.PollInitTimeout = 3 * time.Second
	}
	if opts.PollInterval < datasource.MinPollInterval {
		opts.PollInterval = datasource.MinPollInterval
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	c := &Controller{
		opts:      opts,
		state:     StateIdle,
		stateSince: time.Now(),
		status:    broadcast.New[Status](),
		bundled:   datasource.NewBundled(opts.BundledLoader),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	if opts.Datafile != nil {
		tagged := internal.TaggedDatafile{Datafile: *opts.Datafile, Origin: internal.OriginProvided}
		c.data = &tagged
	}
	c.tracker = usagetracker.New(usagetracker.Config{
		Host:    opts.Host,
		SDKKey:  opts.SDKKey,
		Client:  opts.Client,
		Loggers: opts.Loggers,
		H:       opts.H,
	})
	return c
}

// Status returns the current state-machine status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, StateSince: c.stateSince, LastError: c.lastErr}
}

// AddStatusListener subscribes to state-machine transitions.
func (c *Controller) AddStatusListener() <-chan Status { return c.status.AddListener() }

// RemoveStatusListener unsubscribes a channel from AddStatusListener.
func (c *Controller) RemoveStatusListener(ch <-chan Status) { c.status.RemoveListener(ch) }

func (c *Controller) setState(s State, err error) {
	c.state = s
	c.stateSince = time.Now()
	c.lastErr = err
	c.status.Broadcast(Status{State: s, StateSince: c.stateSince, LastError: err})
}

func modeFor(s State) internal.Mode {
	switch s {
	case StateStreaming:
		return internal.ModeStreaming
	case StatePolling:
		return internal.ModePolling
	case StateBuildLoading, StateBuildReady:
		return internal.ModeBuild
	default:
		return internal.ModeOffline
	}
}

// Initialize drives the state machine to a steady state. It is idempotent:
// concurrent callers await the same underlying attempt, and a successful
// initialization makes subsequent calls O(1).
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	if c.initializing != nil {
		ch := c.initializing
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		err := c.initErr
		c.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	c.initializing = ch
	c.mu.Unlock()

	err := c.doInitialize(ctx)

	c.mu.Lock()
	c.initErr = err
	c.initialized = err == nil
	c.initializing = nil
	c.mu.Unlock()
	close(ch)
	return err
}

func (c *Controller) doInitialize(ctx context.Context) error {
	if c.opts.BuildStep {
		return c.initBuildStep(ctx)
	}

	c.mu.Lock()
	hasData := c.data != nil
	c.mu.Unlock()
	if hasData {
		c.startPrimaryBackground()
		return nil
	}

	if c.opts.StreamEnabled {
		c.mu.Lock()
		c.setState(StateInitStream, nil)
		c.mu.Unlock()
		if c.runStreamPrimary() {
			return nil
		}
	} else if c.opts.PollEnabled {
		c.mu.Lock()
		c.setState(StateInitPolling, nil)
		c.mu.Unlock()
		if c.runPollPrimary() {
			return nil
		}
	}

	c.mu.Lock()
	c.setState(StateInitFallback, nil)
	c.mu.Unlock()
	return c.resolveFallback(ctx)
}

func (c *Controller) startPrimaryBackground() {
	c.mu.Lock()
	if c.opts.StreamEnabled {
		c.setState(StateStreaming, nil)
	} else if c.opts.PollEnabled {
		c.setState(StatePolling, nil)
	}
	c.mu.Unlock()

	if c.opts.StreamEnabled {
		go c.runStreamPrimary()
	} else if c.opts.PollEnabled {
		go c.runPollPrimary()
	}
}

// runStreamPrimary starts the stream as the primary source and blocks until
// either the first datafile arrives or the init timeout elapses. On
// timeout, the stream is left running in the background rather than
// killed; a later connection still populates the cache and flips the state
// to streaming.
func (c *Controller) runStreamPrimary() bool {
	cfg := datasource.StreamConfig{
		Host:      c.opts.Host,
		SDKKey:    c.opts.SDKKey,
		UserAgent: c.opts.UserAgent,
		Client:    c.opts.Client,
		Loggers:   c.opts.Loggers,
	}
	stream := datasource.NewStream(cfg)

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	go c.pumpStream(stream)

	ready := stream.Start(c.runCtx)
	select {
	case <-ready:
		if stream.Err() == nil {
			c.mu.Lock()
			c.setState(StateStreaming, nil)
			c.mu.Unlock()
			return true
		}
		return false
	case <-time.After(c.opts.StreamInitTimeout):
		return false
	}
}

// runPollPrimary starts polling as the primary source: an explicit first
// poll races against the init timeout, then the recurring interval is
// armed regardless of the first poll's outcome (errors never tear down the
// interval).
func (c *Controller) runPollPrimary() bool {
	cfg := datasource.PollConfig{
		Host:      c.opts.Host,
		SDKKey:    c.opts.SDKKey,
		UserAgent: c.opts.UserAgent,
		Interval:  c.opts.PollInterval,
		Client:    c.opts.Client,
		Loggers:   c.opts.Loggers,
	}
	polling := datasource.NewPolling(cfg)

	c.mu.Lock()
	c.polling = polling
	c.pollPrimary = true
	c.pollRunning = true
	c.mu.Unlock()

	go c.pumpPoll(polling)

	firstErrCh := make(chan error, 1)
	go func() { firstErrCh <- polling.Poll() }()

	var success bool
	select {
	case err := <-firstErrCh:
		success = err == nil
	case <-time.After(c.opts.PollInitTimeout):
		success = false
	}

	polling.StartInterval()

	if success {
		c.mu.Lock()
		c.setState(StatePolling, nil)
		c.mu.Unlock()
	}
	return success
}

// pumpStream is the single reader of a Stream's event channels; it is the
// only goroutine that may write into the cache on the stream's behalf,
// preserving per-source event ordering.
func (c *Controller) pumpStream(s *datasource.Stream) {
	for {
		select {
		case df := <-s.Data():
			c.onStreamData(df)
		case <-s.Connected():
			c.onStreamConnected()
		case <-s.Disconnected():
			c.onStreamDisconnected()
		case <-c.runCtx.Done():
			return
		}
	}
}

func (c *Controller) onStreamData(df internal.Datafile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tagged := internal.TaggedDatafile{Datafile: df, Origin: internal.OriginStream}
	if isNewerData(c.data, tagged) {
		c.data = &tagged
	}
}

func (c *Controller) onStreamConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pollPrimary && c.pollRunning {
		// Stream reconnected while polling was running as a disconnect
		// secondary; stop the secondary poller now that the stream is live.
		c.polling.Stop()
		c.pollRunning = false
	}
	c.setState(StateStreaming, nil)
}

func (c *Controller) onStreamDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStreaming {
		return
	}
	c.setState(StateDegraded, nil)
	if c.opts.PollEnabled && !c.pollRunning {
		cfg := datasource.PollConfig{
			Host:      c.opts.Host,
			SDKKey:    c.opts.SDKKey,
			UserAgent: c.opts.UserAgent,
			Interval:  c.opts.PollInterval,
			Client:    c.opts.Client,
			Loggers:   c.opts.Loggers,
		}
		polling := datasource.NewPolling(cfg)
		c.polling = polling
		c.pollPrimary = false
		c.pollRunning = true
		go c.pumpPoll(polling)
		polling.StartInterval()
	}
}

func (c *Controller) pumpPoll(p *datasource.Polling) {
	for {
		select {
		case df := <-p.Data():
			c.onPollData(df)
		case <-p.Error():
			// errors never tear down the interval; nothing further to do.
		case <-c.runCtx.Done():
			return
		}
	}
}

func (c *Controller) onPollData(df internal.Datafile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tagged := internal.TaggedDatafile{Datafile: df, Origin: internal.OriginPoll}
	if isNewerData(c.data, tagged) {
		c.data = &tagged
	}
	if c.pollPrimary {
		c.setState(StatePolling, nil)
	}
}

// Read serves a datafile read, recording Metrics describing how it was
// obtained and reporting the read to the usage tracker.
func (c *Controller) Read(ctx context.Context, reqCtx usagetracker.RequestContext) (internal.Result, error) {
	start := time.Now()

	if c.opts.BuildStep {
		return c.readBuildStep(ctx, start, reqCtx)
	}

	c.mu.Lock()
	data := c.data
	state := c.state
	c.mu.Unlock()

	if data != nil {
		cacheStatus, connState := cacheStatusFor(state)
		return c.finishRead(*data, start, cacheStatus, connState, reqCtx), nil
	}

	if err := c.resolveFallback(ctx); err != nil {
		return internal.Result{}, err
	}

	c.mu.Lock()
	data = c.data
	c.mu.Unlock()
	if data == nil {
		return internal.Result{}, &internal.NoDataAvailableError{}
	}
	return c.finishRead(*data, start, internal.CacheMiss, internal.ConnectionDisconnected, reqCtx), nil
}

func cacheStatusFor(state State) (internal.CacheStatus, internal.ConnectionState) {
	switch state {
	case StateStreaming, StatePolling:
		return internal.CacheHit, internal.ConnectionConnected
	default:
		return internal.CacheStale, internal.ConnectionDisconnected
	}
}

func (c *Controller) finishRead(
	tagged internal.TaggedDatafile,
	start time.Time,
	cacheStatus internal.CacheStatus,
	connState internal.ConnectionState,
	reqCtx usagetracker.RequestContext,
) internal.Result {
	c.mu.Lock()
	mode := modeFor(c.state)
	c.mu.Unlock()

	readMs := float64(time.Since(start)) / float64(time.Millisecond)
	metrics := internal.Metrics{
		ReadMs:          readMs,
		Source:          tagged.Origin.PublicSource(),
		CacheStatus:     cacheStatus,
		ConnectionState: connState,
		Mode:            mode,
		ConfigUpdatedAt: tagged.ConfigUpdatedAt,
	}

	c.tracker.TrackRead(reqCtx, usagetracker.Payload{
		DeploymentID:     hostOrEmpty(c.opts.H, host.DeploymentID),
		Region:           hostOrEmpty(c.opts.H, host.Region),
		VercelRequestID:  reqCtx.ID,
		CacheStatus:      cacheStatus,
		CacheIsBlocking:  cacheStatus == internal.CacheMiss,
		CacheIsFirstRead: cacheStatus == internal.CacheMiss,
		Duration:         readMs,
		ConfigUpdatedAt:  tagged.ConfigUpdatedAt,
		ConfigOrigin:     tagged.Origin,
	})

	return internal.Result{Datafile: tagged.Datafile, Metrics: metrics}
}

func hostOrEmpty(h host.Host, fn func(host.Host) string) string {
	if h == nil {
		return ""
	}
	return fn(h)
}

// GetDatafile never opens a stream. If a live stream is already serving it
// returns the cached value; otherwise it performs a one-shot authenticated
// fetch, falling back to the bundled snapshot.
func (c *Controller) GetDatafile(ctx context.Context) (internal.Datafile, error) {
	c.mu.Lock()
	data := c.data
	state := c.state
	c.mu.Unlock()

	if data != nil && state == StateStreaming {
		return data.Datafile, nil
	}

	df, err := datasource.Fetch(ctx, datasource.FetchConfig{
		Host:      c.opts.Host,
		SDKKey:    c.opts.SDKKey,
		UserAgent: c.opts.UserAgent,
		Client:    c.opts.Client,
		Loggers:   c.opts.Loggers,
	})
	if err == nil {
		return df, nil
	}

	if bundledData, ok := c.bundled.TryLoad(c.opts.SDKKey); ok {
		return bundledData, nil
	}
	return internal.Datafile{}, &internal.NoDataAvailableError{}
}

// GetFallbackDatafile delegates to the bundled snapshot, returning typed
// errors when no snapshot or no matching entry is available.
func (c *Controller) GetFallbackDatafile() (internal.Datafile, error) {
	return c.bundled.GetRaw(c.opts.SDKKey)
}

// Shutdown stops both sources, removes their wired event handlers (by
// canceling the context the pump goroutines select on), resets the cache
// to the provided datafile (if any), and flushes the usage tracker.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.runCancel()

		c.mu.Lock()
		if c.stream != nil {
			c.stream.Stop()
		}
		if c.polling != nil {
			c.polling.Stop()
		}
		if c.opts.Datafile != nil {
			tagged := internal.TaggedDatafile{Datafile: *c.opts.Datafile, Origin: internal.OriginProvided}
			c.data = &tagged
		} else {
			c.data = nil
		}
		c.setState(StateShutdown, nil)
		c.mu.Unlock()

		c.tracker.Close()
		c.status.Close()
	})
}
