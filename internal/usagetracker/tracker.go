// Package usagetracker implements the per-request-deduplicated, batched
// telemetry sink that reports read activity to the ingest endpoint. An
// actor loop (a single goroutine draining an inbox channel) owns the batch
// state so callers never block on a network round trip.
package usagetracker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
	"github.com/vercel/flags-go/internal/host"
)

const (
	// maxBatchSize is the per-stream ceiling on buffered events before a
	// flush is forced.
	maxBatchSize = 1000
	// maxWait is the time-based flush trigger.
	maxWait = 5 * time.Second
	// inboxCapacity bounds how many trackRead calls can queue before
	// TrackRead starts dropping events rather than blocking the caller.
	inboxCapacity = 4096

	dedupTTL        = 5 * time.Minute
	dedupCleanup    = 10 * time.Minute
	sendRetries     = 3
	sendRetryDelay  = 1 * time.Second
	debugHeaderName = "x-vercel-debug-ingest"
)

// Payload is the telemetry body for a single read event.
type Payload struct {
	DeploymentID     string              `json:"deploymentId"`
	Region           string              `json:"region"`
	InvocationHost   string              `json:"invocationHost"`
	VercelRequestID  string              `json:"vercelRequestId"`
	CacheStatus      internal.CacheStatus `json:"cacheStatus"`
	CacheIsBlocking  bool                `json:"cacheIsBlocking"`
	CacheIsFirstRead bool                `json:"cacheIsFirstRead"`
	Duration         float64             `json:"duration"`
	ConfigUpdatedAt  json.RawMessage     `json:"configUpdatedAt,omitempty"`
	ConfigOrigin     internal.Origin     `json:"configOrigin"`
}

// Event is the wire shape of one telemetry record.
type Event struct {
	Type    string  `json:"type"`
	Ts      int64   `json:"ts"`
	Payload Payload `json:"payload"`
}

// RequestContext identifies the ambient per-request scope a read happened
// in. Go has no weak references, so instead of a WeakSet-of-contexts, dedup
// here is a TTL-bounded cache keyed by ID.
type RequestContext struct {
	ID string
}

type message interface{}

type trackReadMessage struct {
	ctx     RequestContext
	payload Payload
}

type flushMessage struct {
	done chan struct{}
}

type shutdownMessage struct {
	done chan struct{}
}

// Config configures a Tracker.
type Config struct {
	Host    string
	SDKKey  string
	Client  *http.Client
	Loggers *corelog.Loggers
	H       host.Host
}

// Tracker batches read telemetry and POSTs it as NDJSON to
// {host}/v1/ingest. Construction starts its background actor goroutine;
// callers must call Close to stop it and flush any buffered events.
type Tracker struct {
	cfg       Config
	inbox     chan message
	dedup     *gocache.Cache
	closeOnce sync.Once
	cancelHook func()
	inboxFullOnce sync.Once
}

// New creates and starts a Tracker.
func New(cfg Config) *Tracker {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	t := &Tracker{
		cfg:   cfg,
		inbox: make(chan message, inboxCapacity),
		dedup: gocache.New(dedupTTL, dedupCleanup),
	}
	go t.run()
	if cfg.H != nil && host.IsVercelNonDevDeployment(cfg.H) {
		t.cancelHook = cfg.H.NotifyShutdown(func() { t.Flush() })
	}
	return t
}

// TrackRead records a read event, deduplicated per RequestContext.ID. It
// never blocks the caller: if the actor's inbox is full, the event is
// dropped and logged once.
func (t *Tracker) TrackRead(reqCtx RequestContext, payload Payload) {
	if reqCtx.ID != "" {
		if _, seen := t.dedup.Get(reqCtx.ID); seen {
			return
		}
		t.dedup.SetDefault(reqCtx.ID, struct{}{})
	}
	select {
	case t.inbox <- trackReadMessage{ctx: reqCtx, payload: payload}:
	default:
		t.inboxFullOnce.Do(func() {
			if t.cfg.Loggers != nil {
				t.cfg.Loggers.Warn("telemetry events are being produced faster than they can be sent; some will be dropped")
			}
		})
	}
}

// Flush drains all buffered events and awaits the in-flight POST. It is
// idempotent and safe to call repeatedly, including after Close.
func (t *Tracker) Flush() {
	done := make(chan struct{})
	select {
	case t.inbox <- flushMessage{done: done}:
		<-done
	default:
		// Inbox is saturated; best effort only, per spec's lossy-under-overload policy.
	}
}

// Close stops the actor goroutine after flushing any buffered events.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		if t.cancelHook != nil {
			t.cancelHook()
		}
		done := make(chan struct{})
		t.inbox <- flushMessage{done: make(chan struct{})}
		t.inbox <- shutdownMessage{done: done}
		<-done
	})
}

func (t *Tracker) run() {
	var batch []Event
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		t.send(batch)
		batch = nil
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(maxWait)
	}

	for {
		select {
		case m := <-t.inbox:
			switch msg := m.(type) {
			case trackReadMessage:
				batch = append(batch, Event{
					Type:    "FLAGS_CONFIG_READ",
					Ts:      t.now(),
					Payload: msg.payload,
				})
				if len(batch) >= maxBatchSize {
					flush()
				}
			case flushMessage:
				flush()
				close(msg.done)
			case shutdownMessage:
				flush()
				close(msg.done)
				return
			}
		case <-timer.C:
			flush()
			timer.Reset(maxWait)
		}
	}
}

func (t *Tracker) now() int64 {
	if t.cfg.H != nil {
		return t.cfg.H.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// send POSTs batch as NDJSON, retrying 5xx responses a small bounded number
// of times with a short fixed delay; 4xx is logged and discarded.
func (t *Tracker) send(batch []Event) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			if t.cfg.Loggers != nil {
				t.cfg.Loggers.Errorf("failed to encode telemetry event: %s", err)
			}
			continue
		}
	}

	url := t.cfg.Host + "/v1/ingest"
	payloadID := uuid.New().String()
	debug := t.cfg.H != nil && host.IsDebug(t.cfg.H)

	for attempt := 0; attempt < sendRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return
		}
		req.Header.Set("Authorization", "Bearer "+t.cfg.SDKKey)
		req.Header.Set("Content-Type", "application/x-ndjson")
		req.Header.Set("X-Payload-ID", payloadID)
		if debug {
			req.Header.Set(debugHeaderName, "1")
		}

		resp, doErr := t.cfg.Client.Do(req)
		if doErr != nil {
			if t.cfg.Loggers != nil {
				t.cfg.Loggers.Warnf("telemetry POST failed: %s", doErr)
			}
			time.Sleep(sendRetryDelay)
			continue
		}
		resp.Body.Close()

		if debug && t.cfg.Loggers != nil {
			t.cfg.Loggers.Debugf("telemetry POST status=%d x-vercel-id=%s", resp.StatusCode, resp.Header.Get("x-vercel-id"))
		}

		if resp.StatusCode/100 == 2 {
			return
		}
		if resp.StatusCode/100 == 4 {
			if t.cfg.Loggers != nil {
				t.cfg.Loggers.Warnf("telemetry POST rejected with status %d; discarding batch", resp.StatusCode)
			}
			return
		}
		// 5xx: retry after a short fixed delay.
		time.Sleep(sendRetryDelay)
	}
}
