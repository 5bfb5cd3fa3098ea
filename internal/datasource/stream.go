package datasource

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
)

const (
	// MaxRetryCount bounds how many times the stream will reconnect before
	// giving up permanently.
	MaxRetryCount = 15

	streamMinAttemptGap = 1 * time.Second

	streamingErrorContext     = "in stream connection"
	streamingWillRetryMessage = "will retry"
)

// StreamConfig configures a Stream source.
type StreamConfig struct {
	Host      string
	SDKKey    string
	UserAgent string
	Client    *http.Client
	Loggers   *corelog.Loggers
	// ExtraHeaders are cloned onto every connection attempt, on top of the
	// standard Authorization/User-Agent/X-Retry-Attempt headers.
	ExtraHeaders http.Header
}

// Stream maintains a single long-lived NDJSON connection to the push
// endpoint, reconnecting with bounded exponential backoff on any
// disconnect. A 401 is terminal.
type Stream struct {
	cfg StreamConfig

	dataCh         chan internal.Datafile
	connectedCh    chan struct{}
	disconnectedCh chan struct{}
	halt           chan struct{}
	closeOnce      sync.Once

	mu          sync.Mutex
	retryCount  int
	lastAttempt time.Time
	gotFirst    bool
	err         error
}

// NewStream creates a Stream ready to Start.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Stream{
		cfg:            cfg,
		dataCh:         make(chan internal.Datafile, 1),
		connectedCh:    make(chan struct{}, 1),
		disconnectedCh: make(chan struct{}, 1),
		halt:           make(chan struct{}),
	}
}

// Data emits a Datafile every time a "datafile" message is parsed from the
// stream.
func (s *Stream) Data() <-chan internal.Datafile { return s.dataCh }

// Connected emits once the first datafile arrives on a new connection.
func (s *Stream) Connected() <-chan struct{} { return s.connectedCh }

// Disconnected emits on every socket teardown (including ones that will be
// retried).
func (s *Stream) Disconnected() <-chan struct{} { return s.disconnectedCh }

// Err returns the terminal error that ended the stream permanently, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start launches the connect/reconnect loop in the background and returns a
// channel that closes once either the first datafile has arrived (first-byte
// semantics) or the stream has permanently failed (e.g. 401, context
// canceled before data, or MaxRetryCount exceeded). Callers should check
// Err() after the channel closes to distinguish success from failure.
func (s *Stream) Start(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	var readyOnce sync.Once
	closeReady := func() { readyOnce.Do(func() { close(ready) }) }
	go s.run(ctx, closeReady)
	return ready
}

// Stop permanently halts the stream and releases its resources. A Stream
// must not be reused after Stop.
func (s *Stream) Stop() {
	s.closeOnce.Do(func() { close(s.halt) })
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) run(ctx context.Context, closeReady func()) {
	for {
		select {
		case <-s.halt:
			closeReady()
			return
		case <-ctx.Done():
			s.setErr(ctx.Err())
			closeReady()
			return
		default:
		}

		s.mu.Lock()
		retryCount := s.retryCount
		lastAttempt := s.lastAttempt
		s.mu.Unlock()

		if gap := time.Since(lastAttempt); retryCount > 0 && gap < streamMinAttemptGap {
			select {
			case <-time.After(streamMinAttemptGap - gap):
			case <-s.halt:
				closeReady()
				return
			case <-ctx.Done():
				s.setErr(ctx.Err())
				closeReady()
				return
			}
		}

		s.mu.Lock()
		s.lastAttempt = time.Now()
		s.mu.Unlock()

		gotFirstThisAttempt, terminal, err := s.connectOnce(ctx, retryCount, closeReady)
		select {
		case s.disconnectedCh <- struct{}{}:
		default:
		}

		if terminal {
			s.setErr(err)
			closeReady()
			return
		}

		s.mu.Lock()
		if gotFirstThisAttempt {
			s.retryCount = 0
		} else {
			s.retryCount++
		}
		nextRetryCount := s.retryCount
		s.mu.Unlock()

		if nextRetryCount > MaxRetryCount {
			s.setErr(fmt.Errorf("stream: exceeded max retry count (%d)", MaxRetryCount))
			closeReady()
			return
		}

		delay := streamBackoff(nextRetryCount)
		select {
		case <-time.After(delay):
		case <-s.halt:
			closeReady()
			return
		case <-ctx.Done():
			s.setErr(ctx.Err())
			closeReady()
			return
		}
	}
}

// connectOnce performs a single connection attempt and blocks until the
// connection ends. It returns whether at least one datafile was received on
// this attempt, and whether the failure (if any) is terminal: a request that
// cannot be built, a 401, or any other 4xx except 408 and 429.
func (s *Stream) connectOnce(ctx context.Context, retryCount int, closeReady func()) (gotFirst bool, terminal bool, err error) {
	url := s.cfg.Host + "/v1/stream"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return false, true, reqErr
	}
	if len(s.cfg.ExtraHeaders) > 0 {
		req.Header = maps.Clone(s.cfg.ExtraHeaders)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SDKKey)
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("X-Retry-Attempt", fmt.Sprintf("%d", retryCount))

	resp, doErr := s.cfg.Client.Do(req)
	if doErr != nil {
		checkIfErrorIsRecoverableAndLog(s.cfg.Loggers, doErr.Error(), streamingErrorContext, 0, streamingWillRetryMessage)
		return false, false, doErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		httpErr := internal.CheckForHTTPError(resp.StatusCode, url)
		recoverable := checkIfErrorIsRecoverableAndLog(
			s.cfg.Loggers,
			httpErr.Error(),
			streamingErrorContext,
			resp.StatusCode,
			streamingWillRetryMessage,
		)
		if !recoverable {
			return false, true, httpErr
		}
		return false, false, httpErr
	}

	reader := NewReader(resp.Body, s.cfg.Loggers)
	for {
		msg, readErr := reader.Next()
		if readErr != nil {
			return gotFirst, false, readErr
		}
		switch msg.Type {
		case MessageDatafile:
			first := !gotFirst
			if first {
				gotFirst = true
				select {
				case s.connectedCh <- struct{}{}:
				default:
				}
			}
			select {
			case s.dataCh <- msg.Data:
			case <-s.halt:
				return gotFirst, false, nil
			case <-ctx.Done():
				return gotFirst, false, ctx.Err()
			}
			if first {
				closeReady()
			}
		case MessagePing:
			s.mu.Lock()
			s.retryCount = 0
			s.mu.Unlock()
		}

		select {
		case <-s.halt:
			return gotFirst, false, nil
		case <-ctx.Done():
			return gotFirst, false, ctx.Err()
		default:
		}
	}
}
