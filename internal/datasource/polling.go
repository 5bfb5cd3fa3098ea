package datasource

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/exp/maps"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
)

const (
	pollingErrorContext     = "on polling request"
	pollingWillRetryMessage = "will retry at next scheduled poll interval"

	// MinPollInterval is the floor enforced on PollConfig.Interval.
	MinPollInterval = 30 * time.Second
)

// PollConfig configures a Polling source.
type PollConfig struct {
	Host      string
	SDKKey    string
	UserAgent string
	Interval  time.Duration
	Client    *http.Client
	Loggers   *corelog.Loggers
	// ExtraHeaders are cloned onto every poll request, on top of the
	// standard Authorization/User-Agent headers.
	ExtraHeaders http.Header
}

// Polling fetches the datafile on a fixed interval. Poll() performs one
// request on demand; StartInterval() arms the recurring timer without an
// immediate poll, so the Controller can issue the first poll itself and
// reason about its init-timeout independently of the ticker.
type Polling struct {
	cfg        PollConfig
	httpClient *http.Client

	dataCh  chan internal.Datafile
	errorCh chan error

	mu      sync.Mutex
	ticker  *time.Ticker
	stopped bool
}

// NewPolling creates a Polling source wired with an httpcache-backed
// transport, so a server-side 304/Cache-Control response is honored without
// the Controller re-ingesting unchanged data.
func NewPolling(cfg PollConfig) *Polling {
	base := cfg.Client
	if base == nil {
		base = http.DefaultClient
	}
	cached := *base
	cached.Transport = &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           base.Transport,
	}
	return &Polling{
		cfg:        cfg,
		httpClient: &cached,
		dataCh:     make(chan internal.Datafile, 1),
		errorCh:    make(chan error, 1),
	}
}

// Data emits a Datafile after every successful, non-cached poll.
func (p *Polling) Data() <-chan internal.Datafile { return p.dataCh }

// Error emits after every failed poll. Errors never stop the interval.
func (p *Polling) Error() <-chan error { return p.errorCh }

// Poll performs a single fetch, sending the result on Data() or Error().
// It returns the same error for callers that want to inspect it
// synchronously (e.g. the Controller's init-timeout race).
func (p *Polling) Poll() error {
	if p.cfg.Loggers != nil && p.cfg.Loggers.IsDebugEnabled() {
		p.cfg.Loggers.Debug("polling for flag definitions")
	}
	data, cached, err := p.request()
	if err != nil {
		select {
		case p.errorCh <- err:
		default:
		}
		// Logged for operator visibility only: a poll error never tears down
		// the interval regardless of recoverability, so the verdict itself
		// is not otherwise acted on here.
		if te, ok := err.(*internal.TransportError); ok {
			checkIfErrorIsRecoverableAndLog(p.cfg.Loggers, te.Error(), pollingErrorContext, te.StatusCode, pollingWillRetryMessage)
		} else {
			checkIfErrorIsRecoverableAndLog(p.cfg.Loggers, err.Error(), pollingErrorContext, 0, pollingWillRetryMessage)
		}
		return err
	}
	if cached {
		return nil
	}
	select {
	case p.dataCh <- data:
	default:
	}
	return nil
}

// StartInterval arms the recurring poll timer at the configured interval.
// It performs no immediate poll; callers that want an initial poll call
// Poll() themselves first.
func (p *Polling) StartInterval() {
	p.mu.Lock()
	if p.stopped || p.ticker != nil {
		p.mu.Unlock()
		return
	}
	interval := p.cfg.Interval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	p.ticker = time.NewTicker(interval)
	ticker := p.ticker
	p.mu.Unlock()

	go func() {
		for range ticker.C {
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				return
			}
			_ = p.Poll()
		}
	}()
}

// Stop cancels the interval timer. It is safe to call multiple times.
func (p *Polling) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.ticker != nil {
		p.ticker.Stop()
	}
}

func (p *Polling) request() (internal.Datafile, bool, error) {
	url := p.cfg.Host + "/v1/datafile"
	req, reqErr := http.NewRequest(http.MethodGet, url, nil)
	if reqErr != nil {
		return internal.Datafile{}, false, fmt.Errorf("unable to create poll request: %w", reqErr)
	}
	if len(p.cfg.ExtraHeaders) > 0 {
		req.Header = maps.Clone(p.cfg.ExtraHeaders)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SDKKey)
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, doErr := p.httpClient.Do(req)
	if doErr != nil {
		return internal.Datafile{}, false, doErr
	}
	defer resp.Body.Close()

	if err := internal.CheckForHTTPError(resp.StatusCode, url); err != nil {
		_, _ = io.ReadAll(resp.Body)
		return internal.Datafile{}, false, err
	}

	cached := resp.Header.Get(httpcache.XFromCache) != ""
	if cached {
		return internal.Datafile{}, true, nil
	}

	var data internal.Datafile
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return internal.Datafile{}, false, fmt.Errorf("malformed polling response: %w", err)
	}
	return data, false, nil
}
