package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
)

const (
	// FetchAttempts is the number of attempts Fetch makes before giving up.
	FetchAttempts = 3
	// FetchTimeout is the per-request timeout for Fetch.
	FetchTimeout = 10 * time.Second

	fetchErrorContext     = "on one-shot datafile fetch"
	fetchWillRetryMessage = "will retry"
)

// FetchConfig configures a one-shot authenticated GET of the datafile
// endpoint.
type FetchConfig struct {
	Host      string
	SDKKey    string
	UserAgent string
	Client    *http.Client
	Loggers   *corelog.Loggers
}

// Fetch performs a single authenticated GET against {host}/v1/datafile with
// up to FetchAttempts tries and exponential backoff between them. 4xx
// responses other than 429 are not retried.
func Fetch(ctx context.Context, cfg FetchConfig) (internal.Datafile, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt < FetchAttempts; attempt++ {
		data, err := fetchOnce(ctx, client, cfg)
		if err == nil {
			return data, nil
		}
		lastErr = err

		statusCode := 0
		if te, ok := err.(*internal.TransportError); ok {
			statusCode = te.StatusCode
		}
		if _, ok := err.(*internal.UnauthorizedError); ok {
			return internal.Datafile{}, err
		}
		recoverable := checkFetchErrorIsRecoverableAndLog(cfg.Loggers, err.Error(), fetchErrorContext, statusCode, fetchWillRetryMessage)
		if !recoverable {
			return internal.Datafile{}, err
		}
		if attempt == FetchAttempts-1 {
			break
		}
		select {
		case <-time.After(fetchBackoff(attempt)):
		case <-ctx.Done():
			return internal.Datafile{}, ctx.Err()
		}
	}
	return internal.Datafile{}, lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, cfg FetchConfig) (internal.Datafile, error) {
	reqCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	url := cfg.Host + "/v1/datafile"
	req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if reqErr != nil {
		return internal.Datafile{}, fmt.Errorf("unable to create fetch request: %w", reqErr)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SDKKey)
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, doErr := client.Do(req)
	if doErr != nil {
		return internal.Datafile{}, doErr
	}
	defer resp.Body.Close()

	if err := internal.CheckForHTTPError(resp.StatusCode, url); err != nil {
		return internal.Datafile{}, err
	}

	var data internal.Datafile
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return internal.Datafile{}, fmt.Errorf("malformed fetch response: %w", err)
	}
	return data, nil
}
