package internal

import "fmt"

// UnauthorizedError is returned when a stream or fetch request comes back
// 401: the SDK key is invalid. It is terminal for the source that produced
// it.
type UnauthorizedError struct {
	URL string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("invalid SDK key when accessing URL: %s", e.URL)
}

// NotFoundError is returned by the evaluation seam when a requested flag key
// is absent from the current Datafile.
type NotFoundError struct {
	FlagKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flag not found: %s", e.FlagKey)
}

// TimeoutError is returned when a source did not deliver a datafile within
// its configured init timeout. It is not fatal — the Controller falls back
// and leaves the source running in the background.
type TimeoutError struct {
	Source  string
	AfterMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not deliver a datafile within %dms", e.Source, e.AfterMs)
}

// TransportError wraps a transient network or 5xx failure.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error accessing %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("unexpected response code %d accessing %s", e.StatusCode, e.URL)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FallbackNotFoundError is returned by GetFallbackDatafile when no bundled
// snapshot module is present at all.
type FallbackNotFoundError struct{}

func (e *FallbackNotFoundError) Error() string {
	return "no bundled fallback datafile is available in this build"
}

// FallbackEntryNotFoundError is returned by GetFallbackDatafile when a
// bundled snapshot module is present but has no entry for the given SDK key.
type FallbackEntryNotFoundError struct {
	SDKKey string
}

func (e *FallbackEntryNotFoundError) Error() string {
	return "no bundled fallback entry for this SDK key"
}

// NoDataAvailableError is thrown from Read/GetDatafile when every source in
// the fallback chain has failed.
type NoDataAvailableError struct{}

func (e *NoDataAvailableError) Error() string {
	return "no flag definitions available"
}

// IsHTTPErrorRecoverable reports whether an HTTP status represents a
// condition that might resolve on retry for the Stream and Polling sources:
// all 5xx and transport errors are recoverable; among 4xx only 408 and 429
// are.
func IsHTTPErrorRecoverable(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case 408, 429:
			return true
		default:
			return false
		}
	}
	return true
}

// IsFetchErrorRecoverable reports whether an HTTP status should be retried
// by the one-shot Fetch path: all 5xx and transport errors are recoverable;
// among 4xx only 429 is — 408 is not retried here, unlike the long-lived
// Stream and Polling sources.
func IsFetchErrorRecoverable(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		return statusCode == 429
	}
	return true
}

// CheckForHTTPError converts a non-2xx status code and the URL it came from
// into a typed error, or returns nil for success.
func CheckForHTTPError(statusCode int, url string) error {
	if statusCode == 401 {
		return &UnauthorizedError{URL: url}
	}
	if statusCode/100 != 2 {
		return &TransportError{URL: url, StatusCode: statusCode}
	}
	return nil
}
