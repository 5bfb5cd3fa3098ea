package flags

import "github.com/vercel/flags-go/internal"

// UnauthorizedError is returned when a stream or fetch request comes back
// 401: the SDK key is invalid. It is terminal for the source that produced
// it.
type UnauthorizedError = internal.UnauthorizedError

// NotFoundError is returned by the evaluation seam when a requested flag key
// is absent from the current Datafile.
type NotFoundError = internal.NotFoundError

// TimeoutError is returned when a source did not deliver a datafile within
// its configured init timeout.
type TimeoutError = internal.TimeoutError

// TransportError wraps a transient network or 5xx failure.
type TransportError = internal.TransportError

// FallbackNotFoundError is returned by GetFallbackDatafile when no bundled
// snapshot module is present at all.
type FallbackNotFoundError = internal.FallbackNotFoundError

// FallbackEntryNotFoundError is returned by GetFallbackDatafile when a
// bundled snapshot module is present but has no entry for the given SDK key.
type FallbackEntryNotFoundError = internal.FallbackEntryNotFoundError

// NoDataAvailableError is thrown from Read/GetDatafile when every source in
// the fallback chain has failed.
type NoDataAvailableError = internal.NoDataAvailableError
