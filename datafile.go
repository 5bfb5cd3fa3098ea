// Package flags is the public façade of the datafile controller: it keeps
// an in-memory copy of a project's flag definitions synchronized with a
// remote configuration service and serves near-zero-latency reads and
// evaluations against it, even through disconnection or build-time
// prerendering.
package flags

import "github.com/vercel/flags-go/internal"

// Origin identifies which internal pipeline produced a datafile.
type Origin = internal.Origin

// The closed set of origins a datafile can arrive through.
const (
	OriginStream   = internal.OriginStream
	OriginPoll     = internal.OriginPoll
	OriginBundled  = internal.OriginBundled
	OriginProvided = internal.OriginProvided
	OriginFetched  = internal.OriginFetched
)

// Source is the reader-facing classification of where a Datafile came from.
type Source = internal.Source

// The closed set of sources reported to callers.
const (
	SourceInMemory = internal.SourceInMemory
	SourceRemote   = internal.SourceRemote
	SourceEmbedded = internal.SourceEmbedded
)

// Datafile is the full set of flag definitions and segments for a single
// environment — the unit the Controller caches and the evaluator reads.
type Datafile = internal.Datafile

// FlagDefinition is opaque to the Controller; it is interpreted only by the
// Evaluator seam.
type FlagDefinition = internal.FlagDefinition

// CacheStatus classifies how a read was served.
type CacheStatus = internal.CacheStatus

// The closed set of cache statuses a read can report.
const (
	CacheHit   = internal.CacheHit
	CacheMiss  = internal.CacheMiss
	CacheStale = internal.CacheStale
)

// ConnectionState reports whether the primary source is currently live.
type ConnectionState = internal.ConnectionState

// The closed set of connection states a read can report.
const (
	ConnectionConnected    = internal.ConnectionConnected
	ConnectionDisconnected = internal.ConnectionDisconnected
)

// Mode reports which synchronization strategy is currently driving reads.
type Mode = internal.Mode

// The closed set of modes a read can report.
const (
	ModeStreaming = internal.ModeStreaming
	ModePolling   = internal.ModePolling
	ModeOffline   = internal.ModeOffline
	ModeBuild     = internal.ModeBuild
)

// Metrics is returned alongside every read, describing how the value was
// obtained.
type Metrics = internal.Metrics

// Result pairs a Datafile with the Metrics describing how it was produced.
type Result = internal.Result
