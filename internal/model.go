package internal

import (
	"encoding/json"
	"strconv"
)

// Origin identifies which internal pipeline produced a TaggedDatafile.
type Origin string

// The closed set of origins a datafile can arrive through.
const (
	OriginStream   Origin = "stream"
	OriginPoll     Origin = "poll"
	OriginBundled  Origin = "bundled"
	OriginProvided Origin = "provided"
	OriginFetched  Origin = "fetched"
)

// Source is the public, reader-facing classification of where a Datafile
// came from, derived from Origin at the read boundary.
type Source string

// The closed set of sources reported to callers.
const (
	SourceInMemory Source = "in-memory"
	SourceRemote   Source = "remote"
	SourceEmbedded Source = "embedded"
)

// PublicSource maps an internal Origin to the public Source a caller sees.
func (o Origin) PublicSource() Source {
	switch o {
	case OriginStream, OriginPoll, OriginProvided:
		return SourceInMemory
	case OriginFetched:
		return SourceRemote
	case OriginBundled:
		return SourceEmbedded
	default:
		return SourceInMemory
	}
}

// Datafile is the full set of flag definitions and segments for a single
// environment — the unit the Controller caches and the evaluator reads.
// Definitions and segments are opaque to the Controller; only the evaluator
// interprets them.
type Datafile struct {
	ProjectID       string                     `json:"projectId,omitempty"`
	Environment     string                     `json:"environment"`
	Definitions     map[string]FlagDefinition  `json:"definitions"`
	Segments        map[string]json.RawMessage `json:"segments,omitempty"`
	ConfigUpdatedAt json.RawMessage            `json:"configUpdatedAt,omitempty"`
}

// FlagDefinition is opaque to the Controller; it is interpreted only by the
// Evaluator seam.
type FlagDefinition struct {
	Variants     []json.RawMessage `json:"variants,omitempty"`
	Environments map[string]int    `json:"environments,omitempty"`
	Raw          json.RawMessage   `json:"-"`
}

// UnmarshalJSON preserves the raw wire form of a flag definition alongside
// the common fields every definition carries, so evaluators can read
// implementation-specific extensions without the Controller knowing about
// them.
func (f *FlagDefinition) UnmarshalJSON(data []byte) error {
	type alias FlagDefinition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = FlagDefinition(a)
	f.Raw = append([]byte(nil), data...)
	return nil
}

// ParsedConfigUpdatedAt parses ConfigUpdatedAt as a float64, accepting either
// a JSON number or a numeric JSON string. It reports ok=false when the value
// is absent or not numeric, matching the "cannot compare safely, so accept"
// rule in the monotonicity guard.
func (d Datafile) ParsedConfigUpdatedAt() (value float64, ok bool) {
	return ParseConfigUpdatedAt(d.ConfigUpdatedAt)
}

// ParseConfigUpdatedAt parses a raw configUpdatedAt value, accepting either
// a JSON number or a numeric JSON string.
func ParseConfigUpdatedAt(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// TaggedDatafile is a Datafile plus the Origin it arrived through. This is
// the internal currency of the Controller; callers only ever see a Datafile
// and its Metrics.
type TaggedDatafile struct {
	Datafile
	Origin Origin
}

// CacheStatus classifies how a read was served.
type CacheStatus string

// The closed set of cache statuses a read can report.
const (
	CacheHit   CacheStatus = "HIT"
	CacheMiss  CacheStatus = "MISS"
	CacheStale CacheStatus = "STALE"
)

// ConnectionState reports whether the primary source is currently live.
type ConnectionState string

// The closed set of connection states a read can report.
const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Mode reports which synchronization strategy is currently driving reads.
type Mode string

// The closed set of modes a read can report.
const (
	ModeStreaming Mode = "streaming"
	ModePolling   Mode = "polling"
	ModeOffline   Mode = "offline"
	ModeBuild     Mode = "build"
)

// Metrics is returned alongside every read, describing how the value was
// obtained.
type Metrics struct {
	ReadMs          float64
	Source          Source
	CacheStatus     CacheStatus
	ConnectionState ConnectionState
	Mode            Mode
	ConfigUpdatedAt json.RawMessage
}

// Result pairs a Datafile with the Metrics describing how it was produced.
type Result struct {
	Datafile Datafile
	Metrics  Metrics
}
