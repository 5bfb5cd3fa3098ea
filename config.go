package flags

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vercel/flags-go/internal/corelog"
	"github.com/vercel/flags-go/internal/datasource"
	"github.com/vercel/flags-go/internal/host"
)

// DefaultHost is the remote configuration service used when Options.Host is
// unset.
const DefaultHost = "https://flags.vercel.com"

// DefaultUserAgent identifies this module to the remote service.
const DefaultUserAgent = "VercelFlagsCore/0.1.0"

const (
	defaultStreamInitTimeout = 3 * time.Second
	defaultPollInterval      = 30 * time.Second
	defaultPollInitTimeout   = 3 * time.Second
)

// StreamConfig controls the Stream Source. The zero value is not used
// directly — a nil *StreamConfig on Options means "enabled with defaults";
// supply one only to change InitTimeout or to disable streaming.
type StreamConfig struct {
	Enabled     bool
	InitTimeout time.Duration
}

// PollConfig controls the Polling Source. A nil *PollConfig on Options
// means "enabled with defaults"; Interval is floored at
// datasource.MinPollInterval regardless of what is requested here.
type PollConfig struct {
	Enabled     bool
	Interval    time.Duration
	InitTimeout time.Duration
}

// Options configures a Client. StreamConfig/PollConfig are split out as a
// plain struct rather than a builder hierarchy, since this module has no
// options-inheritance graph to justify one.
type Options struct {
	// SDKKey is required unless ConnectionString is supplied instead. It
	// must start with "vf_".
	SDKKey string
	// ConnectionString is an alternative to SDKKey, of the form
	// "flags:...&sdkKey=vf_...".
	ConnectionString string

	// Datafile seeds the cache immediately; at a build step it is used
	// directly with no network calls at all.
	Datafile *Datafile

	Stream *StreamConfig
	Poll   *PollConfig

	// BuildStep overrides autodetection (CI=1 or NEXT_PHASE=phase-production-build).
	BuildStep *bool

	Host      string
	UserAgent string

	HTTPClient *http.Client
	Loggers    *corelog.Loggers
	H          host.Host

	// BundledLoader is the build-generated snapshot module, if one was
	// compiled into this binary.
	BundledLoader datasource.Loader
}

// resolvedBuildStep reports whether this Options describes a build-step
// (non-long-lived) invocation: the explicit override if set, otherwise
// autodetection through the host.
func (o Options) resolvedBuildStep() bool {
	if o.BuildStep != nil {
		return *o.BuildStep
	}
	return host.IsBuildStep(o.H)
}

// normalizeOptions validates and fills in defaults in one pass (interval
// floor, SDK key validation, connection-string parsing) rather than
// scattering these checks across call sites.
func normalizeOptions(opts Options) (Options, error) {
	if opts.SDKKey == "" && opts.ConnectionString != "" {
		key, ok := ParseConnectionString(opts.ConnectionString)
		if !ok {
			return opts, fmt.Errorf("flags: could not find sdkKey in connection string")
		}
		opts.SDKKey = key
	}
	if !strings.HasPrefix(opts.SDKKey, "vf_") {
		return opts, fmt.Errorf("flags: SDK key must start with %q", "vf_")
	}

	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Loggers == nil {
		loggers := corelog.NewDefaultLoggers()
		opts.Loggers = &loggers
	}
	if opts.H == nil {
		opts.H = host.NewProcess(opts.HTTPClient)
	}

	stream := StreamConfig{Enabled: true, InitTimeout: defaultStreamInitTimeout}
	if opts.Stream != nil {
		stream = *opts.Stream
		if stream.InitTimeout <= 0 {
			stream.InitTimeout = defaultStreamInitTimeout
		}
	}
	opts.Stream = &stream

	poll := PollConfig{Enabled: true, Interval: defaultPollInterval, InitTimeout: defaultPollInitTimeout}
	if opts.Poll != nil {
		poll = *opts.Poll
		if poll.InitTimeout <= 0 {
			poll.InitTimeout = defaultPollInitTimeout
		}
	}
	if poll.Interval < datasource.MinPollInterval {
		poll.Interval = datasource.MinPollInterval
	}
	opts.Poll = &poll

	return opts, nil
}

// ParseConnectionString extracts the sdkKey query parameter from a
// "flags:...&sdkKey=vf_..." connection string.
func ParseConnectionString(s string) (sdkKey string, ok bool) {
	const marker = "sdkKey="
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(marker):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
