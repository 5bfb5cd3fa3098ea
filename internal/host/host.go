// Package host wraps the global process state the controller needs to
// observe — environment variables, signal delivery, the wall clock, and the
// HTTP round-tripper — behind a small interface, so tests can substitute all
// of it without mutating real process state.
package host

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Host is the seam between the controller and ambient process state.
type Host interface {
	// Getenv returns the named environment variable, or "" if unset.
	Getenv(key string) string
	// Now returns the current time.
	Now() time.Time
	// HTTPClient returns the HTTP client to use for all outbound requests.
	HTTPClient() *http.Client
	// NotifyShutdown registers a callback to run on SIGTERM, returning a
	// function that cancels the registration. On platforms or environments
	// where signal hooking is undesired (e.g. not a deployed server
	// process), implementations may make this a no-op.
	NotifyShutdown(fn func()) (cancel func())
}

// Process is the default Host, backed by the real OS environment, clock,
// and an http.Client of the caller's choosing.
type Process struct {
	Client *http.Client
}

// NewProcess creates a Process host. If client is nil, http.DefaultClient
// is used.
func NewProcess(client *http.Client) *Process {
	if client == nil {
		client = http.DefaultClient
	}
	return &Process{Client: client}
}

func (p *Process) Getenv(key string) string { return os.Getenv(key) }

func (p *Process) Now() time.Time { return time.Now() }

func (p *Process) HTTPClient() *http.Client { return p.Client }

func (p *Process) NotifyShutdown(fn func()) (cancel func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			fn()
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(ch)
	}
}

// IsBuildStep reports whether the process is running as part of a
// build-time prerender rather than a long-lived server, per the CI /
// NEXT_PHASE environment contract.
func IsBuildStep(h Host) bool {
	return h.Getenv("CI") == "1" || h.Getenv("NEXT_PHASE") == "phase-production-build"
}

// IsVercelNonDevDeployment reports whether SIGTERM-triggered telemetry
// flush should be armed: only on a Vercel deployment outside development.
func IsVercelNonDevDeployment(h Host) bool {
	return h.Getenv("VERCEL") == "1" && h.Getenv("VERCEL_ENV") != "development"
}

// IsDebug reports whether verbose ingest debug headers/logging are enabled.
func IsDebug(h Host) bool {
	return h.Getenv("DEBUG") != ""
}

// DeploymentID returns the host's Vercel deployment identifier, if any.
func DeploymentID(h Host) string { return h.Getenv("VERCEL_DEPLOYMENT_ID") }

// Region returns the host's Vercel region, if any.
func Region(h Host) string { return h.Getenv("VERCEL_REGION") }
