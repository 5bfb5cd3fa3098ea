package datasource

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/launchdarkly/ccache"

	"github.com/vercel/flags-go/internal"
)

// hashCacheSize bounds the memoized SDK-key → SHA-256 digest cache; a single
// process only ever has a handful of distinct SDK keys.
const hashCacheSize = 64

// hashCacheTTL is generous because an SDK key's hash never changes; the TTL
// exists only so ccache's LRU janitor has a natural eviction path.
const hashCacheTTL = 24 * time.Hour

// Loader is implemented by a build-generated snapshot module: Get looks up
// a datafile by either the raw SDK key or its SHA-256 hex digest.
type Loader interface {
	Get(key string) (internal.Datafile, bool)
}

// LookupResult is the tagged outcome of a Bundled lookup.
type LookupResult struct {
	Kind LookupKind
	Data internal.Datafile
	Err  error
}

// LookupKind is the closed set of Bundled lookup outcomes.
type LookupKind string

// The recognized LookupResult kinds.
const (
	LookupOK              LookupKind = "ok"
	LookupMissingFile     LookupKind = "missing-file"
	LookupMissingEntry    LookupKind = "missing-entry"
	LookupUnexpectedError LookupKind = "unexpected-error"
)

// Bundled lazily resolves a build-time-embedded snapshot keyed by SDK key,
// trying the raw key first and then a memoized SHA-256 hex digest of it
// (newer build tool versions hash keys for privacy).
type Bundled struct {
	loader    Loader
	hashCache *ccache.Cache
}

// NewBundled wraps loader. loader may be nil, meaning no snapshot module was
// compiled in for this build (the common case outside a bundling toolchain).
func NewBundled(loader Loader) *Bundled {
	return &Bundled{
		loader:    loader,
		hashCache: ccache.New(ccache.Configure().MaxSize(hashCacheSize)),
	}
}

// Lookup resolves sdkKey against the bundled snapshot, trying the raw key
// then its hashed form.
func (b *Bundled) Lookup(sdkKey string) LookupResult {
	if b.loader == nil {
		return LookupResult{Kind: LookupMissingFile}
	}
	if data, ok := b.loader.Get(sdkKey); ok {
		return LookupResult{Kind: LookupOK, Data: data}
	}
	if data, ok := b.loader.Get(b.hashedKey(sdkKey)); ok {
		return LookupResult{Kind: LookupOK, Data: data}
	}
	return LookupResult{Kind: LookupMissingEntry}
}

func (b *Bundled) hashedKey(sdkKey string) string {
	if item := b.hashCache.Get(sdkKey); item != nil && !item.Expired() {
		return item.Value().(string)
	}
	sum := sha256.Sum256([]byte(sdkKey))
	digest := hex.EncodeToString(sum[:])
	b.hashCache.Set(sdkKey, digest, hashCacheTTL)
	return digest
}

// TryLoad returns the bundled datafile for sdkKey, or false for any
// non-OK lookup outcome. It never returns an error — callers that need to
// distinguish "no snapshot compiled in" from "snapshot present but no entry"
// should use GetRaw instead.
func (b *Bundled) TryLoad(sdkKey string) (internal.Datafile, bool) {
	result := b.Lookup(sdkKey)
	return result.Data, result.Kind == LookupOK
}

// GetRaw returns the bundled datafile for sdkKey, or a typed
// FallbackNotFoundError / FallbackEntryNotFoundError when unavailable.
func (b *Bundled) GetRaw(sdkKey string) (internal.Datafile, error) {
	result := b.Lookup(sdkKey)
	switch result.Kind {
	case LookupOK:
		return result.Data, nil
	case LookupMissingFile:
		return internal.Datafile{}, &internal.FallbackNotFoundError{}
	case LookupMissingEntry:
		return internal.Datafile{}, &internal.FallbackEntryNotFoundError{SDKKey: sdkKey}
	default:
		return internal.Datafile{}, result.Err
	}
}
