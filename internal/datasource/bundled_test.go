package datasource

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vercel/flags-go/internal"
)

type fakeLoader struct {
	entries map[string]internal.Datafile
}

func (f *fakeLoader) Get(key string) (internal.Datafile, bool) {
	d, ok := f.entries[key]
	return d, ok
}

func TestBundledLooksUpByRawKeyFirst(t *testing.T) {
	loader := &fakeLoader{entries: map[string]internal.Datafile{
		"vf_raw": {ProjectID: "p"},
	}}
	b := NewBundled(loader)

	data, ok := b.TryLoad("vf_raw")
	require.True(t, ok)
	assert.Equal(t, "p", data.ProjectID)
}

func TestBundledFallsBackToHashedKey(t *testing.T) {
	sum := sha256.Sum256([]byte("vf_secret"))
	hashed := hex.EncodeToString(sum[:])
	loader := &fakeLoader{entries: map[string]internal.Datafile{
		hashed: {ProjectID: "hashed-hit"},
	}}
	b := NewBundled(loader)

	data, ok := b.TryLoad("vf_secret")
	require.True(t, ok)
	assert.Equal(t, "hashed-hit", data.ProjectID)
}

func TestBundledTryLoadReturnsFalseWithNoLoader(t *testing.T) {
	b := NewBundled(nil)
	_, ok := b.TryLoad("vf_anything")
	assert.False(t, ok)
}

func TestBundledGetRawTypedErrors(t *testing.T) {
	b := NewBundled(nil)
	_, err := b.GetRaw("vf_anything")
	assert.IsType(t, &internal.FallbackNotFoundError{}, err)

	loader := &fakeLoader{entries: map[string]internal.Datafile{}}
	b2 := NewBundled(loader)
	_, err = b2.GetRaw("vf_missing")
	assert.IsType(t, &internal.FallbackEntryNotFoundError{}, err)
}

func TestBundledHashIsMemoized(t *testing.T) {
	loader := &fakeLoader{entries: map[string]internal.Datafile{}}
	b := NewBundled(loader)

	first := b.hashedKey("vf_stable")
	second := b.hashedKey("vf_stable")
	assert.Equal(t, first, second)
}
