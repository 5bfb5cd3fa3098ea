package flags

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vercel/flags-go/internal/datasource"
)

func TestNormalizeOptionsRejectsBadSDKKey(t *testing.T) {
	_, err := normalizeOptions(Options{SDKKey: "not-a-key"})
	assert.Error(t, err)
}

func TestNormalizeOptionsParsesConnectionString(t *testing.T) {
	opts, err := normalizeOptions(Options{ConnectionString: "flags:region=sfo1&sdkKey=vf_abc123"})
	require.NoError(t, err)
	assert.Equal(t, "vf_abc123", opts.SDKKey)
}

func TestNormalizeOptionsFillsDefaults(t *testing.T) {
	opts, err := normalizeOptions(Options{SDKKey: "vf_test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, opts.Host)
	assert.Equal(t, DefaultUserAgent, opts.UserAgent)
	require.NotNil(t, opts.Stream)
	assert.True(t, opts.Stream.Enabled)
	assert.Equal(t, 3*time.Second, opts.Stream.InitTimeout)
	require.NotNil(t, opts.Poll)
	assert.True(t, opts.Poll.Enabled)
	assert.Equal(t, 30*time.Second, opts.Poll.Interval)
}

func TestNormalizeOptionsFloorsPollInterval(t *testing.T) {
	opts, err := normalizeOptions(Options{
		SDKKey: "vf_test",
		Poll:   &PollConfig{Enabled: true, Interval: time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, datasource.MinPollInterval, opts.Poll.Interval)
}

func TestParseConnectionString(t *testing.T) {
	key, ok := ParseConnectionString("flags:region=sfo1&sdkKey=vf_xyz&other=1")
	require.True(t, ok)
	assert.Equal(t, "vf_xyz", key)

	_, ok = ParseConnectionString("flags:region=sfo1")
	assert.False(t, ok)
}
