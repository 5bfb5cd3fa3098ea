package flags

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/vercel/flags-go/internal/host"
)

// CreateClient builds a Client from either a bare SDK key (prefix "vf_")
// or a connection string ("flags:...&sdkKey=vf_..."). An optional Options
// value supplies everything else; only its SDKKey/ConnectionString fields
// are overwritten here.
func CreateClient(sdkKeyOrConnectionString string, options ...Options) (*Client, error) {
	var opts Options
	if len(options) > 0 {
		opts = options[0]
	}
	if strings.HasPrefix(sdkKeyOrConnectionString, "vf_") {
		opts.SDKKey = sdkKeyOrConnectionString
		opts.ConnectionString = ""
	} else {
		opts.ConnectionString = sdkKeyOrConnectionString
		opts.SDKKey = ""
	}
	return NewClient(opts)
}

var (
	defaultClientOnce sync.Once
	defaultClient     *Client
	defaultClientErr  error
)

// DefaultClient returns the process-wide lazy client built from the FLAGS
// environment variable on first call. Every subsequent call returns the
// same Client (or the same error).
func DefaultClient() (*Client, error) {
	defaultClientOnce.Do(func() {
		h := host.NewProcess(http.DefaultClient)
		conn := h.Getenv("FLAGS")
		if conn == "" {
			defaultClientErr = fmt.Errorf("flags: FLAGS environment variable is not set")
			return
		}
		defaultClient, defaultClientErr = CreateClient(conn)
	})
	return defaultClient, defaultClientErr
}
