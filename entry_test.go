package flags

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateClientAcceptsBareSDKKey(t *testing.T) {
	falseFlag := false
	c, err := CreateClient("vf_abc123", Options{Host: "http://unused.invalid", BuildStep: &falseFlag})
	assert.NoError(t, err)
	assert.NotNil(t, c)
	if c != nil {
		c.Shutdown()
	}
}

func TestCreateClientAcceptsConnectionString(t *testing.T) {
	falseFlag := false
	c, err := CreateClient("flags:region=sfo1&sdkKey=vf_abc123", Options{Host: "http://unused.invalid", BuildStep: &falseFlag})
	assert.NoError(t, err)
	assert.NotNil(t, c)
	if c != nil {
		c.Shutdown()
	}
}

func TestCreateClientRejectsMalformedKey(t *testing.T) {
	_, err := CreateClient("not-a-valid-key")
	assert.Error(t, err)
}

func TestDefaultClientErrorsWithoutFlagsEnvVar(t *testing.T) {
	t.Setenv("FLAGS", "")
	defaultClientOnce = sync.Once{}
	_, err := DefaultClient()
	assert.Error(t, err)
}
