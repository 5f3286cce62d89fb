package goepp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceConstants(t *testing.T) {
	assert.Equal(t, "urn:ietf:params:xml:ns:epp-1.0", NamespaceEPP)
	assert.Equal(t, "urn:ietf:params:xml:ns:host-1.0", NamespaceHost)
}

func TestResultCodeConstants(t *testing.T) {
	t.Run("success codes", func(t *testing.T) {
		assert.Equal(t, 1000, ResultSuccess)
		assert.Equal(t, 1001, ResultSuccessPending)
		assert.Equal(t, 1500, ResultSuccessEnding)
	})

	t.Run("error codes", func(t *testing.T) {
		assert.Equal(t, 2000, ResultUnknownCommand)
		assert.Equal(t, 2001, ResultSyntaxError)
		assert.Equal(t, 2002, ResultCommandUseError)
		assert.Equal(t, 2200, ResultAuthenticationError)
		assert.Equal(t, 2303, ResultObjectDoesNotExist)
		assert.Equal(t, 2305, ResultObjectAssociationProhibits)
		assert.Equal(t, 2400, ResultCommandFailed)
	})

	t.Run("every error code is in the failed band", func(t *testing.T) {
		for _, code := range []int{
			ResultUnknownCommand, ResultSyntaxError, ResultCommandUseError,
			ResultParameterMissing, ResultParameterRangeError, ResultParameterSyntaxError,
			ResultAuthenticationError, ResultAuthorizationError,
			ResultObjectDoesNotExist, ResultObjectStatusProhibits, ResultObjectAssociationProhibits,
			ResultCommandFailed,
		} {
			assert.Equal(t, BandFailed, ClassifyCode(code), code)
		}
	})
}

func TestProtocolConstants(t *testing.T) {
	assert.Equal(t, 4, FrameHeaderLength)
	assert.Equal(t, 700, DefaultPort)
	assert.Equal(t, 30*time.Second, DefaultTimeout)
	assert.Equal(t, 4*1024*1024, DefaultMaxFrameLength)
	assert.Equal(t, 253, MaxHostNameLength)
	assert.Equal(t, "1.0", ProtocolVersion)
	assert.Equal(t, "en", DefaultLang)
}
