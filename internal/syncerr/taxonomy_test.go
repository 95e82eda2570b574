package syncerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", syncerr.New(syncerr.ParseInvalidResource, base))
	assert.Equal(t, syncerr.ParseInvalidResource, syncerr.KindOf(wrapped))
	assert.Equal(t, syncerr.Kind(""), syncerr.KindOf(base))
}

func TestAbortsPass(t *testing.T) {
	assert.True(t, syncerr.AuthRejected.AbortsPass())
	assert.True(t, syncerr.Cancelled.AbortsPass())
	assert.False(t, syncerr.ParseInvalidResource.AbortsPass())
	assert.False(t, syncerr.CrossOriginReference.AbortsPass())
}

func TestCountsAsFailure(t *testing.T) {
	assert.True(t, syncerr.AuthRejected.CountsAsFailure())
	assert.True(t, syncerr.DeadlineExceeded.CountsAsFailure())
	assert.False(t, syncerr.Cancelled.CountsAsFailure(), "cancellation must not increment failure counters")
}

func TestFromHTTPError(t *testing.T) {
	assert.Equal(t, syncerr.AuthRejected, syncerr.KindOf(syncerr.FromHTTPError(errors.New("request failed: 401 Unauthorized"))))
	assert.Equal(t, syncerr.DeadlineExceeded, syncerr.KindOf(syncerr.FromHTTPError(errors.New(`Get "https://example/fhir": context deadline exceeded`))))
	assert.Equal(t, syncerr.Cancelled, syncerr.KindOf(syncerr.FromHTTPError(errors.New(`Get "https://example/fhir": context canceled`))))
	assert.Equal(t, syncerr.TransientNetwork, syncerr.KindOf(syncerr.FromHTTPError(errors.New("connection reset by peer"))))
	assert.Nil(t, syncerr.FromHTTPError(nil))
}

func TestIsGone(t *testing.T) {
	assert.True(t, syncerr.IsGone(errors.New("server responded with 410")))
	assert.True(t, syncerr.IsGone(errors.New("resource Gone")))
	assert.False(t, syncerr.IsGone(errors.New("404 not found")))
	assert.False(t, syncerr.IsGone(nil))
}

func TestIsRetryableHTTP(t *testing.T) {
	assert.False(t, syncerr.IsRetryableHTTP(errors.New("410 Gone")))
	assert.False(t, syncerr.IsRetryableHTTP(errors.New("401 unauthorized")))
	assert.False(t, syncerr.IsRetryableHTTP(errors.New("404 not found")))
	assert.True(t, syncerr.IsRetryableHTTP(errors.New("503 service unavailable")))
	assert.False(t, syncerr.IsRetryableHTTP(nil))
}
