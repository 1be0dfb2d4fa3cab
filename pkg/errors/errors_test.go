package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesLocation(t *testing.T) {
	err := New("something broke")
	require.NotNil(t, err)
	assert.Equal(t, "something broke", err.Error())
	assert.True(t, strings.HasPrefix(err.Location(), "errors_test.go:"))
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrInvalidDelta, "apply event", map[string]interface{}{
		"event_type": "speaker_time_delta",
	})
	require.NotNil(t, err)
	assert.True(t, Is(err, ErrInvalidDelta))
	assert.Contains(t, err.Error(), "apply event")
	assert.Equal(t, "speaker_time_delta", err.GetFields()["event_type"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New("base", map[string]interface{}{"a": 1})
	derived := base.WithField("b", 2)

	assert.Len(t, base.GetFields(), 1)
	assert.Len(t, derived.GetFields(), 2)
	assert.Equal(t, 2, derived.GetFields()["b"])
}

func TestWithCode(t *testing.T) {
	err := New("coded").WithCode("TEST_CODE")
	assert.Equal(t, "TEST_CODE", err.GetCode())
}

func TestNewInvalidDelta(t *testing.T) {
	err := NewInvalidDelta("negative seconds", map[string]interface{}{"seconds": -1.0})
	assert.True(t, Is(err, ErrInvalidDelta))
	assert.Equal(t, "INVALID_DELTA", err.GetCode())
	assert.Equal(t, -1.0, err.GetFields()["seconds"])
}

func TestNewAnalysisFailureWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewAnalysisFailure(cause, "analyze conversation")
	assert.True(t, Is(err, ErrAnalysisFailure))
	assert.Contains(t, err.Error(), "connection refused")

	// A nil cause still matches the sentinel.
	err = NewAnalysisFailure(nil, "analyze conversation")
	assert.True(t, Is(err, ErrAnalysisFailure))
}

func TestNewSessionNotFound(t *testing.T) {
	err := NewSessionNotFound("abc-123")
	assert.True(t, Is(err, ErrSessionNotFound))
	assert.Contains(t, err.Error(), "abc-123")
	assert.Equal(t, "abc-123", err.GetFields()["session_id"])
}

func TestAsJSON(t *testing.T) {
	err := New("broke", map[string]interface{}{"k": "v"}).WithCode("C")
	payload := err.AsJSON()
	assert.Equal(t, "C", payload["code"])
	assert.NotEmpty(t, payload["message"])
	assert.NotEmpty(t, payload["location"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, payload["context"])
}

func TestSentinelChains(t *testing.T) {
	wrapped := Wrap(Wrap(ErrStoreUnavailable, "save snapshot"), "persist session")
	assert.True(t, Is(wrapped, ErrStoreUnavailable))
	assert.False(t, Is(wrapped, ErrSessionNotFound))
}
