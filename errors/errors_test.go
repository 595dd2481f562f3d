package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "neo4j-store", "MergeNode", "cypher execution")
	require.Error(t, err)
	assert.Equal(t, "neo4j-store.MergeNode: cypher execution failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"unknown datatype is invalid", ErrUnknownDataType, ErrorInvalid},
		{"row width mismatch is invalid", ErrRowWidthMismatch, ErrorInvalid},
		{"topic format is invalid", ErrTopicFormat, ErrorInvalid},
		{"depth exceeded is invalid", ErrDepthExceeded, ErrorInvalid},
		{"storage unavailable is transient", ErrStorageUnavailable, ErrorTransient},
		{"session expired is transient", ErrSessionExpired, ErrorTransient},
		{"deadline exceeded is transient", context.DeadlineExceeded, ErrorTransient},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
		{"retry ceiling is fatal", ErrMaxRetriesExceeded, ErrorFatal},
		{"unknown errors default to transient", stderrors.New("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrRowWidthMismatch)
	assert.True(t, IsInvalid(err))

	err = WrapTransient(stderrors.New("dial tcp: refused"), "historian", "Persist", "insert")
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))

	err = WrapFatal(ErrMaxRetriesExceeded, "historian", "Persist", "insert")
	assert.True(t, IsFatal(err))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := ErrStorageUnavailable
	err := WrapTransient(base, "neo4j-store", "connect", "driver creation")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "neo4j-store", ce.Component)
	assert.True(t, stderrors.Is(err, base))
}

func TestTransientPatternFallback(t *testing.T) {
	// Driver errors without sentinels are matched on message content.
	assert.True(t, IsTransient(stderrors.New("i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("Neo.TransientError.General: database unavailable")))
	assert.False(t, IsTransient(stderrors.New("syntax error")))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
