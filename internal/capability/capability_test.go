package capability

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkramer/session-insights/internal/types"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, types.FailureTransient, Classify(Transientf("timeout")))
	assert.Equal(t, types.FailurePermanent, Classify(Permanentf("bad input")))
	assert.Equal(t, types.FailureTransient, Classify(errors.New("unclassified")),
		"unclassified errors stay retryable")
}

func TestClassify_Wrapped(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", Permanentf("unsupported codec"))
	assert.True(t, IsPermanent(err))

	err = fmt.Errorf("stage failed: %w", Transientf("rate limited"))
	assert.False(t, IsPermanent(err))
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Transient(inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection reset")
}
