package executor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_Error(t *testing.T) {
	err := newStageError(ErrCodeStageOutOfRange, "run-1", 3, nil, "zap %s has %d actions", "zap-1", 2)
	assert.Equal(t, "STAGE_OUT_OF_RANGE: zap zap-1 has 2 actions (run=run-1, stage=3)", err.Error())

	cause := errors.New("bad json")
	err = newStageError(ErrCodeMalformedMessage, "", 0, cause, "cannot decode")
	assert.Equal(t, "MALFORMED_MESSAGE: cannot decode: bad json", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIsAnomaly(t *testing.T) {
	anomaly := newStageError(ErrCodeRunNotFound, "run-1", 0, nil, "run does not exist")
	failure := newStageError(ErrCodeActionFailed, "run-1", 0, nil, "smtp down")

	assert.True(t, IsAnomaly(anomaly))
	assert.True(t, IsAnomaly(fmt.Errorf("wrapped: %w", anomaly)))
	assert.False(t, IsAnomaly(failure))
	assert.False(t, IsAnomaly(errors.New("plain")))

	assert.True(t, IsActionFailure(failure))
	assert.False(t, IsActionFailure(anomaly))
}
