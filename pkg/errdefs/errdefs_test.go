package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestWrappersMatchSentinels verifies constructor output matches errors.Is
func TestWrappersMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		check    func(error) bool
	}{
		{"invalid argument", InvalidArgument("bad value %d", 7), ErrInvalidArgument, IsInvalidArgument},
		{"already exists", AlreadyExists("task %s", "t1"), ErrAlreadyExists, IsAlreadyExists},
		{"not found", NotFound("worker %s", "w1"), ErrNotFound, IsNotFound},
		{"illegal transition", IllegalTransition("%s -> %s", "pending", "running"), ErrIllegalTransition, IsIllegalTransition},
		{"version conflict", VersionConflict("snapshot %s v%d", "t1", 3), ErrVersionConflict, IsVersionConflict},
		{"backpressure", Backpressure("pool saturated"), ErrBackpressure, IsBackpressure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.True(t, tt.check(tt.err))
		})
	}
}

// TestWrappersKeepContext verifies the formatted message survives wrapping
func TestWrappersKeepContext(t *testing.T) {
	err := NotFound("task %s", "t42")
	assert.Equal(t, "task t42: not found", err.Error())
}

// TestMatchersRejectOthers verifies no cross-category matches
func TestMatchersRejectOthers(t *testing.T) {
	err := NotFound("task %s", "t1")
	assert.False(t, IsInvalidArgument(err))
	assert.False(t, IsBackpressure(err))
	assert.False(t, IsNotFound(fmt.Errorf("unrelated")))
	assert.False(t, IsNotFound(nil))
}
