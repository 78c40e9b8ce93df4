package lapps

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{newError(KindNotFound, "echo", nil), "lapp 'echo' does not exist"},
		{newError(KindNotLoaded, "echo", nil), "lapp 'echo' is not loaded"},
		{newError(KindInitFailed, "echo", errors.New("trap")), "lapp 'echo': instance init failed: trap"},
		{newError(KindLockUnusable, "", nil), ErrLockUnusable.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("install: %w", newError(KindInternal, "x", cause))

	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
}
