package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(Storage, "mount_volume", cause)

	require.EqualError(t, err, "mount_volume: storage: boom")
	assert.ErrorIs(t, err, cause)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, Storage, e.Kind)
}

func TestKindOf(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)

	kind, ok := KindOf(New(Image, "pull", nil))
	require.True(t, ok)
	assert.Equal(t, Image, kind)
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("plain"), 1},
		{New(Container, "start_container", nil), 3},
		{New(Image, "pull", nil), 4},
		{New(Storage, "remove_volume", nil), 5},
		{New(Storage, "scale_deployment", nil), 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExitCode(tc.err))
	}
}
