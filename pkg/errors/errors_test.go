package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransient, "sink post failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "TRANSIENT")
}

func TestAsAndKindOf(t *testing.T) {
	err := fmt.Errorf("context: %w", New(KindSchema, "record too large"))

	got, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindSchema, got.Kind)
	assert.Equal(t, KindSchema, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", New(KindTransient, "503"), true},
		{"auth 401", &Error{Kind: KindAuthentication, StatusCode: 401}, true},
		{"auth other", &Error{Kind: KindAuthentication, StatusCode: 403}, false},
		{"schema", New(KindSchema, "bad"), false},
		{"plain error", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
