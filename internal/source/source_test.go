package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string     { return "api error: " + e.code }
func (e *fakeAPIError) ErrorCode() string { return e.code }

func TestIsAccessDenied(t *testing.T) {
	assert.True(t, isAccessDenied(&fakeAPIError{code: "AccessDenied"}))
	assert.True(t, isAccessDenied(&fakeAPIError{code: "Forbidden"}))
	assert.False(t, isAccessDenied(&fakeAPIError{code: "NoSuchBucket"}))
	assert.False(t, isAccessDenied(errors.New("plain")))
}
