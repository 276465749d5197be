package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New("TEST_CODE", "something broke", http.StatusBadRequest)
	require.Equal(t, "something broke", err.Error())

	wrapped := err.WithInternal(stderrors.New("db down"))
	require.Equal(t, "something broke: db down", wrapped.Error())
	require.Equal(t, "something broke", err.Error())
}

func TestFromErrorPassesThroughAppError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(ErrInvalidToken)
	require.Same(t, ErrInvalidToken, appErr)

	generic := FromError(stderrors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.EqualError(t, generic.Unwrap(), "boom")
}

func TestWrapKeepsInternal(t *testing.T) {
	cause := stderrors.New("io failure")
	err := Wrap(cause, "failed to persist")

	require.Equal(t, http.StatusInternalServerError, err.StatusCode)
	require.True(t, stderrors.Is(err, cause))
}

func TestTokenErrorsShareGenericMessages(t *testing.T) {
	// Client-facing messages must not reveal which check failed.
	require.Equal(t, ErrInvalidToken.Message, "Invalid or expired token")
	require.Equal(t, http.StatusUnauthorized, ErrInvalidToken.StatusCode)
	require.Equal(t, http.StatusGone, ErrTokenConsumed.StatusCode)
	require.Equal(t, http.StatusTooManyRequests, ErrRateLimit.StatusCode)
}
