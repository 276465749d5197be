package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/learnhub-io/learnhub/pkg/errors"
)

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Success(c, http.StatusOK, gin.H{"token_type": "bearer"})

	require.Equal(t, http.StatusOK, rec.Code)

	var payload Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	require.Nil(t, payload.Error)
}

func TestErrorEnvelopeFromAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, appErrors.ErrRateLimit)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var payload Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.Equal(t, appErrors.ErrRateLimit.Code, payload.Error.Code)
}

func TestErrorEnvelopeDefaultsToInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
