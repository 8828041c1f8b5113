package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := Newf(KindAmountMismatch, "amount mismatch: paid %s, expected %s", "450.00", "500.00")

	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.False(t, errors.Is(err, ErrStaging))
	assert.Equal(t, http.StatusConflict, err.Code)
}

func TestIs_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("reconcile: %w", New(KindTransport, "lookup failed", errors.New("dial tcp")))

	assert.True(t, errors.Is(wrapped, ErrTransport))
	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestRespond_RendersKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Respond(c, New(KindConfiguration, "esewa secret key not configured", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"configuration_error"`)
}

func TestRespond_PlainErrorIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Respond(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"internal"`)
	assert.NotContains(t, w.Body.String(), "boom")
}
