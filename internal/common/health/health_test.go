package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	startup := NewStartupCompleteChecker()
	checker := NewMultiChecker(startup)
	assert.Error(t, checker.Check())

	startup.MarkComplete()
	assert.NoError(t, checker.Check())

	checker.Add(FuncChecker(func() error { return errors.New("redis unavailable") }))
	err := checker.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
}

func TestCheckHttpHandler(t *testing.T) {
	healthy := true
	handler := NewCheckHttpHandler(FuncChecker(func() error {
		if healthy {
			return nil
		}
		return errors.New("not ready")
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	healthy = false
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "not ready", recorder.Body.String())
}
