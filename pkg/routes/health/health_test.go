package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, checker *Checker, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestChecker_Health(t *testing.T) {
	checker := NewChecker("1.2.3")
	checker.AddCheck("database", func(context.Context) error { return nil })

	rec := serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "healthy", status.Checks["database"].Status)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestChecker_LiveAndReady(t *testing.T) {
	checker := NewChecker("dev")

	assert.Equal(t, http.StatusOK, serve(t, checker, "/api/v1/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, checker, "/api/v1/health/ready").Code)

	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(t, checker, "/api/v1/health/ready").Code)
}
