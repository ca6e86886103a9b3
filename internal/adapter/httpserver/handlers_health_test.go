package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHealth_StartupReady(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "storage", Check: healthOK},
		HealthCheck{Name: "discord", Check: healthOK},
	))

	rec := ts.do(t, http.MethodGet, "/health/startup", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"storage":"ok","discord":"ok"}}`, rec.Body.String())
}

func TestHealth_ReadinessReportsEveryFailure(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "storage", Check: healthErr("connection refused")},
		HealthCheck{Name: "discord", Check: healthOK},
	))

	rec := ts.do(t, http.MethodGet, "/health/ready", "", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"storage":"connection refused","discord":"ok"}}`, rec.Body.String())
}

func TestHealth_NoChecksIsReady(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/ready", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{}}`, rec.Body.String())
}

func TestHealth_Liveness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestHealth_Version(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/version", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"dev"`)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
}
