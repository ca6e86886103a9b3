package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/config"
	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/schedule"
	"github.com/pscheid92/unranked/internal/unranked"
	"github.com/stretchr/testify/require"
)

const (
	ownerID  = "1"
	memberID = "10"
	otherID  = "11"
)

var testNow = time.Unix(1_700_000_000, 0)

type nopSaver struct{}

func (nopSaver) Save(context.Context, string, any) {}

type nopRunner struct{}

func (nopRunner) RunObjective(context.Context, domain.Objective, domain.UnixTimestamp) error {
	return nil
}

type mockEvents struct {
	mu           sync.Mutex
	startCalls   int
	announcement string
	verbose      string
	err          error
}

func (m *mockEvents) StartEvent(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	return m.announcement, m.err
}

func (m *mockEvents) DisplayIdeasVerbose(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verbose, m.err
}

type testServer struct {
	*Server
	engine    *unranked.Engine
	scheduler *schedule.Scheduler
	events    *mockEvents
	registry  *prometheus.Registry
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func newTestServer(t *testing.T, opts ...func(*Server)) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	engine := unranked.NewEngine(unranked.NewIdeas(), unranked.NewScores(), nopSaver{}, metrics.NewEngineMetrics(reg))
	scheduler := schedule.NewScheduler(clockwork.NewFakeClockAt(testNow), nopRunner{}, nopSaver{}, metrics.NewSchedulerMetrics(reg))
	t.Cleanup(func() {
		scheduler.Stop()
		engine.Stop()
	})

	events := &mockEvents{}
	cfg := &config.Config{Port: "0", Owners: []domain.UserID{1}}
	srv := NewServer(cfg, engine, scheduler, events, nil, reg, metrics.NewHTTPMetrics(reg))
	for _, opt := range opts {
		opt(srv)
	}

	return &testServer{Server: srv, engine: engine, scheduler: scheduler, events: events, registry: reg}
}

// do sends a request through the full middleware chain as userID. An empty
// userID sends no identity headers.
func (ts *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
		req.Header.Set(headerUserName, "user"+userID)
	}

	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, typ apperrors.ErrorType) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[apperrors.ErrorResponse](t, rec)
	require.Equal(t, typ, resp.Type)
	require.NotEmpty(t, resp.Error)
}
