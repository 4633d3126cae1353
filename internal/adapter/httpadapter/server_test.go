package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockProgress struct {
	p pipeline.Progress
}

func (m *mockProgress) Progress() pipeline.Progress { return m.p }

func newTestServer(readyErr error, progress httpadapter.ProgressReporter) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, progress, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(newTestServer(nil, nil), "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(newTestServer(errors.New("no checkpoint yet"), nil), "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusEndpoint(t *testing.T) {
	progress := &mockProgress{p: pipeline.Progress{
		Running:     true,
		Dataset:     "IDAHO_EPSCOR/GRIDMET",
		Month:       "05/2012",
		MonthsDone:  29,
		MonthsTotal: 168,
		Checkpoints: 2,
	}}
	rec := serve(newTestServer(nil, progress), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got pipeline.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, progress.p, got)
}

func TestStatusEndpointDisabled(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
