package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/sessions/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, tok := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+tok, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/sessions/{token}", "404")))
}

func TestHandler_ExposesTerminalMetrics(t *testing.T) {
	m := New()
	m.SessionsCreated.Inc()
	m.InputDropped.WithLabelValues(DropRate).Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "enms_terminal_sessions_created_total 1")
	assert.Contains(t, string(body), `enms_terminal_input_dropped_total{reason="rate"} 1`)
}
