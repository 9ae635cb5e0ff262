package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/warp/incentive-engine/compensation"
)

func TestObserver_Counts(t *testing.T) {
	m := New()

	m.RecomputeCompleted(3, 1)
	m.FinalizeCompleted(compensation.OutcomeFinalized)
	m.FinalizeCompleted(compensation.OutcomeAlreadyFinalized)
	m.FinalizeCompleted(compensation.OutcomeAlreadyFinalized)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.recomputedTotal.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recomputedTotal.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.finalizeTotal.WithLabelValues("already_finalized")))
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/camps/{campID}/summary", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/camps/"+id+"/summary", nil))
	}

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/camps/{campID}/summary", "404"))
	assert.Equal(t, 2.0, got)
}

func TestHandler_Exposes(t *testing.T) {
	m := New()
	m.FinalizeCompleted(compensation.OutcomeFinalized)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `incentive_finalize_total{outcome="finalized"} 1`)
}
