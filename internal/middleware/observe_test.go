package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestObserveLabelsByRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Observe)
	r.HandleFunc("/observe/{namespace}/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	for _, path := range []string{"/observe/a/1", "/observe/b/2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}

	body := scrape(t)
	assert.Contains(t, body, `api_requests_total{endpoint="/observe/{namespace}/{key}",method="GET",status="418"} 2`)
	assert.NotContains(t, body, `endpoint="/observe/a/1"`)
}

func TestObserveDefaultsToOK(t *testing.T) {
	h := Observe(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/anything", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, scrape(t), `api_requests_total{endpoint="unmatched",method="PATCH",status="200"}`)
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}
