package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_nilSafe(t *testing.T) {
	var m *Metrics
	m.IncRequests(http.MethodGet, "/stream/status")
	m.IncErrors(http.MethodPost, "/stream/switch")
	m.IncSwitchRequests()
	m.ObserveSwitch(OutcomeSwitched, time.Second)
	m.SetQueueLength(3)
	m.SetSwitching(true)
}

func TestMetrics_switchOutcomes(t *testing.T) {
	m := New()
	m.ObserveSwitch(OutcomeSwitched, 3*time.Second)
	m.ObserveSwitch(OutcomeExhausted, time.Second)
	m.IncCrashes()

	out := scrape(t, m, func() { m.SetQueueLength(2) })
	for _, want := range []string{
		`switcher_switches_total{outcome="switched"} 1`,
		`switcher_switches_total{outcome="exhausted"} 1`,
		`switcher_crashes_total 1`,
		`switcher_queue_length 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}

func TestRequestMiddleware_countsByRoute(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Post("/stream/{state}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "state") == "dancing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	for _, path := range []string{"/stream/idle", "/stream/speaking", "/stream/dancing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	out := scrape(t, m, nil)
	for _, want := range []string{
		`switcher_http_requests_total{method="POST",route="/stream/{state}"} 3`,
		`switcher_http_errors_total{method="POST",route="/stream/{state}"} 1`,
		`switcher_http_requests_total{method="GET",route="unmatched"} 1`,
		`switcher_http_errors_total{method="GET",route="unmatched"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in scrape output:\n%s", want, out)
		}
	}
}
