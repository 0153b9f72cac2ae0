package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("medication", "pause", "ok")
	m.SyncEvent("result_created", "ok")
	m.SyncConflict("result_created")
	m.SlotEmitted()
	m.SlotSkipped("nonexistent")
	m.PlanCache("hit")
	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestHandler_ExposesEngineSeries(t *testing.T) {
	m := New()
	m.Transition("lab_order", "complete", "ok")
	m.SlotSkipped("ambiguous")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `clinical_engine_lifecycle_transitions_total{action="complete",kind="lab_order",outcome="ok"} 1`) {
		t.Errorf("transition series missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, `clinical_engine_slots_skipped_total{reason="ambiguous"} 1`) {
		t.Errorf("slot skip series missing from exposition")
	}
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/assignments/:kind/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assignments/medication/abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "clinical_engine_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/api/v1/assignments/:kind/:id" && labels["status"] == "404" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected request counted under route template with status 404")
	}
}
