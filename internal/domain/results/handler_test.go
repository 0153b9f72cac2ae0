package results

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

func TestHandler_Create(t *testing.T) {
	f := newFixture()
	ref := f.order(clinref.KindLabOrder, clinref.StatusActive)
	h, e := NewHandler(f.svc), echo.New()

	body := `{"kind":"lab","assignment_id":"` + ref.ID.String() + `","completed":true,"summary":"normal","data":{"hb":13.5}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), "lab-tech", "lab_technician"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Result
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Data["hb"] != 13.5 {
		t.Errorf("expected data to round-trip, got %v", got.Data)
	}
}

func TestHandler_Create_UnknownAssignment(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	body := `{"kind":"lab","assignment_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), "lab-tech", "lab_technician"))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Create(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %v", err)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("kind", "id")
	c.SetParamValues("lab", uuid.New().String())

	err := h.Get(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Get_BadKind(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("kind", "id")
	c.SetParamValues("radiology", uuid.New().String())

	err := h.Get(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Delete(t *testing.T) {
	f := newFixture()
	ref := f.order(clinref.KindInstrumentalOrder, clinref.StatusActive)
	res := &Result{Kind: KindInstrumental, AssignmentID: ref.ID}
	f.svc.Create(auth.WithUser(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "x"), res, "x")
	h, e := NewHandler(f.svc), echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("kind", "id")
	c.SetParamValues("instrumental", res.ID.String())

	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
