package assignment

import (
	"context"
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

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), "dr-house", "physician"))
}

func createLab(t *testing.T, h *Handler) *LabOrder {
	t.Helper()
	l := &LabOrder{
		Base:        Base{PatientID: uuid.New(), Target: Target{Type: "department_stay", ID: uuid.New()}, Start: t0},
		LabTestCode: "CBC",
	}
	if err := h.svc.CreateAssignment(authed(httptest.NewRequest(http.MethodPost, "/", nil)).Context(), l, "dr-house"); err != nil {
		t.Fatalf("create: %v", err)
	}
	return l
}

func TestHandler_CreateAssignment(t *testing.T) {
	h, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","target":{"type":"encounter","id":"` + uuid.New().String() +
		`"},"start":"2024-01-10T08:00:00Z","medication_name":"Ibuprofen","dosing":"400 mg","times_per_day":3,"duration_days":5}`
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind")
	c.SetParamValues("medication")

	if err := h.CreateAssignment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["status"] != "active" {
		t.Errorf("expected status active, got %v", got["status"])
	}
	if got["duration_days"] != float64(5) {
		t.Errorf("expected duration_days 5, got %v", got["duration_days"])
	}
}

func TestHandler_CreateAssignment_UnknownKind(t *testing.T) {
	h, e := newTestHandler()
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("kind")
	c.SetParamValues("surgery")

	err := h.CreateAssignment(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CreateAssignment_StatusByCause(t *testing.T) {
	cases := map[string]struct {
		body string
		hook CreatedHook
		want int
	}{
		"validation": {
			body: `{"patient_id":"` + uuid.New().String() + `"}`,
			want: http.StatusBadRequest,
		},
		"storage failure": {
			body: `{"patient_id":"` + uuid.New().String() + `","target":{"type":"encounter","id":"` + uuid.New().String() +
				`"},"start":"2024-01-10T08:00:00Z","lab_test_code":"CBC"}`,
			hook: func(context.Context, Assignment) error { return errors.New("connection reset") },
			want: http.StatusInternalServerError,
		},
	}
	for name, tc := range cases {
		svc, _ := newTestService()
		if tc.hook != nil {
			svc.OnCreated(tc.hook)
		}
		req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := echo.New().NewContext(req, httptest.NewRecorder())
		c.SetParamNames("kind")
		c.SetParamValues("lab_order")

		err := NewHandler(svc).CreateAssignment(c)
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != tc.want {
			t.Errorf("%s: expected %d, got %v", name, tc.want, err)
		}
	}
}

func TestHandler_CreateAssignment_Unauthenticated(t *testing.T) {
	h, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("kind")
	c.SetParamValues("lab_order")

	err := h.CreateAssignment(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_GetAssignment_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("kind", "id")
	c.SetParamValues("lab_order", uuid.New().String())

	err := h.GetAssignment(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Transition(t *testing.T) {
	h, e := newTestHandler()
	l := createLab(t, h)

	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"sample lost"}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "id", "action")
	c.SetParamValues("lab_order", l.ID.String(), "reject")

	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got LabOrder
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != clinref.StatusRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "sample lost" {
		t.Error("expected rejection reason in response")
	}
}

func TestHandler_Transition_InvalidIsConflict(t *testing.T) {
	h, e := newTestHandler()
	l := createLab(t, h)
	h.svc.Transition(authed(httptest.NewRequest(http.MethodPost, "/", nil)).Context(), Ref(l), ActionComplete, "dr-house", "")

	req := authed(httptest.NewRequest(http.MethodPost, "/", nil))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("kind", "id", "action")
	c.SetParamValues("lab_order", l.ID.String(), "cancel")

	err := h.Transition(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	if he.Message != "cannot cancel a completed assignment" {
		t.Errorf("unexpected message: %v", he.Message)
	}
}

func TestHandler_Transition_UnknownAction(t *testing.T) {
	h, e := newTestHandler()
	l := createLab(t, h)
	c := e.NewContext(authed(httptest.NewRequest(http.MethodPost, "/", nil)), httptest.NewRecorder())
	c.SetParamNames("kind", "id", "action")
	c.SetParamValues("lab_order", l.ID.String(), "archive")

	err := h.Transition(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListByPatient_RequiresKind(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())

	err := h.ListByPatient(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	h, e := newTestHandler()
	l := createLab(t, h)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?kind=lab_order", nil), rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(l.PatientID.String())

	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Total != 1 {
		t.Errorf("expected total 1, got %d", got.Total)
	}
}
