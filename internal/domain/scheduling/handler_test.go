package scheduling

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
)

func newTestHandler(t *testing.T) (*Handler, *genFixture, *echo.Echo) {
	t.Helper()
	svc, f := newTestService(t)
	return NewHandler(svc, f.gen), f, echo.New()
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), "front-desk", "receptionist"))
}

func TestHandler_CreateSchedule(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"doctor_id":"` + uuid.New().String() + `","doctor_label":"Dr. Grey","weekdays":[1,3],` +
		`"start_time":"09:00","end_time":"11:00","slot_minutes":20}`
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["slot_minutes"] != float64(20) || got["active"] != true {
		t.Errorf("unexpected schedule: %v", got)
	}
}

func TestHandler_CreateSchedule_Invalid(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"doctor_label":"x"}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.CreateSchedule(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Slots(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.addSchedule(uuid.New(), []int{1, 3}, "09:00", "11:00", 30)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-01-08&end=2024-01-14", nil), rec)
	if err := h.Slots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Data []struct {
			Start string `json:"start"`
		} `json:"data"`
		Truncated bool `json:"truncated"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Data) != 8 || got.Truncated {
		t.Fatalf("expected 8 slots untruncated, got %d (truncated=%v)", len(got.Data), got.Truncated)
	}
	if got.Data[0].Start != "2024-01-08T09:00:00+01:00" {
		t.Errorf("unexpected first start %s", got.Data[0].Start)
	}
}

func TestHandler_Slots_Limit(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.addSchedule(uuid.New(), []int{1, 3}, "09:00", "11:00", 30)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-01-08&end=2024-01-14&limit=3", nil), rec)
	if err := h.Slots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got slotsResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Data) != 3 || !got.Truncated {
		t.Errorf("expected 3 truncated slots, got %d (truncated=%v)", len(got.Data), got.Truncated)
	}
}

func TestHandler_Slots_Empty(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-01-08&end=2024-01-08", nil), rec)
	if err := h.Slots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}

func TestHandler_Slots_RequiresWindow(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-01-08", nil), httptest.NewRecorder())

	err := h.Slots(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Book(t *testing.T) {
	h, f, e := newTestHandler(t)
	s := f.addSchedule(uuid.New(), []int{1}, "09:00", "11:00", 30)

	body := `{"schedule_id":"` + s.ID.String() + `","patient_id":"` + uuid.New().String() +
		`","start":"2024-01-08T10:00:00+01:00","notes":"first visit"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Booking
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.CreatedBy != "front-desk" || got.Status != BookingScheduled {
		t.Errorf("unexpected booking: %+v", got)
	}
}

func TestHandler_Book_TakenIsConflict(t *testing.T) {
	h, f, e := newTestHandler(t)
	doctor := uuid.New()
	s := f.addSchedule(doctor, []int{1}, "09:00", "11:00", 30)
	at, _ := f.zone.At(date(2024, 1, 8), 9*60)
	f.bookings.seedBooking(doctor, at)

	body := `{"schedule_id":"` + s.ID.String() + `","patient_id":"` + uuid.New().String() + `","start":"2024-01-08T08:00:00Z"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Book(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Book_Unauthenticated(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"schedule_id":"` + uuid.New().String() + `","start":"2024-01-08T08:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Book(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_CancelBooking_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(authed(httptest.NewRequest(http.MethodPost, "/", nil)), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.CancelBooking(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ListSchedules(t *testing.T) {
	h, f, e := newTestHandler(t)
	doctor := uuid.New()
	f.addSchedule(doctor, []int{1}, "09:00", "10:00", 30)
	f.addSchedule(uuid.New(), []int{2}, "09:00", "10:00", 30)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?doctor_id="+doctor.String(), nil), rec)
	if err := h.ListSchedules(c); err != nil {
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

func TestHandler_DeleteSchedule(t *testing.T) {
	h, f, e := newTestHandler(t)
	s := f.addSchedule(uuid.New(), []int{1}, "09:00", "10:00", 30)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.DeleteSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, err := f.scheds.GetByID(context.Background(), s.ID); !errors.Is(err, ErrNotFound) {
		t.Error("expected schedule to be gone")
	}
}
