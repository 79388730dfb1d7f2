package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
	"github.com/tiagoc-santos/DataBase-Project/internal/metrics"
)

type fakeScheduler struct {
	lastReq     appointment.Request
	lastClinic  string
	lastSpecial string

	bookErr     error
	cancelErr   error
	slots       []appointment.Slot
	readErr     error
	clinics     []appointment.Clinic
	specialties []string
}

func (f *fakeScheduler) Book(_ context.Context, req appointment.Request) (*appointment.Appointment, error) {
	f.lastReq = req
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	at, err := appointment.ParseInstant(req.Date, req.Time)
	if err != nil {
		return nil, appointment.Reject(appointment.ReasonInvalidSlot)
	}
	return &appointment.Appointment{ID: 42, SSN: 1001, NIF: 111, Clinic: req.Clinic, Instant: at}, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, req appointment.Request) error {
	f.lastReq = req
	return f.cancelErr
}

func (f *fakeScheduler) Availability(_ context.Context, clinic, specialty string) ([]appointment.Slot, error) {
	f.lastClinic, f.lastSpecial = clinic, specialty
	return f.slots, f.readErr
}

func (f *fakeScheduler) Clinics(context.Context) ([]appointment.Clinic, error) {
	return f.clinics, f.readErr
}

func (f *fakeScheduler) Specialties(_ context.Context, clinic string) ([]string, error) {
	f.lastClinic = clinic
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.specialties) == 0 {
		return nil, appointment.ErrClinicNotFound
	}
	return f.specialties, nil
}

func newTestRouter(svc Scheduler) (http.Handler, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewRouter(RouterConfig{
		Service: svc,
		Metrics: m,
		Logger:  zerolog.Nop(),
	}), m
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestBookHandler(t *testing.T) {
	svc := &fakeScheduler{}
	h, m := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/a/Clinica%20Central/registar/?paciente=1001&medico=111&data=2030-06-10&hora=10:30")
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, appointment.Request{
		Clinic:  "Clinica Central",
		Patient: "1001",
		Doctor:  "111",
		Date:    "2030-06-10",
		Time:    "10:30",
	}, svc.lastReq)

	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "2030-06-10", resp.Date)
	assert.Equal(t, "10:30", resp.Time)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("book", "committed")))
}

func TestSchedulingRejectionStatus(t *testing.T) {
	tests := []struct {
		reason appointment.Reason
		status int
	}{
		{appointment.ReasonInvalidIdentifierFormat, http.StatusBadRequest},
		{appointment.ReasonSelfConsultationForbidden, http.StatusBadRequest},
		{appointment.ReasonInvalidSlot, http.StatusBadRequest},
		{appointment.ReasonUnknownPatient, http.StatusBadRequest},
		{appointment.ReasonUnknownDoctor, http.StatusBadRequest},
		{appointment.ReasonSlotConflict, http.StatusConflict},
		{appointment.ReasonDateInPast, http.StatusBadRequest},
		{appointment.ReasonDoctorNotAtClinicOnDay, http.StatusBadRequest},
		{appointment.ReasonNoSuchAppointment, http.StatusNotFound},
		{appointment.ReasonResourceExhausted, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			rej := appointment.Reject(tt.reason)
			h, m := newTestRouter(&fakeScheduler{bookErr: rej, cancelErr: rej})

			for _, action := range []string{"registar", "cancelar"} {
				rec := do(t, h, http.MethodPost, "/a/ClinicA/"+action+"?paciente=1&medico=2&data=2030-06-10&hora=10:00")
				assert.Equal(t, tt.status, rec.Code, action)

				resp := decode[ErrorResponse](t, rec)
				assert.Equal(t, string(tt.reason), resp.Error)
				assert.Equal(t, tt.reason.Message(), resp.Message)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("book", string(tt.reason))))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("cancel", string(tt.reason))))
		})
	}
}

func TestSchedulingInternalError(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{bookErr: errors.New("boom")})

	rec := do(t, h, http.MethodPost, "/a/ClinicA/registar?paciente=1&medico=2&data=2030-06-10&hora=10:00")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestCancelHandler(t *testing.T) {
	svc := &fakeScheduler{}
	h, _ := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/a/ClinicA/cancelar/?paciente=1001&medico=111&data=2030-06-10&hora=10:30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ClinicA", svc.lastReq.Clinic)
	assert.Equal(t, "appointment cancelled", decode[MessageResponse](t, rec).Message)
}

func TestBookRequiresPost(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{})
	rec := do(t, h, http.MethodGet, "/a/ClinicA/registar?paciente=1&medico=2&data=2030-06-10&hora=10:00")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListClinicsHandler(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{clinics: []appointment.Clinic{
		{Name: "ClinicA", Address: "Rua A"},
		{Name: "ClinicB", Address: "Rua B"},
	}})

	rec := do(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[[]ClinicResponse](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, ClinicResponse{Name: "ClinicA", Address: "Rua A"}, resp[0])
}

func TestListClinicsEmpty(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{})

	rec := do(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListSpecialtiesHandler(t *testing.T) {
	svc := &fakeScheduler{specialties: []string{"Cardiology", "Dermatology"}}
	h, _ := newTestRouter(svc)

	for _, path := range []string{"/c/ClinicA", "/c/ClinicA/"} {
		rec := do(t, h, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		resp := decode[SpecialtiesResponse](t, rec)
		assert.Equal(t, "ClinicA", resp.Clinic)
		assert.Equal(t, []string{"Cardiology", "Dermatology"}, resp.Specialties)
	}
}

func TestListSpecialtiesUnknownClinic(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{})

	rec := do(t, h, http.MethodGet, "/c/Nowhere/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "clinic_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestAvailabilityHandler(t *testing.T) {
	svc := &fakeScheduler{slots: []appointment.Slot{
		{DoctorName: "Dr. Ana", DoctorNIF: 111, Instant: time.Date(2030, 6, 10, 10, 30, 0, 0, time.UTC)},
		{DoctorName: "Dr. Ana", DoctorNIF: 111, Instant: time.Date(2030, 6, 10, 11, 0, 0, 0, time.UTC)},
	}}
	h, _ := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/c/Clinica%20Central/Medicina%20Geral/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Clinica Central", svc.lastClinic)
	assert.Equal(t, "Medicina Geral", svc.lastSpecial)

	resp := decode[[]SlotResponse](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, SlotResponse{Doctor: "Dr. Ana", DoctorNIF: 111, Date: "2030-06-10", Time: "10:30"}, resp[0])
}

func TestAvailabilityNoMatch(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{})

	rec := do(t, h, http.MethodGet, "/c/ClinicA/Oncology")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "clinic_or_specialty_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"pool exhausted", &appointment.Rejection{Reason: appointment.ReasonResourceExhausted, Err: appointment.ErrPoolExhausted}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(&fakeScheduler{readErr: tt.err})
			for _, path := range []string{"/", "/c/ClinicA", "/c/ClinicA/Cardiology"} {
				rec := do(t, h, http.MethodGet, path)
				assert.Equal(t, tt.status, rec.Code, path)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	h, _ := newTestRouter(&fakeScheduler{})

	rec := do(t, h, http.MethodGet, "/")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestPathParamsDecodedOnce(t *testing.T) {
	svc := &fakeScheduler{}
	h, _ := newTestRouter(svc)

	// a literal percent sign in the clinic name must survive decoding
	rec := do(t, h, http.MethodPost, "/a/Clinic%2541/registar/?paciente=1001&medico=111&data=2030-06-10&hora=10:30")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Clinic%41", svc.lastReq.Clinic)

	// an escaped slash keeps the request on RawPath and is decoded once
	do(t, h, http.MethodGet, "/c/Clinic%2FA/Cardiology")
	assert.Equal(t, "Clinic/A", svc.lastClinic)
	assert.Equal(t, "Cardiology", svc.lastSpecial)
}
