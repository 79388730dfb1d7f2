package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
	"github.com/tiagoc-santos/DataBase-Project/internal/metrics"
)

const outcomeCommitted = "committed"

var reasonStatus = map[appointment.Reason]int{
	appointment.ReasonInvalidIdentifierFormat:   http.StatusBadRequest,
	appointment.ReasonSelfConsultationForbidden: http.StatusBadRequest,
	appointment.ReasonInvalidSlot:               http.StatusBadRequest,
	appointment.ReasonUnknownPatient:            http.StatusBadRequest,
	appointment.ReasonUnknownDoctor:             http.StatusBadRequest,
	appointment.ReasonSlotConflict:              http.StatusConflict,
	appointment.ReasonDateInPast:                http.StatusBadRequest,
	appointment.ReasonDoctorNotAtClinicOnDay:    http.StatusBadRequest,
	appointment.ReasonNoSuchAppointment:         http.StatusNotFound,
	appointment.ReasonResourceExhausted:         http.StatusServiceUnavailable,
}

// pathParam returns a decoded path parameter. chi matches on RawPath when the
// request carries one, and the param is still escaped only in that case.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// bookingRequest reads the query string the way the clinic front-end sends
// it: paciente (SSN), medico (NIF), data and hora.
func bookingRequest(r *http.Request) appointment.Request {
	q := r.URL.Query()
	return appointment.Request{
		Clinic:  pathParam(r, "clinic"),
		Patient: q.Get("paciente"),
		Doctor:  q.Get("medico"),
		Date:    q.Get("data"),
		Time:    q.Get("hora"),
	}
}

func listClinicsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinics, err := svc.Clinics(r.Context())
		if err != nil {
			handleReadError(w, r, err)
			return
		}

		resp := make([]ClinicResponse, 0, len(clinics))
		for _, c := range clinics {
			resp = append(resp, ClinicResponse{Name: c.Name, Address: c.Address})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listSpecialtiesHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinic := pathParam(r, "clinic")

		specialties, err := svc.Specialties(r.Context(), clinic)
		if err != nil {
			if errors.Is(err, appointment.ErrClinicNotFound) {
				writeError(w, http.StatusNotFound, "clinic_not_found", "clinic not found")
				return
			}
			handleReadError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SpecialtiesResponse{Clinic: clinic, Specialties: specialties})
	}
}

func availabilityHandler(svc Scheduler, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		slots, err := svc.Availability(r.Context(), pathParam(r, "clinic"), pathParam(r, "specialty"))
		if m != nil {
			m.AvailabilityLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			handleReadError(w, r, err)
			return
		}
		if len(slots) == 0 {
			writeError(w, http.StatusNotFound, "clinic_or_specialty_not_found", "clinic or specialty not found")
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, newSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookHandler(svc Scheduler, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Book(r.Context(), bookingRequest(r))
		if err != nil {
			handleSchedulingError(w, r, m, appointment.OpBook, err)
			return
		}

		observe(m, appointment.OpBook, outcomeCommitted)
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func cancelHandler(svc Scheduler, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Cancel(r.Context(), bookingRequest(r)); err != nil {
			handleSchedulingError(w, r, m, appointment.OpCancel, err)
			return
		}

		observe(m, appointment.OpCancel, outcomeCommitted)
		writeJSON(w, http.StatusOK, MessageResponse{Message: "appointment cancelled"})
	}
}

func observe(m *metrics.Metrics, op appointment.Operation, outcome string) {
	if m != nil {
		m.ObserveOutcome(string(op), outcome)
	}
}

func handleSchedulingError(w http.ResponseWriter, r *http.Request, m *metrics.Metrics, op appointment.Operation, err error) {
	var rej *appointment.Rejection
	if errors.As(err, &rej) {
		observe(m, op, string(rej.Reason))
		status, ok := reasonStatus[rej.Reason]
		if !ok {
			status = http.StatusBadRequest
		}
		writeError(w, status, string(rej.Reason), rej.Reason.Message())
		return
	}

	observe(m, op, "error")
	zerolog.Ctx(r.Context()).Error().Err(err).Str("op", string(op)).Msg("scheduling request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func handleReadError(w http.ResponseWriter, r *http.Request, err error) {
	if appointment.ReasonOf(err) == appointment.ReasonResourceExhausted {
		writeError(w, http.StatusServiceUnavailable, string(appointment.ReasonResourceExhausted),
			appointment.ReasonResourceExhausted.Message())
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("read request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
