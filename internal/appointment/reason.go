package appointment

import (
	"errors"
)

// Reason names the single rule a booking or cancellation request broke.
type Reason string

const (
	Admissible Reason = ""

	ReasonInvalidIdentifierFormat   Reason = "invalid_identifier_format"
	ReasonSelfConsultationForbidden Reason = "self_consultation_forbidden"
	ReasonInvalidSlot               Reason = "invalid_slot"
	ReasonUnknownPatient            Reason = "unknown_patient"
	ReasonUnknownDoctor             Reason = "unknown_doctor"
	ReasonSlotConflict              Reason = "slot_conflict"
	ReasonDateInPast                Reason = "date_in_past"
	ReasonDoctorNotAtClinicOnDay    Reason = "doctor_not_at_clinic_on_day"
	ReasonNoSuchAppointment         Reason = "no_such_appointment"
	ReasonResourceExhausted         Reason = "resource_exhausted"
)

var reasonMessages = map[Reason]string{
	ReasonInvalidIdentifierFormat:   "NIF/SSN must be integers",
	ReasonSelfConsultationForbidden: "a doctor cannot book a consultation with themselves",
	ReasonInvalidSlot:               "date/time is not a valid appointment slot",
	ReasonUnknownPatient:            "no patient with this SSN",
	ReasonUnknownDoctor:             "no doctor with this NIF",
	ReasonSlotConflict:              "this time slot is not available",
	ReasonDateInPast:                "the appointment date is in the past",
	ReasonDoctorNotAtClinicOnDay:    "the doctor does not work at this clinic on this day",
	ReasonNoSuchAppointment:         "there is no appointment booked for this slot",
	ReasonResourceExhausted:         "the service is busy, please retry",
}

func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Rejection is returned by Service operations when a request is not
// admissible. It is never used for infrastructure failures.
type Rejection struct {
	Reason Reason
	Err    error
}

func Reject(r Reason) *Rejection {
	return &Rejection{Reason: r}
}

func (e *Rejection) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

func (e *Rejection) Unwrap() error {
	return e.Err
}

// Is matches any *Rejection carrying the same reason, so callers can write
// errors.Is(err, appointment.Reject(appointment.ReasonSlotConflict)).
func (e *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == e.Reason
}

// ReasonOf returns the rejection reason carried by err, or Admissible when
// err is nil or not a rejection.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return Admissible
}
