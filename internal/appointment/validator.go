package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Operation string

const (
	OpBook   Operation = "book"
	OpCancel Operation = "cancel"
)

// Request is a booking or cancellation exactly as received: identifiers,
// date and time are still untyped text.
type Request struct {
	Clinic  string
	Patient string // SSN
	Doctor  string // NIF
	Date    string
	Time    string
}

// candidate accumulates the typed form of a Request as checks run.
type candidate struct {
	req Request
	ssn int64
	nif int64
	at  time.Time
}

func (c *candidate) appointment() Appointment {
	return Appointment{SSN: c.ssn, NIF: c.nif, Clinic: c.req.Clinic, Instant: c.at}
}

// check returns Admissible to let the pipeline continue. A non-nil error is
// an infrastructure failure and aborts the pipeline without a reason.
type check func(ctx context.Context, q Queries, c *candidate) (Reason, error)

// Validator runs the ordered admissibility checks. The order decides which
// single reason a caller sees when several rules are broken at once.
type Validator struct {
	now       func() time.Time
	pipelines map[Operation][]check
}

func NewValidator(now func() time.Time) *Validator {
	v := &Validator{now: now}
	v.pipelines = map[Operation][]check{
		OpBook: {
			checkIdentifiers,
			checkNotSelf,
			checkLegalSlot,
			checkPatientExists,
			checkDoctorExists,
			checkNoConflict,
			v.checkNotPast,
			checkWorksAtClinic,
		},
		OpCancel: {
			checkIdentifiers,
			checkNotSelf,
			checkLegalSlot,
			checkPatientExists,
			checkDoctorExists,
			v.checkNotPast,
			checkBooked,
		},
	}
	return v
}

func (v *Validator) ValidateBooking(ctx context.Context, q Queries, req Request) (Appointment, Reason, error) {
	return v.Validate(ctx, q, OpBook, req)
}

func (v *Validator) ValidateCancellation(ctx context.Context, q Queries, req Request) (Appointment, Reason, error) {
	return v.Validate(ctx, q, OpCancel, req)
}

// Validate stops at the first failing check. On Admissible the returned
// Appointment holds the typed request (without an id).
func (v *Validator) Validate(ctx context.Context, q Queries, op Operation, req Request) (Appointment, Reason, error) {
	pipeline, ok := v.pipelines[op]
	if !ok {
		return Appointment{}, Admissible, fmt.Errorf("unknown operation %q", op)
	}

	c := &candidate{req: req}
	for _, chk := range pipeline {
		reason, err := chk(ctx, q, c)
		if err != nil {
			return Appointment{}, Admissible, err
		}
		if reason != Admissible {
			return Appointment{}, reason, nil
		}
	}
	return c.appointment(), Admissible, nil
}

// parseID accepts base-10 identifiers that fit in a signed 64-bit key.
func parseID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}

func checkIdentifiers(_ context.Context, _ Queries, c *candidate) (Reason, error) {
	ssn, ok := parseID(c.req.Patient)
	if !ok {
		return ReasonInvalidIdentifierFormat, nil
	}
	nif, ok := parseID(c.req.Doctor)
	if !ok {
		return ReasonInvalidIdentifierFormat, nil
	}
	c.ssn, c.nif = ssn, nif
	return Admissible, nil
}

// checkNotSelf compares the doctor against the NIF recorded for the patient,
// not against the SSN. A patient that does not exist, or has no NIF on
// file, passes; the existence check further down reports the former.
func checkNotSelf(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	p, err := q.GetPatient(ctx, c.ssn)
	if errors.Is(err, ErrPatientNotFound) {
		return Admissible, nil
	}
	if err != nil {
		return Admissible, fmt.Errorf("load patient: %w", err)
	}
	if p.NIF != nil && *p.NIF == c.nif {
		return ReasonSelfConsultationForbidden, nil
	}
	return Admissible, nil
}

func checkLegalSlot(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	at, err := ParseInstant(c.req.Date, c.req.Time)
	if err != nil {
		return ReasonInvalidSlot, nil
	}
	ok, err := q.IsLegalInstant(ctx, at)
	if err != nil {
		return Admissible, fmt.Errorf("check slot grid: %w", err)
	}
	if !ok {
		return ReasonInvalidSlot, nil
	}
	c.at = at
	return Admissible, nil
}

func checkPatientExists(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	if _, err := q.GetPatient(ctx, c.ssn); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return ReasonUnknownPatient, nil
		}
		return Admissible, fmt.Errorf("load patient: %w", err)
	}
	return Admissible, nil
}

func checkDoctorExists(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	if _, err := q.GetDoctor(ctx, c.nif); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return ReasonUnknownDoctor, nil
		}
		return Admissible, fmt.Errorf("load doctor: %w", err)
	}
	return Admissible, nil
}

func checkNoConflict(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	busy, err := q.DoctorBusy(ctx, c.nif, c.at)
	if err != nil {
		return Admissible, fmt.Errorf("check doctor conflict: %w", err)
	}
	if busy {
		return ReasonSlotConflict, nil
	}
	busy, err = q.PatientBusy(ctx, c.ssn, c.at)
	if err != nil {
		return Admissible, fmt.Errorf("check patient conflict: %w", err)
	}
	if busy {
		return ReasonSlotConflict, nil
	}
	return Admissible, nil
}

func (v *Validator) checkNotPast(_ context.Context, _ Queries, c *candidate) (Reason, error) {
	if c.at.Before(v.now()) {
		return ReasonDateInPast, nil
	}
	return Admissible, nil
}

func checkWorksAtClinic(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	ok, err := q.WorksOn(ctx, c.nif, c.req.Clinic, c.at)
	if err != nil {
		return Admissible, fmt.Errorf("check work assignment: %w", err)
	}
	if !ok {
		return ReasonDoctorNotAtClinicOnDay, nil
	}
	return Admissible, nil
}

func checkBooked(ctx context.Context, q Queries, c *candidate) (Reason, error) {
	ok, err := q.AppointmentExists(ctx, c.appointment())
	if err != nil {
		return Admissible, fmt.Errorf("check appointment: %w", err)
	}
	if !ok {
		return ReasonNoSuchAppointment, nil
	}
	return Admissible, nil
}
