package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken reports a uniqueness violation on (doctor, instant) or
	// (patient, instant) detected by the database at write time.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrTxConflict reports a serialization failure or deadlock; the whole
	// transaction may be retried.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrPoolExhausted reports that no connection could be acquired in time.
	ErrPoolExhausted = errors.New("database connection pool exhausted")
)

// Catalog answers which instants exist at all and where doctors work.
type Catalog interface {
	IsLegalInstant(ctx context.Context, at time.Time) (bool, error)
	WorksOn(ctx context.Context, nif int64, clinic string, date time.Time) (bool, error)
	Weekdays(ctx context.Context, nif int64, clinic string) ([]time.Weekday, error)
	// GridAfter returns up to limit grid instants strictly after the given
	// instant, ascending.
	GridAfter(ctx context.Context, after time.Time, limit int) ([]time.Time, error)
	// DoctorsAt lists doctors of a specialty with at least one work
	// assignment at the clinic, ordered by name then NIF.
	DoctorsAt(ctx context.Context, clinic, specialty string) ([]Doctor, error)
}

// ConflictIndex answers whether a doctor or a patient is already booked.
type ConflictIndex interface {
	DoctorBusy(ctx context.Context, nif int64, at time.Time) (bool, error)
	PatientBusy(ctx context.Context, ssn int64, at time.Time) (bool, error)
	DoctorBookings(ctx context.Context, nif int64, after time.Time) ([]time.Time, error)
}

// Directory holds the reference data.
type Directory interface {
	GetPatient(ctx context.Context, ssn int64) (*Patient, error)
	GetDoctor(ctx context.Context, nif int64) (*Doctor, error)
	ListClinics(ctx context.Context) ([]Clinic, error)
	ListSpecialties(ctx context.Context, clinic string) ([]string, error)
}

// Ledger owns the appointment rows.
type Ledger interface {
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// DeleteAppointment removes the booking and returns the id the row carried.
	DeleteAppointment(ctx context.Context, a Appointment) (int64, bool, error)
	AppointmentExists(ctx context.Context, a Appointment) (bool, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Queries is everything a unit of work can read or write.
type Queries interface {
	Catalog
	ConflictIndex
	Directory
	Ledger
}

// Store scopes units of work. Every call acquires a connection and releases
// it on return, on every path.
type Store interface {
	// InTx runs fn inside one serializable transaction. A non-nil error from
	// fn rolls the transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	// Read runs fn on a pooled connection without an explicit transaction.
	Read(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
