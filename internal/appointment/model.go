package appointment

import (
	"time"
)

type Clinic struct {
	Name    string
	Address string
}

type Doctor struct {
	NIF       int64
	Name      string
	Specialty string
}

// Patient may carry the NIF of the person behind the SSN. Only the
// self-consultation check reads it.
type Patient struct {
	SSN  int64
	NIF  *int64
	Name string
}

type WorkAssignment struct {
	NIF     int64
	Clinic  string
	Weekday time.Weekday
}

type Appointment struct {
	ID      int64
	SSN     int64
	NIF     int64
	Clinic  string
	Instant time.Time
}

// Slot is one entry of an availability answer.
type Slot struct {
	DoctorName string
	DoctorNIF  int64
	Instant    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}
