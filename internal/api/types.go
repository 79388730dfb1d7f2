package api

import (
	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
)

type ClinicResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type SpecialtiesResponse struct {
	Clinic      string   `json:"clinic"`
	Specialties []string `json:"specialties"`
}

type SlotResponse struct {
	Doctor    string `json:"doctor"`
	DoctorNIF int64  `json:"doctor_nif"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

type AppointmentResponse struct {
	ID     int64  `json:"id"`
	SSN    int64  `json:"ssn"`
	NIF    int64  `json:"nif"`
	Clinic string `json:"clinic"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func newSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		Doctor:    s.DoctorName,
		DoctorNIF: s.DoctorNIF,
		Date:      s.Instant.Format(appointment.DateLayout),
		Time:      s.Instant.Format(appointment.TimeLayout),
	}
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:     a.ID,
		SSN:    a.SSN,
		NIF:    a.NIF,
		Clinic: a.Clinic,
		Date:   a.Instant.Format(appointment.DateLayout),
		Time:   a.Instant.Format(appointment.TimeLayout),
	}
}

