package events

import "time"

// Appointment event types written to the outbox.
const (
	TypeAppointmentBooked      = "appointment.booked"
	TypeAppointmentRescheduled = "appointment.rescheduled"
	TypeAppointmentCancelled   = "appointment.cancelled"
	TypeAppointmentCompleted   = "appointment.completed"
)

// AppointmentEventV1 is the payload for every appointment event. Previous*
// fields are only set on reschedules and transitions.
type AppointmentEventV1 struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	AppointmentID  string    `json:"appointment_id"`
	DoctorID       string    `json:"doctor_id"`
	PatientID      string    `json:"patient_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Status         string    `json:"status"`
	PreviousDate   string    `json:"previous_date,omitempty"`
	PreviousTime   string    `json:"previous_time,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	TreatmentID    string    `json:"treatment_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
