package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the wire and storage format for appointment dates.
	DateLayout = time.DateOnly
	// TimeLayout is the wire and storage format for appointment times.
	TimeLayout = "15:04"
)

// Appointment is a patient's claim on one (doctor, date, time) slot.
type Appointment struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	PatientID uuid.UUID  `json:"patientId"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Status    Status     `json:"status"`
	Treatment *Treatment `json:"treatment,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Treatment is the clinical note recorded for an appointment. At most one
// exists per appointment.
type Treatment struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	Diagnosis     string    `json:"diagnosis"`
	Prescription  string    `json:"prescription,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TreatmentInput is the payload a doctor supplies when recording a treatment.
type TreatmentInput struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

// Validate trims the payload and requires a diagnosis.
func (in *TreatmentInput) Validate() error {
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	in.Prescription = strings.TrimSpace(in.Prescription)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Diagnosis == "" {
		return ValidationError("diagnosis is required")
	}
	return nil
}

// slotKey identifies the uniqueness triple.
type slotKey struct {
	doctorID uuid.UUID
	date     string
	time     string
}

// ParseDate validates an ISO date string and returns it normalized.
func ParseDate(raw string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", ValidationError("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d.Format(DateLayout), nil
}

// ParseTime validates an HH:MM time string and returns it zero-padded.
func ParseTime(raw string) (string, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", ValidationError("invalid time %q, expected HH:MM", raw)
	}
	return t.Format(TimeLayout), nil
}

// View selects one of the patient-facing appointment lists.
type View string

const (
	ViewAll      View = "all"
	ViewUpcoming View = "upcoming"
	ViewHistory  View = "history"
)

// ParseView defaults to ViewAll for an empty value.
func ParseView(raw string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewUpcoming:
		return ViewUpcoming, nil
	case ViewHistory:
		return ViewHistory, nil
	}
	return "", ValidationError("unknown view %q", raw)
}

// Order is the sort direction of a list query. Both date and time follow it.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// Query is the storage-level list filter. Zero values mean "no constraint".
type Query struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    Status
	DateFrom  string
	DateTo    string
	// HistoryBefore selects rows with date < HistoryBefore OR status != Booked.
	HistoryBefore string
	Order         Order
	Limit         int
}

// Filter is the admin search request.
type Filter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    Status
	DateFrom  string
	DateTo    string
}

// Summary counts appointments by status.
type Summary struct {
	Total     int `json:"total"`
	Booked    int `json:"booked"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

func (s *Summary) add(status Status, n int) {
	s.Total += n
	switch status {
	case StatusBooked:
		s.Booked += n
	case StatusCompleted:
		s.Completed += n
	case StatusCancelled:
		s.Cancelled += n
	}
}

// PatientVisits is one row of a doctor's patient roster. Every appointment
// with the doctor counts as a visit regardless of status.
type PatientVisits struct {
	PatientID     uuid.UUID `json:"patientId"`
	Name          string    `json:"name,omitempty"`
	LastVisitDate string    `json:"lastVisitDate"`
	TotalVisits   int       `json:"totalVisits"`
}
