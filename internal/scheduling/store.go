package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfman30/hms-platform/internal/events"
)

// Store is the persistence port. MemoryStore and PostgresStore implement it.
type Store interface {
	// InTx runs fn in one unit of work. Every write made through the Tx,
	// including emitted events, commits together or not at all.
	InTx(ctx context.Context, fn func(Tx) error) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, q Query) ([]*Appointment, error)
	Summarize(ctx context.Context, q Query) (Summary, error)
	// PatientRoster groups a doctor's appointments by patient, most recent
	// visit first.
	PatientRoster(ctx context.Context, doctorID uuid.UUID) ([]PatientVisits, error)

	AvailabilityStore
}

// AvailabilityStore holds each doctor's offered slots.
type AvailabilityStore interface {
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (Availability, error)
	PutAvailability(ctx context.Context, doctorID uuid.UUID, availability Availability) error
}

// Tx is the view of the store inside InTx.
type Tx interface {
	// LockAppointment loads an appointment and holds it against concurrent
	// writers until the unit of work ends. NotFoundError if absent.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindConflict returns the appointment holding the triple, ignoring exclude.
	FindConflict(ctx context.Context, doctorID uuid.UUID, date, timeLabel string, exclude uuid.UUID) (*Appointment, error)
	// InsertAppointment fails with ConflictError when the triple is taken.
	InsertAppointment(ctx context.Context, appt *Appointment) error
	// UpdateSlot fails with ConflictError when the new triple is taken.
	UpdateSlot(ctx context.Context, appt *Appointment) error
	UpdateStatus(ctx context.Context, appt *Appointment) error

	GetTreatment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error)
	// InsertTreatment fails with ConflictError if the appointment already has one.
	InsertTreatment(ctx context.Context, treatment *Treatment) error

	Emit(ctx context.Context, event events.AppointmentEventV1) error
}
