package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/hms-platform/internal/events"
)

// Clock returns the current time in the clinic's zone.
type Clock func() time.Time

// AppointmentStore owns appointment records: conflict checks, creation, moves
// and the patient, doctor and admin list views.
type AppointmentStore struct {
	store Store
	now   Clock
}

func NewAppointmentStore(store Store, now Clock) *AppointmentStore {
	if store == nil {
		panic("scheduling: store required")
	}
	if now == nil {
		now = time.Now
	}
	return &AppointmentStore{store: store, now: now}
}

// Today is the clinic-local ISO date used by the upcoming/history split.
func (s *AppointmentStore) Today() string {
	return s.now().Format(DateLayout)
}

// FindConflict returns the appointment on the triple other than excludeID, or nil.
func (s *AppointmentStore) FindConflict(ctx context.Context, doctorID uuid.UUID, date, timeLabel string, excludeID uuid.UUID) (*Appointment, error) {
	var found *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		found, err = tx.FindConflict(ctx, doctorID, date, timeLabel, excludeID)
		return err
	})
	return found, err
}

// Create books the triple for patientID with status Booked.
func (s *AppointmentStore) Create(ctx context.Context, doctorID, patientID uuid.UUID, date, timeLabel string) (*Appointment, error) {
	var created *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		created, err = createAppointment(ctx, tx, s.now(), doctorID, patientID, date, timeLabel)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Move changes the date and time of a Booked appointment.
func (s *AppointmentStore) Move(ctx context.Context, id uuid.UUID, newDate, newTime string) (*Appointment, error) {
	var moved *Appointment
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		moved, err = moveAppointment(ctx, tx, s.now(), appt, newDate, newTime)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *AppointmentStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

// ForPatient lists a patient's appointments. Upcoming is date >= today in any
// status; history is date < today or any non-Booked status.
func (s *AppointmentStore) ForPatient(ctx context.Context, patientID uuid.UUID, view View) ([]*Appointment, error) {
	q := Query{PatientID: patientID}
	switch view {
	case ViewUpcoming:
		q.DateFrom = s.Today()
		q.Order = OrderAsc
	case ViewHistory:
		q.HistoryBefore = s.Today()
		q.Order = OrderDesc
	default:
		q.Order = OrderDesc
	}
	return s.store.ListAppointments(ctx, q)
}

// ForDoctorOn lists a doctor's appointments on one date, earliest first.
func (s *AppointmentStore) ForDoctorOn(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	return s.store.ListAppointments(ctx, Query{DoctorID: doctorID, DateFrom: date, DateTo: date, Order: OrderAsc})
}

// ForDoctorBetween lists a doctor's appointments in [from, to], earliest first.
func (s *AppointmentStore) ForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to string) ([]*Appointment, error) {
	if from > to {
		return nil, ValidationError("date_from %s is after date_to %s", from, to)
	}
	return s.store.ListAppointments(ctx, Query{DoctorID: doctorID, DateFrom: from, DateTo: to, Order: OrderAsc})
}

// Search is the admin history query, newest first.
func (s *AppointmentStore) Search(ctx context.Context, f Filter) ([]*Appointment, error) {
	if f.DateFrom != "" && f.DateTo != "" && f.DateFrom > f.DateTo {
		return nil, ValidationError("date_from %s is after date_to %s", f.DateFrom, f.DateTo)
	}
	return s.store.ListAppointments(ctx, Query{
		DoctorID:  f.DoctorID,
		PatientID: f.PatientID,
		Status:    f.Status,
		DateFrom:  f.DateFrom,
		DateTo:    f.DateTo,
		Order:     OrderDesc,
	})
}

// PatientsOfDoctor lists the patients a doctor has seen with their most
// recent visit date and visit count, most recent first.
func (s *AppointmentStore) PatientsOfDoctor(ctx context.Context, doctorID uuid.UUID) ([]PatientVisits, error) {
	return s.store.PatientRoster(ctx, doctorID)
}

// PatientHistoryFor returns every appointment of patientID, newest first, as
// seen by doctorID. The doctor must have at least one appointment with the
// patient; otherwise the result is ForbiddenError.
func (s *AppointmentStore) PatientHistoryFor(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Appointment, error) {
	shared, err := s.store.ListAppointments(ctx, Query{DoctorID: doctorID, PatientID: patientID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(shared) == 0 {
		return nil, ForbiddenError("patient %s is not under this doctor's care", patientID)
	}
	return s.store.ListAppointments(ctx, Query{PatientID: patientID, Order: OrderDesc})
}

// Summarize counts appointments matching f by status.
func (s *AppointmentStore) Summarize(ctx context.Context, f Filter) (Summary, error) {
	return s.store.Summarize(ctx, Query{
		DoctorID:  f.DoctorID,
		PatientID: f.PatientID,
		Status:    f.Status,
		DateFrom:  f.DateFrom,
		DateTo:    f.DateTo,
	})
}

// createAppointment runs the conflict pre-check and insert inside tx. The
// insert still fails with ConflictError if a concurrent writer wins the race.
func createAppointment(ctx context.Context, tx Tx, now time.Time, doctorID, patientID uuid.UUID, date, timeLabel string) (*Appointment, error) {
	existing, err := tx.FindConflict(ctx, doctorID, date, timeLabel, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ConflictError("slot %s %s already booked", date, timeLabel)
	}
	appt := &Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      date,
		Time:      timeLabel,
		Status:    StatusBooked,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return nil, err
	}
	if err := tx.Emit(ctx, appointmentEvent(events.TypeAppointmentBooked, appt, now)); err != nil {
		return nil, err
	}
	return appt, nil
}

// moveAppointment requires Booked and a free target triple.
func moveAppointment(ctx context.Context, tx Tx, now time.Time, appt *Appointment, newDate, newTime string) (*Appointment, error) {
	if appt.Status != StatusBooked {
		return nil, StateError("only booked appointments can be rescheduled, status is %s", appt.Status)
	}
	existing, err := tx.FindConflict(ctx, appt.DoctorID, newDate, newTime, appt.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ConflictError("slot %s %s already booked", newDate, newTime)
	}
	prevDate, prevTime := appt.Date, appt.Time
	appt.Date, appt.Time = newDate, newTime
	if err := tx.UpdateSlot(ctx, appt); err != nil {
		return nil, err
	}
	evt := appointmentEvent(events.TypeAppointmentRescheduled, appt, now)
	evt.PreviousDate, evt.PreviousTime = prevDate, prevTime
	if err := tx.Emit(ctx, evt); err != nil {
		return nil, err
	}
	return appt, nil
}

func appointmentEvent(eventType string, appt *Appointment, now time.Time) events.AppointmentEventV1 {
	evt := events.AppointmentEventV1{
		EventID:       uuid.NewString(),
		Type:          eventType,
		AppointmentID: appt.ID.String(),
		DoctorID:      appt.DoctorID.String(),
		PatientID:     appt.PatientID.String(),
		Date:          appt.Date,
		Time:          appt.Time,
		Status:        string(appt.Status),
		OccurredAt:    now.UTC(),
	}
	if appt.Treatment != nil {
		evt.TreatmentID = appt.Treatment.ID.String()
	}
	return evt
}
