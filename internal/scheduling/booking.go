package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hms-platform/pkg/logging"
)

// BookRequest asks for one (doctor, date, time) slot on behalf of a patient.
type BookRequest struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	PatientID uuid.UUID `json:"patientId"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
}

// BookingService orchestrates booking, rescheduling and cancellation on top
// of SlotAvailability, the store, and the Lifecycle.
type BookingService struct {
	store     Store
	slots     *SlotAvailability
	lifecycle *Lifecycle
	now       Clock
	metrics   Recorder
	logger    *logging.Logger
}

func NewBookingService(store Store, slots *SlotAvailability, lifecycle *Lifecycle, logger *logging.Logger) *BookingService {
	if store == nil || slots == nil || lifecycle == nil {
		panic("scheduling: store, slots and lifecycle required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingService{
		store:     store,
		slots:     slots,
		lifecycle: lifecycle,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *BookingService) WithClock(now Clock) *BookingService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *BookingService) WithRecorder(metrics Recorder) *BookingService {
	s.metrics = metrics
	return s
}

// Book validates the slot format, checks the doctor offers it, and claims it.
func (s *BookingService) Book(ctx context.Context, actor Actor, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("hms.doctor_id", req.DoctorID.String()),
		attribute.String("hms.patient_id", req.PatientID.String()),
		attribute.String("hms.date", req.Date),
		attribute.String("hms.time", req.Time),
	)
	defer func() {
		s.observe("book", err)
		if err != nil {
			recordSpanError(span, err)
		}
	}()

	if err := actor.CanBookFor(req.PatientID); err != nil {
		return nil, err
	}
	if req.DoctorID == uuid.Nil {
		return nil, ValidationError("doctorId is required")
	}
	date, timeLabel, err := parseSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	availability, err := s.slots.Get(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !offered(availability, date, req.Time, timeLabel) {
		return nil, UnavailableError("doctor does not offer %s %s", date, timeLabel)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		appt, err = createAppointment(ctx, tx, s.now(), req.DoctorID, req.PatientID, date, timeLabel)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "doctor_id", appt.DoctorID, "patient_id", appt.PatientID, "date", appt.Date, "time", appt.Time)
	return appt, nil
}

// Reschedule moves the caller's Booked appointment to another offered, free slot.
func (s *BookingService) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newDate, newTime string) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("hms.appointment_id", id.String()),
		attribute.String("hms.date", newDate),
		attribute.String("hms.time", newTime),
	)
	defer func() {
		s.observe("reschedule", err)
		if err != nil {
			recordSpanError(span, err)
		}
	}()

	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.CanChangeSlot(current); err != nil {
		return nil, err
	}
	if current.Status != StatusBooked {
		return nil, StateError("only booked appointments can be rescheduled, status is %s", current.Status)
	}
	date, timeLabel, err := parseSlot(newDate, newTime)
	if err != nil {
		return nil, err
	}
	availability, err := s.slots.Get(ctx, current.DoctorID)
	if err != nil {
		return nil, err
	}
	if !offered(availability, date, newTime, timeLabel) {
		return nil, UnavailableError("doctor does not offer %s %s", date, timeLabel)
	}

	prevDate, prevTime := current.Date, current.Time
	err = s.store.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		appt, err = moveAppointment(ctx, tx, s.now(), locked, date, timeLabel)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment rescheduled", "appointment_id", id, "from_date", prevDate, "from_time", prevTime, "to_date", appt.Date, "to_time", appt.Time)
	return appt, nil
}

// Cancel cancels the caller's appointment through the Lifecycle.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (appt *Appointment, err error) {
	defer func() { s.observe("cancel", err) }()

	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.CanChangeSlot(current); err != nil {
		return nil, err
	}
	return s.lifecycle.transition(ctx, actor.UserID, id, StatusCancelled, nil)
}

// ChangeStatus applies a status change requested by a doctor, admin, or the
// owning patient after checking the actor's capability.
func (s *BookingService) ChangeStatus(ctx context.Context, actor Actor, id uuid.UUID, target Status, treatment *TreatmentInput) (*Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.CanSetStatus(current, target); err != nil {
		return nil, err
	}
	if treatment != nil && !(actor.IsAdmin() || actor.Attends(current)) {
		return nil, ForbiddenError("only the attending doctor can record a treatment")
	}
	return s.lifecycle.transition(ctx, actor.UserID, id, target, treatment)
}

// RecordTreatment lets the attending doctor (or an admin) attach a treatment
// before completing the appointment.
func (s *BookingService) RecordTreatment(ctx context.Context, actor Actor, id uuid.UUID, input TreatmentInput) (*Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(actor.IsAdmin() || actor.Attends(current)) {
		return nil, ForbiddenError("only the attending doctor can record a treatment")
	}
	return s.lifecycle.attachTreatment(ctx, actor.UserID, id, input)
}

func (s *BookingService) observe(operation string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveBooking(operation, outcomeOf(err))
	}
}

func parseSlot(rawDate, rawTime string) (string, string, error) {
	date, err := ParseDate(rawDate)
	if err != nil {
		return "", "", err
	}
	timeLabel, err := ParseTime(rawTime)
	if err != nil {
		return "", "", err
	}
	return date, timeLabel, nil
}

// offered accepts the label exactly as the doctor published it or in its
// zero-padded HH:MM form.
func offered(availability Availability, date, rawTime, normalized string) bool {
	return availability.Offers(date, normalized) || availability.Offers(date, strings.TrimSpace(rawTime))
}
