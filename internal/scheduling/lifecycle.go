package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hms-platform/internal/events"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

var tracer = otel.Tracer("hms.internal.scheduling")

// Recorder receives operation outcomes. metrics.SchedulingMetrics implements it.
type Recorder interface {
	ObserveBooking(operation, outcome string)
	ObserveTransition(from, to, outcome string)
}

// TransitionRecord describes a committed clinical state change.
type TransitionRecord struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	From          Status
	To            Status
	TreatmentID   uuid.UUID
	ActorID       string
	OccurredAt    time.Time
}

// Auditor persists TransitionRecords after commit. compliance.AuditService implements it.
type Auditor interface {
	RecordTransition(ctx context.Context, record TransitionRecord) error
}

// Lifecycle is the only code path that changes an appointment's status.
// Legal edges are Booked -> Completed and Booked -> Cancelled.
type Lifecycle struct {
	store   Store
	now     Clock
	audit   Auditor
	metrics Recorder
	logger  *logging.Logger
}

func NewLifecycle(store Store, logger *logging.Logger) *Lifecycle {
	if store == nil {
		panic("scheduling: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{store: store, now: time.Now, logger: logger}
}

func (l *Lifecycle) WithClock(now Clock) *Lifecycle {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Lifecycle) WithAuditor(audit Auditor) *Lifecycle {
	l.audit = audit
	return l
}

func (l *Lifecycle) WithRecorder(metrics Recorder) *Lifecycle {
	l.metrics = metrics
	return l
}

// RequestTransition moves an appointment to target. Completing needs a
// treatment, either already on record or supplied here; a supplied treatment
// is created in the same unit of work as the status change.
func (l *Lifecycle) RequestTransition(ctx context.Context, id uuid.UUID, target Status, treatment *TreatmentInput) (*Appointment, error) {
	return l.transition(ctx, "", id, target, treatment)
}

func (l *Lifecycle) transition(ctx context.Context, actorID string, id uuid.UUID, target Status, treatment *TreatmentInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("hms.appointment_id", id.String()),
		attribute.String("hms.target_status", string(target)),
		attribute.Bool("hms.treatment_supplied", treatment != nil),
	)

	var (
		result  *Appointment
		from    Status
		created *Treatment
	)
	err := l.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		from = appt.Status
		if appt.Status.Terminal() {
			return StateError("terminal")
		}
		if !appt.Status.CanTransitionTo(target) {
			return StateError("invalid transition %s -> %s", appt.Status, target)
		}

		existing, err := tx.GetTreatment(ctx, id)
		if err != nil {
			return err
		}
		if target == StatusCompleted && existing == nil && treatment == nil {
			return StateError("completion requires treatment")
		}
		if treatment != nil {
			if target != StatusCompleted {
				return ValidationError("a treatment can only accompany completion")
			}
			if existing != nil {
				return ConflictError("appointment %s already has a treatment", id)
			}
			if created, err = insertTreatment(ctx, tx, id, *treatment); err != nil {
				return err
			}
			existing = created
		}

		appt.Status = target
		appt.Treatment = existing
		if err := tx.UpdateStatus(ctx, appt); err != nil {
			return err
		}
		eventType := events.TypeAppointmentCancelled
		if target == StatusCompleted {
			eventType = events.TypeAppointmentCompleted
		}
		evt := appointmentEvent(eventType, appt, l.now())
		evt.PreviousStatus = string(from)
		if err := tx.Emit(ctx, evt); err != nil {
			return err
		}
		result = appt
		return nil
	})
	l.observeTransition(from, target, err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	l.logger.Info("appointment status changed", "appointment_id", id, "from", from, "to", target, "treatment_created", created != nil)
	record := TransitionRecord{
		AppointmentID: result.ID,
		DoctorID:      result.DoctorID,
		PatientID:     result.PatientID,
		From:          from,
		To:            target,
		ActorID:       actorID,
		OccurredAt:    l.now().UTC(),
	}
	if created != nil {
		record.TreatmentID = created.ID
	}
	l.recordAudit(ctx, record)
	return result, nil
}

// AttachTreatment records a treatment on a Booked appointment ahead of
// completion. A later RequestTransition to Completed then needs no payload.
func (l *Lifecycle) AttachTreatment(ctx context.Context, id uuid.UUID, input TreatmentInput) (*Appointment, error) {
	return l.attachTreatment(ctx, "", id, input)
}

func (l *Lifecycle) attachTreatment(ctx context.Context, actorID string, id uuid.UUID, input TreatmentInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.attach_treatment")
	defer span.End()
	span.SetAttributes(attribute.String("hms.appointment_id", id.String()))

	var result *Appointment
	err := l.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return StateError("terminal")
		}
		if appt.Treatment != nil {
			return ConflictError("appointment %s already has a treatment", id)
		}
		created, err := insertTreatment(ctx, tx, id, input)
		if err != nil {
			return err
		}
		appt.Treatment = created
		result = appt
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	l.logger.Info("treatment recorded", "appointment_id", id, "treatment_id", result.Treatment.ID)
	l.recordAudit(ctx, TransitionRecord{
		AppointmentID: result.ID,
		DoctorID:      result.DoctorID,
		PatientID:     result.PatientID,
		From:          result.Status,
		To:            result.Status,
		TreatmentID:   result.Treatment.ID,
		ActorID:       actorID,
		OccurredAt:    l.now().UTC(),
	})
	return result, nil
}

func (l *Lifecycle) recordAudit(ctx context.Context, record TransitionRecord) {
	if l.audit == nil {
		return
	}
	if err := l.audit.RecordTransition(ctx, record); err != nil {
		l.logger.Error("audit record failed", "appointment_id", record.AppointmentID, "error", err)
	}
}

func (l *Lifecycle) observeTransition(from, to Status, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.ObserveTransition(string(from), string(to), outcomeOf(err))
}

// outcomeOf labels a result for metrics: "ok", an error kind, or "error".
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

// recordSpanError only flags infrastructure failures; domain rejections are
// expected outcomes.
func recordSpanError(span trace.Span, err error) {
	span.SetAttributes(attribute.String("hms.outcome", outcomeOf(err)))
	if KindOf(err) == "" {
		span.RecordError(err)
	}
}
