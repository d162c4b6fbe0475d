package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/events"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

const appointmentConsumer = "notify.appointment_email"

// AppointmentNotifier e-mails patients when their appointments change. It is
// the outbox DeliveryHandler; a returned error leaves the entry for retry.
type AppointmentNotifier struct {
	email     EmailSender
	directory directory.Repository
	deduper   events.Deduper
	logger    *logging.Logger
}

func NewAppointmentNotifier(email EmailSender, dir directory.Repository, deduper events.Deduper, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if deduper == nil {
		deduper = events.NewMemoryDeduper()
	}
	return &AppointmentNotifier{email: email, directory: dir, deduper: deduper, logger: logger}
}

var _ events.DeliveryHandler = (*AppointmentNotifier)(nil)

func (n *AppointmentNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var evt events.AppointmentEventV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		// A malformed payload never becomes deliverable.
		n.logger.Error("notify: dropping undecodable event", "error", err, "event_id", entry.ID, "type", entry.Type)
		return nil
	}
	if evt.EventID == "" {
		evt.EventID = entry.ID.String()
	}
	done, err := n.deduper.AlreadyProcessed(ctx, appointmentConsumer, evt.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	msg, ok, err := n.compose(ctx, evt)
	if err != nil {
		return err
	}
	if ok {
		if err := n.email.Send(ctx, msg); err != nil {
			return err
		}
	}
	if _, err := n.deduper.MarkProcessed(ctx, appointmentConsumer, evt.EventID); err != nil {
		n.logger.Warn("notify: mark processed failed", "error", err, "event_id", evt.EventID)
	}
	return nil
}

func (n *AppointmentNotifier) compose(ctx context.Context, evt events.AppointmentEventV1) (EmailMessage, bool, error) {
	patientID, err := uuid.Parse(evt.PatientID)
	if err != nil {
		n.logger.Warn("notify: event without patient", "event_id", evt.EventID)
		return EmailMessage{}, false, nil
	}
	patient, err := n.directory.Patient(ctx, patientID)
	if errors.Is(err, directory.ErrNotFound) {
		return EmailMessage{}, false, nil
	}
	if err != nil {
		return EmailMessage{}, false, err
	}
	if patient.Email == "" {
		n.logger.Debug("notify: patient has no email", "patient_id", patientID)
		return EmailMessage{}, false, nil
	}

	doctorName := "your doctor"
	if doctorID, err := uuid.Parse(evt.DoctorID); err == nil {
		if doctor, err := n.directory.Doctor(ctx, doctorID); err == nil {
			doctorName = "Dr. " + doctor.DisplayName()
		}
	}

	when := describeSlot(evt.Date, evt.Time)
	var subject, line string
	switch evt.Type {
	case events.TypeAppointmentBooked:
		subject = "Appointment confirmed"
		line = fmt.Sprintf("Your appointment with %s is booked for %s.", doctorName, when)
	case events.TypeAppointmentRescheduled:
		subject = "Appointment rescheduled"
		line = fmt.Sprintf("Your appointment with %s moved from %s to %s.",
			doctorName, describeSlot(evt.PreviousDate, evt.PreviousTime), when)
	case events.TypeAppointmentCancelled:
		subject = "Appointment cancelled"
		line = fmt.Sprintf("Your appointment with %s on %s has been cancelled.", doctorName, when)
	case events.TypeAppointmentCompleted:
		subject = "Visit summary available"
		line = fmt.Sprintf("Your visit with %s on %s is complete. Your treatment record is available in the patient portal.", doctorName, when)
	default:
		return EmailMessage{}, false, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n%s\n", patient.DisplayName(), line)
	return EmailMessage{
		To:       patient.Email,
		ToName:   patient.DisplayName(),
		Subject:  subject,
		Body:     b.String(),
		Category: CategoryAppointment,
		RefID:    evt.AppointmentID,
	}, true, nil
}

// describeSlot renders "Sunday, June 1 2025 at 10:00".
func describeSlot(date, clock string) string {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return strings.TrimSpace(date + " " + clock)
	}
	return fmt.Sprintf("%s at %s", d.Format("Monday, January 2 2006"), clock)
}
