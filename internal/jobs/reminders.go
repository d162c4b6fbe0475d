package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// AppointmentSource is the read side of scheduling.AppointmentStore used by jobs.
type AppointmentSource interface {
	Search(ctx context.Context, f scheduling.Filter) ([]*scheduling.Appointment, error)
	ForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to string) ([]*scheduling.Appointment, error)
}

// Reminders e-mails every patient with a Booked appointment today.
type Reminders struct {
	appointments AppointmentSource
	directory    directory.Repository
	email        notify.EmailSender
	logger       *logging.Logger
	now          func() time.Time
}

func NewReminders(appointments AppointmentSource, dir directory.Repository, email notify.EmailSender, loc *time.Location, logger *logging.Logger) *Reminders {
	if logger == nil {
		logger = logging.Default()
	}
	loc = locationOr(loc)
	return &Reminders{
		appointments: appointments,
		directory:    dir,
		email:        email,
		logger:       logger,
		now:          func() time.Time { return time.Now().In(loc) },
	}
}

// Run sends today's reminders and returns how many went out. A failed send
// is logged and does not stop the batch.
func (r *Reminders) Run(ctx context.Context) (int, error) {
	today := r.now().Format(scheduling.DateLayout)
	appts, err := r.appointments.Search(ctx, scheduling.Filter{
		Status:   scheduling.StatusBooked,
		DateFrom: today,
		DateTo:   today,
	})
	if err != nil {
		return 0, fmt.Errorf("jobs: list reminders for %s: %w", today, err)
	}

	sent := 0
	for _, a := range appts {
		patient, err := r.directory.Patient(ctx, a.PatientID)
		if errors.Is(err, directory.ErrNotFound) {
			continue
		}
		if err != nil {
			return sent, fmt.Errorf("jobs: load patient %s: %w", a.PatientID, err)
		}
		if patient.Email == "" {
			continue
		}
		doctorName := ""
		if doc, err := r.directory.Doctor(ctx, a.DoctorID); err == nil {
			doctorName = doc.DisplayName()
		}
		msg := notify.EmailMessage{
			To:      patient.Email,
			ToName:  patient.DisplayName(),
			Subject: "Appointment reminder",
			Body: fmt.Sprintf("Hello %s,\n\nThis is a reminder for your appointment today at %s with Dr. %s.\n",
				patient.DisplayName(), a.Time, doctorName),
			Category: notify.CategoryReminder,
			RefID:    a.ID.String(),
		}
		if err := r.email.Send(ctx, msg); err != nil {
			r.logger.Warn("reminder email failed", "appointment_id", a.ID, "error", err)
			continue
		}
		sent++
	}
	r.logger.Info("daily reminders sent", "date", today, "appointments", len(appts), "sent", sent)
	return sent, nil
}

// Task adapts Run for the Scheduler.
func (r *Reminders) Task() Task {
	return func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	}
}
