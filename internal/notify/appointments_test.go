package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/events"
)

type recordingSender struct {
	mu   sync.Mutex
	err  error
	sent []EmailMessage
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type notifierFixture struct {
	notifier  *AppointmentNotifier
	sender    *recordingSender
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func newNotifierFixture(t *testing.T) notifierFixture {
	t.Helper()
	dir := directory.NewInMemoryRepository()
	f := notifierFixture{sender: &recordingSender{}, doctorID: uuid.New(), patientID: uuid.New()}
	dir.AddDoctor(directory.Person{ID: f.doctorID, Name: "Gregory House"})
	dir.AddPatient(directory.Person{ID: f.patientID, Name: "Jane Doe", Email: "jane@hospital.test"})
	f.notifier = NewAppointmentNotifier(f.sender, dir, events.NewMemoryDeduper(), nil)
	return f
}

func (f notifierFixture) entry(t *testing.T, evt events.AppointmentEventV1) events.OutboxEntry {
	t.Helper()
	evt.DoctorID = f.doctorID.String()
	if evt.PatientID == "" {
		evt.PatientID = f.patientID.String()
	}
	evt.EventID = uuid.NewString()
	evt.OccurredAt = time.Now()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return events.OutboxEntry{ID: uuid.New(), Type: evt.Type, Payload: payload}
}

func TestAppointmentNotifierMessages(t *testing.T) {
	tests := []struct {
		evt     events.AppointmentEventV1
		subject string
		body    string
	}{
		{
			events.AppointmentEventV1{Type: events.TypeAppointmentBooked, Date: "2025-06-01", Time: "10:00"},
			"Appointment confirmed", "Dr. Gregory House is booked for Sunday, June 1 2025 at 10:00",
		},
		{
			events.AppointmentEventV1{Type: events.TypeAppointmentRescheduled, Date: "2025-06-02", Time: "09:00", PreviousDate: "2025-06-01", PreviousTime: "10:00"},
			"Appointment rescheduled", "moved from Sunday, June 1 2025 at 10:00 to Monday, June 2 2025 at 09:00",
		},
		{
			events.AppointmentEventV1{Type: events.TypeAppointmentCancelled, Date: "2025-06-01", Time: "10:00"},
			"Appointment cancelled", "has been cancelled",
		},
		{
			events.AppointmentEventV1{Type: events.TypeAppointmentCompleted, Date: "2025-06-01", Time: "10:00"},
			"Visit summary available", "is complete",
		},
	}
	for _, tt := range tests {
		t.Run(tt.evt.Type, func(t *testing.T) {
			f := newNotifierFixture(t)
			require.NoError(t, f.notifier.Handle(context.Background(), f.entry(t, tt.evt)))
			require.Len(t, f.sender.sent, 1)
			msg := f.sender.sent[0]
			assert.Equal(t, "jane@hospital.test", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Equal(t, CategoryAppointment, msg.Category)
			assert.Contains(t, msg.Body, "Hello Jane Doe")
			assert.Contains(t, msg.Body, tt.body)
		})
	}
}

func TestAppointmentNotifierDeduplicates(t *testing.T) {
	f := newNotifierFixture(t)
	entry := f.entry(t, events.AppointmentEventV1{Type: events.TypeAppointmentBooked, Date: "2025-06-01", Time: "10:00"})

	require.NoError(t, f.notifier.Handle(context.Background(), entry))
	require.NoError(t, f.notifier.Handle(context.Background(), entry))
	assert.Len(t, f.sender.sent, 1)
}

func TestAppointmentNotifierRetriesOnSendFailure(t *testing.T) {
	f := newNotifierFixture(t)
	entry := f.entry(t, events.AppointmentEventV1{Type: events.TypeAppointmentCancelled, Date: "2025-06-01", Time: "10:00"})

	f.sender.err = errors.New("smtp down")
	require.Error(t, f.notifier.Handle(context.Background(), entry))

	f.sender.err = nil
	require.NoError(t, f.notifier.Handle(context.Background(), entry))
	assert.Len(t, f.sender.sent, 1)
}

func TestAppointmentNotifierSkips(t *testing.T) {
	f := newNotifierFixture(t)

	unknownPatient := f.entry(t, events.AppointmentEventV1{Type: events.TypeAppointmentBooked, PatientID: uuid.NewString()})
	require.NoError(t, f.notifier.Handle(context.Background(), unknownPatient))

	garbage := events.OutboxEntry{ID: uuid.New(), Type: events.TypeAppointmentBooked, Payload: json.RawMessage(`{"event_id":`)}
	require.NoError(t, f.notifier.Handle(context.Background(), garbage))

	other := f.entry(t, events.AppointmentEventV1{Type: "appointment.viewed"})
	require.NoError(t, f.notifier.Handle(context.Background(), other))

	assert.Empty(t, f.sender.sent)
}

func TestAppointmentNotifierWithDeliverer(t *testing.T) {
	f := newNotifierFixture(t)
	outbox := events.NewMemoryOutbox()
	outbox.Add(f.entry(t, events.AppointmentEventV1{Type: events.TypeAppointmentBooked, Date: "2025-06-01", Time: "10:00"}))

	delivered := events.NewDeliverer(outbox, f.notifier, nil).Drain(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Len(t, f.sender.sent, 1)
}
