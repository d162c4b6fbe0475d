package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/hms-platform/internal/events"
)

type testEnv struct {
	store        *MemoryStore
	outbox       *events.MemoryOutbox
	slots        *SlotAvailability
	lifecycle    *Lifecycle
	booking      *BookingService
	appointments *AppointmentStore
	doctorID     uuid.UUID
	doctor       Actor
	admin        Actor
}

// fixedNow is 2025-05-30, two days before the seeded slots.
var fixedNow = time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	outbox := events.NewMemoryOutbox()
	store := NewMemoryStore(outbox)
	doctorID := uuid.New()
	store.RegisterDoctor(doctorID, Availability{"2025-06-01": {"10:00", "10:30"}})

	clock := func() time.Time { return fixedNow }
	slots := NewSlotAvailability(store, nil, nil)
	lifecycle := NewLifecycle(store, nil).WithClock(clock)
	return &testEnv{
		store:        store,
		outbox:       outbox,
		slots:        slots,
		lifecycle:    lifecycle,
		booking:      NewBookingService(store, slots, lifecycle, nil).WithClock(clock),
		appointments: NewAppointmentStore(store, clock),
		doctorID:     doctorID,
		doctor:       Actor{UserID: "doc-user", Role: RoleDoctor, DoctorID: doctorID},
		admin:        Actor{UserID: "admin-user", Role: RoleAdmin},
	}
}

func newPatient() Actor {
	id := uuid.New()
	return Actor{UserID: "user-" + id.String()[:8], Role: RolePatient, PatientID: id}
}

func (e *testEnv) eventTypes() []string {
	var out []string
	for _, entry := range e.outbox.Entries() {
		out = append(out, entry.Type)
	}
	return out
}
