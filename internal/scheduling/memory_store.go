package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/hms-platform/internal/events"
)

// MemoryStore keeps everything in process. Units of work are serialized and
// applied copy-on-write, so a failed InTx leaves no trace.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	outbox *events.MemoryOutbox
	now    func() time.Time
}

type memState struct {
	appointments map[uuid.UUID]Appointment
	slots        map[slotKey]uuid.UUID
	treatments   map[uuid.UUID]Treatment
	availability map[uuid.UUID]Availability
}

func (s *memState) clone() *memState {
	out := &memState{
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		slots:        make(map[slotKey]uuid.UUID, len(s.slots)),
		treatments:   make(map[uuid.UUID]Treatment, len(s.treatments)),
		availability: make(map[uuid.UUID]Availability, len(s.availability)),
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	for k, v := range s.slots {
		out.slots[k] = v
	}
	for k, v := range s.treatments {
		out.treatments[k] = v
	}
	for k, v := range s.availability {
		out.availability[k] = v
	}
	return out
}

// NewMemoryStore creates an empty store. Committed events go to outbox when
// it is non-nil.
func NewMemoryStore(outbox *events.MemoryOutbox) *MemoryStore {
	return &MemoryStore{
		state: &memState{
			appointments: make(map[uuid.UUID]Appointment),
			slots:        make(map[slotKey]uuid.UUID),
			treatments:   make(map[uuid.UUID]Treatment),
			availability: make(map[uuid.UUID]Availability),
		},
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDoctor makes a doctor known to the store with an initial map.
func (m *MemoryStore) RegisterDoctor(doctorID uuid.UUID, availability Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.availability[doctorID] = availability.Clone()
}

func (m *MemoryStore) GetAvailability(_ context.Context, doctorID uuid.UUID) (Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	availability, ok := m.state.availability[doctorID]
	if !ok {
		return nil, NotFoundError("doctor %s not found", doctorID)
	}
	return availability.Clone(), nil
}

func (m *MemoryStore) PutAvailability(_ context.Context, doctorID uuid.UUID, availability Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.availability[doctorID]; !ok {
		return NotFoundError("doctor %s not found", doctorID)
	}
	m.state.availability[doctorID] = availability.Clone()
	return nil
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone(), now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	if m.outbox != nil && len(tx.pending) > 0 {
		m.outbox.Add(tx.pending...)
	}
	return nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.state.appointments[id]
	if !ok {
		return nil, NotFoundError("appointment %s not found", id)
	}
	return m.state.withTreatment(appt), nil
}

func (m *MemoryStore) ListAppointments(_ context.Context, q Query) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Appointment
	for _, appt := range m.state.appointments {
		if q.matches(appt) {
			out = append(out, m.state.withTreatment(appt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			if q.Order == OrderDesc {
				return a.Date > b.Date
			}
			return a.Date < b.Date
		}
		if q.Order == OrderDesc {
			return a.Time > b.Time
		}
		return a.Time < b.Time
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Summarize(_ context.Context, q Query) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var summary Summary
	for _, appt := range m.state.appointments {
		if q.matches(appt) {
			summary.add(appt.Status, 1)
		}
	}
	return summary, nil
}

func (m *MemoryStore) PatientRoster(_ context.Context, doctorID uuid.UUID) ([]PatientVisits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPatient := make(map[uuid.UUID]*PatientVisits)
	for _, appt := range m.state.appointments {
		if appt.DoctorID != doctorID {
			continue
		}
		row, ok := byPatient[appt.PatientID]
		if !ok {
			row = &PatientVisits{PatientID: appt.PatientID}
			byPatient[appt.PatientID] = row
		}
		row.TotalVisits++
		if appt.Date > row.LastVisitDate {
			row.LastVisitDate = appt.Date
		}
	}
	out := make([]PatientVisits, 0, len(byPatient))
	for _, row := range byPatient {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastVisitDate != out[j].LastVisitDate {
			return out[i].LastVisitDate > out[j].LastVisitDate
		}
		return out[i].PatientID.String() < out[j].PatientID.String()
	})
	return out, nil
}

func (s *memState) withTreatment(appt Appointment) *Appointment {
	out := appt
	if t, ok := s.treatments[appt.ID]; ok {
		treatment := t
		out.Treatment = &treatment
	}
	return &out
}

func (q Query) matches(appt Appointment) bool {
	if q.DoctorID != uuid.Nil && appt.DoctorID != q.DoctorID {
		return false
	}
	if q.PatientID != uuid.Nil && appt.PatientID != q.PatientID {
		return false
	}
	if q.Status != "" && appt.Status != q.Status {
		return false
	}
	if q.DateFrom != "" && appt.Date < q.DateFrom {
		return false
	}
	if q.DateTo != "" && appt.Date > q.DateTo {
		return false
	}
	if q.HistoryBefore != "" && !(appt.Date < q.HistoryBefore || appt.Status != StatusBooked) {
		return false
	}
	return true
}

type memTx struct {
	state   *memState
	pending []events.OutboxEntry
	now     func() time.Time
}

func (tx *memTx) LockAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	appt, ok := tx.state.appointments[id]
	if !ok {
		return nil, NotFoundError("appointment %s not found", id)
	}
	return tx.state.withTreatment(appt), nil
}

func (tx *memTx) FindConflict(_ context.Context, doctorID uuid.UUID, date, timeLabel string, exclude uuid.UUID) (*Appointment, error) {
	id, ok := tx.state.slots[slotKey{doctorID: doctorID, date: date, time: timeLabel}]
	if !ok || id == exclude {
		return nil, nil
	}
	appt := tx.state.appointments[id]
	return &appt, nil
}

func (tx *memTx) InsertAppointment(_ context.Context, appt *Appointment) error {
	key := slotKey{doctorID: appt.DoctorID, date: appt.Date, time: appt.Time}
	if _, taken := tx.state.slots[key]; taken {
		return ConflictError("slot %s %s already booked", appt.Date, appt.Time)
	}
	now := tx.now()
	appt.CreatedAt, appt.UpdatedAt = now, now
	stored := *appt
	stored.Treatment = nil
	tx.state.appointments[appt.ID] = stored
	tx.state.slots[key] = appt.ID
	return nil
}

func (tx *memTx) UpdateSlot(_ context.Context, appt *Appointment) error {
	current, ok := tx.state.appointments[appt.ID]
	if !ok {
		return NotFoundError("appointment %s not found", appt.ID)
	}
	newKey := slotKey{doctorID: appt.DoctorID, date: appt.Date, time: appt.Time}
	if holder, taken := tx.state.slots[newKey]; taken && holder != appt.ID {
		return ConflictError("slot %s %s already booked", appt.Date, appt.Time)
	}
	delete(tx.state.slots, slotKey{doctorID: current.DoctorID, date: current.Date, time: current.Time})
	tx.state.slots[newKey] = appt.ID
	current.Date, current.Time = appt.Date, appt.Time
	current.UpdatedAt = tx.now()
	appt.UpdatedAt = current.UpdatedAt
	tx.state.appointments[appt.ID] = current
	return nil
}

func (tx *memTx) UpdateStatus(_ context.Context, appt *Appointment) error {
	current, ok := tx.state.appointments[appt.ID]
	if !ok {
		return NotFoundError("appointment %s not found", appt.ID)
	}
	current.Status = appt.Status
	current.UpdatedAt = tx.now()
	appt.UpdatedAt = current.UpdatedAt
	tx.state.appointments[appt.ID] = current
	return nil
}

func (tx *memTx) GetTreatment(_ context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	t, ok := tx.state.treatments[appointmentID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (tx *memTx) InsertTreatment(_ context.Context, treatment *Treatment) error {
	if _, exists := tx.state.treatments[treatment.AppointmentID]; exists {
		return ConflictError("appointment %s already has a treatment", treatment.AppointmentID)
	}
	treatment.CreatedAt = tx.now()
	tx.state.treatments[treatment.AppointmentID] = *treatment
	return nil
}

func (tx *memTx) Emit(_ context.Context, event events.AppointmentEventV1) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("scheduling: marshal event: %w", err)
	}
	aggregate, _ := uuid.Parse(event.AppointmentID)
	tx.pending = append(tx.pending, events.OutboxEntry{
		ID:          uuid.New(),
		AggregateID: aggregate,
		Type:        event.Type,
		Payload:     payload,
		CreatedAt:   tx.now(),
	})
	return nil
}
