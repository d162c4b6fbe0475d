package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(appts []*Appointment) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.ID)
	}
	return out
}

func TestAppointmentViews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	patient := uuid.New()

	create := func(date, tm string) *Appointment {
		a, err := env.appointments.Create(ctx, env.doctorID, patient, date, tm)
		require.NoError(t, err)
		return a
	}
	past := create("2025-05-20", "10:00")
	upcoming := create("2025-06-01", "10:00")
	cancelled := create("2025-06-01", "09:00")
	completed := create("2025-06-03", "08:00")

	_, err := env.lifecycle.RequestTransition(ctx, cancelled.ID, StatusCancelled, nil)
	require.NoError(t, err)
	_, err = env.lifecycle.RequestTransition(ctx, completed.ID, StatusCompleted, &TreatmentInput{Diagnosis: "sprain"})
	require.NoError(t, err)

	got, err := env.appointments.ForPatient(ctx, patient, ViewUpcoming)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cancelled.ID, upcoming.ID, completed.ID}, ids(got))

	got, err = env.appointments.ForPatient(ctx, patient, ViewHistory)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{completed.ID, cancelled.ID, past.ID}, ids(got))
	require.NotNil(t, got[0].Treatment)
	assert.Equal(t, "sprain", got[0].Treatment.Diagnosis)

	got, err = env.appointments.ForPatient(ctx, patient, ViewAll)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{completed.ID, upcoming.ID, cancelled.ID, past.ID}, ids(got))

	got, err = env.appointments.ForDoctorOn(ctx, env.doctorID, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cancelled.ID, upcoming.ID}, ids(got))

	got, err = env.appointments.ForDoctorBetween(ctx, env.doctorID, "2025-05-01", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{past.ID, cancelled.ID, upcoming.ID}, ids(got))

	_, err = env.appointments.ForDoctorBetween(ctx, env.doctorID, "2025-06-02", "2025-06-01")
	assert.True(t, errors.Is(err, ErrValidation))

	got, err = env.appointments.Search(ctx, Filter{PatientID: patient, Status: StatusBooked})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{upcoming.ID, past.ID}, ids(got))

	got, err = env.appointments.Search(ctx, Filter{DoctorID: env.doctorID, DateFrom: "2025-06-02"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{completed.ID}, ids(got))

	summary, err := env.appointments.Summarize(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Booked: 2, Completed: 1, Cancelled: 1}, summary)
}

func TestAppointmentStoreCreateAndMove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.appointments.Create(ctx, env.doctorID, uuid.New(), "2025-06-01", "10:00")
	require.NoError(t, err)
	_, err = env.appointments.Create(ctx, env.doctorID, uuid.New(), "2025-06-01", "10:00")
	assert.True(t, errors.Is(err, ErrConflict))

	conflict, err := env.appointments.FindConflict(ctx, env.doctorID, "2025-06-01", "10:00", uuid.Nil)
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, a.ID, conflict.ID)

	none, err := env.appointments.FindConflict(ctx, env.doctorID, "2025-06-01", "10:00", a.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	moved, err := env.appointments.Move(ctx, a.ID, "2025-06-01", "11:00")
	require.NoError(t, err)
	assert.Equal(t, "11:00", moved.Time)

	// the old triple is free again
	_, err = env.appointments.Create(ctx, env.doctorID, uuid.New(), "2025-06-01", "10:00")
	require.NoError(t, err)

	_, err = env.lifecycle.RequestTransition(ctx, a.ID, StatusCancelled, nil)
	require.NoError(t, err)
	_, err = env.appointments.Move(ctx, a.ID, "2025-06-01", "12:00")
	assert.True(t, errors.Is(err, ErrState))

	_, err = env.appointments.Move(ctx, uuid.New(), "2025-06-01", "12:00")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPatientRosterAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	otherDoctor := uuid.New()
	regular, newcomer, stranger := uuid.New(), uuid.New(), uuid.New()

	create := func(doctorID, patientID uuid.UUID, date, tm string) *Appointment {
		a, err := env.appointments.Create(ctx, doctorID, patientID, date, tm)
		require.NoError(t, err)
		return a
	}
	first := create(env.doctorID, regular, "2025-05-20", "10:00")
	second := create(env.doctorID, regular, "2025-06-01", "10:00")
	elsewhere := create(otherDoctor, regular, "2025-06-10", "11:00")
	create(env.doctorID, newcomer, "2025-06-03", "08:00")
	create(otherDoctor, stranger, "2025-06-01", "09:00")

	_, err := env.lifecycle.RequestTransition(ctx, second.ID, StatusCancelled, nil)
	require.NoError(t, err)

	roster, err := env.appointments.PatientsOfDoctor(ctx, env.doctorID)
	require.NoError(t, err)
	assert.Equal(t, []PatientVisits{
		{PatientID: newcomer, LastVisitDate: "2025-06-03", TotalVisits: 1},
		{PatientID: regular, LastVisitDate: "2025-06-01", TotalVisits: 2},
	}, roster)

	roster, err = env.appointments.PatientsOfDoctor(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, roster)

	history, err := env.appointments.PatientHistoryFor(ctx, env.doctorID, regular)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{elsewhere.ID, second.ID, first.ID}, ids(history))

	_, err = env.appointments.PatientHistoryFor(ctx, env.doctorID, stranger)
	assert.True(t, errors.Is(err, ErrForbidden))
}
