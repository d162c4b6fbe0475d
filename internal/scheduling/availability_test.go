package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAvailabilityShapes(t *testing.T) {
	good, err := ParseAvailability([]byte(`{"2025-06-01": ["10:00", "10:30", "10:00"], "2025-06-02": []}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30"}, good["2025-06-01"])
	assert.Equal(t, []string{"2025-06-01"}, good.Dates())

	bad := []string{
		`[]`,
		`"2025-06-01"`,
		`{"2025-06-01": "10:00"}`,
		`{"2025-06-01": [10]}`,
		`{"June 1": ["10:00"]}`,
		`{"2025-06-01": null}`,
		`{"2025-06-01": [""]}`,
		``,
	}
	for _, raw := range bad {
		_, err := ParseAvailability([]byte(raw))
		assert.True(t, errors.Is(err, ErrValidation), "input %q: %v", raw, err)
	}
}

func TestNormalizeAvailabilityMergesAndPads(t *testing.T) {
	got, err := NormalizeAvailability(map[string][]string{
		"2025-06-01":  {"10:00", "9:00"},
		" 2025-06-01": {"10:00", " morning ", "09:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, Availability{"2025-06-01": {"10:00", "morning", "09:00"}}, got)
}

func TestPublishedUnpaddedLabelBooksEitherSpelling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	published, err := env.slots.ReplaceAvailability(ctx, env.doctorID, map[string][]string{"2025-06-01": {"9:00", "9:30"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30"}, published["2025-06-01"])

	first, second := newPatient(), newPatient()
	appt, err := env.booking.Book(ctx, first, BookRequest{DoctorID: env.doctorID, PatientID: first.PatientID, Date: "2025-06-01", Time: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, "09:00", appt.Time)

	appt, err = env.booking.Book(ctx, second, BookRequest{DoctorID: env.doctorID, PatientID: second.PatientID, Date: "2025-06-01", Time: "9:30"})
	require.NoError(t, err)
	assert.Equal(t, "09:30", appt.Time)
}

func TestIsOffered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.slots.IsOffered(ctx, env.doctorID, "2025-06-01", "10:30")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.slots.IsOffered(ctx, env.doctorID, "2025-07-01", "10:30")
	require.NoError(t, err, "a missing date is not an error")
	assert.False(t, ok)

	_, err = env.slots.IsOffered(ctx, uuid.New(), "2025-06-01", "10:30")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReplaceAvailabilityLeavesAppointments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := bookOne(t, env)

	_, err := env.slots.ReplaceAvailability(ctx, env.doctorID, map[string][]string{"2025-06-03": {"15:00"}})
	require.NoError(t, err)

	ok, err := env.slots.IsOffered(ctx, env.doctorID, "2025-06-01", "10:00")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := env.appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, stored.Status)

	_, err = env.slots.ReplaceAvailability(ctx, env.doctorID, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = env.slots.ReplaceAvailability(ctx, uuid.New(), map[string][]string{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

type mapCache struct {
	data        map[uuid.UUID]Availability
	getErr      error
	invalidated []uuid.UUID
}

func (c *mapCache) Get(_ context.Context, id uuid.UUID) (Availability, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	a, ok := c.data[id]
	return a, ok, nil
}

func (c *mapCache) Set(_ context.Context, id uuid.UUID, a Availability) error {
	c.data[id] = a
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id uuid.UUID) error {
	delete(c.data, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestSlotAvailabilityCaching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cache := &mapCache{data: map[uuid.UUID]Availability{}}
	slots := NewSlotAvailability(env.store, cache, nil)

	_, err := slots.Get(ctx, env.doctorID)
	require.NoError(t, err)
	assert.Contains(t, cache.data, env.doctorID, "store reads populate the cache")

	_, err = slots.ReplaceAvailability(ctx, env.doctorID, map[string][]string{"2025-06-05": {"08:00"}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{env.doctorID}, cache.invalidated)

	cache.getErr = errors.New("redis down")
	ok, err := slots.IsOffered(ctx, env.doctorID, "2025-06-05", "08:00")
	require.NoError(t, err, "cache failures fall back to the store")
	assert.True(t, ok)
}
