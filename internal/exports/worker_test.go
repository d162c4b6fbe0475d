package exports

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/events"
	"github.com/wolfman30/hms-platform/internal/identity"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/scheduling"
)

type captureSender struct {
	mu   sync.Mutex
	sent []notify.EmailMessage
}

func (c *captureSender) Send(_ context.Context, msg notify.EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

type captureAuditor struct{ jobs []string }

func (c *captureAuditor) LogExport(_ context.Context, _, _, jobID, _ string) error {
	c.jobs = append(c.jobs, jobID)
	return nil
}

type failingHistory struct{}

func (failingHistory) ForPatient(context.Context, uuid.UUID, scheduling.View) ([]*scheduling.Appointment, error) {
	return nil, errors.New("db down")
}

type exportFixture struct {
	queue   *MemoryQueue
	jobs    *MemoryJobStore
	blobs   *MemoryBlobStore
	email   *captureSender
	audit   *captureAuditor
	service *Service
	worker  *Worker
	patient scheduling.Actor
}

func newExportFixture(t *testing.T) exportFixture {
	t.Helper()
	ctx := context.Background()
	store := scheduling.NewMemoryStore(events.NewMemoryOutbox())
	doctorID := uuid.New()
	store.RegisterDoctor(doctorID, scheduling.Availability{"2025-06-01": {"10:00", "11:00"}})
	slots := scheduling.NewSlotAvailability(store, nil, nil)
	lifecycle := scheduling.NewLifecycle(store, nil)
	booking := scheduling.NewBookingService(store, slots, lifecycle, nil)

	patientID := uuid.New()
	patient := scheduling.Actor{UserID: "patient-user", Role: scheduling.RolePatient, PatientID: patientID}
	admin := scheduling.Actor{UserID: "admin", Role: scheduling.RoleAdmin}

	first, err := booking.Book(ctx, patient, scheduling.BookRequest{DoctorID: doctorID, PatientID: patientID, Date: "2025-06-01", Time: "10:00"})
	require.NoError(t, err)
	_, err = booking.Book(ctx, patient, scheduling.BookRequest{DoctorID: doctorID, PatientID: patientID, Date: "2025-06-01", Time: "11:00"})
	require.NoError(t, err)
	_, err = booking.ChangeStatus(ctx, admin, first.ID, scheduling.StatusCompleted, &scheduling.TreatmentInput{Diagnosis: "sprain", Prescription: "ice"})
	require.NoError(t, err)

	dir := directory.NewInMemoryRepository()
	dir.AddDoctor(directory.Person{ID: doctorID, Name: "Gregory House"})
	dir.AddPatient(directory.Person{ID: patientID, Username: "jdoe", Name: "Jane Doe", Email: "jane@hospital.test"})

	f := exportFixture{
		queue:   NewMemoryQueue(8),
		jobs:    NewMemoryJobStore(),
		blobs:   NewMemoryBlobStore(),
		email:   &captureSender{},
		audit:   &captureAuditor{},
		patient: patient,
	}
	f.service = NewService(f.queue, f.jobs, nil)
	f.worker = NewWorker(WorkerDeps{
		Queue:     f.queue,
		Jobs:      f.jobs,
		History:   scheduling.NewAppointmentStore(store, nil),
		Directory: dir,
		Blobs:     f.blobs,
		Email:     f.email,
		Auditor:   f.audit,
	}, 1, nil)
	return f
}

func (f exportFixture) receiveOne(t *testing.T) Message {
	t.Helper()
	msgs, err := f.queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestExportEndToEnd(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	job, err := f.service.Request(ctx, f.patient, uuid.Nil, true)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)

	f.worker.HandleMessage(ctx, f.receiveOne(t))

	done, err := f.service.Get(ctx, f.patient, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.RowCount)

	body, ok := f.blobs.Object(done.ObjectKey)
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], "Gregory House,2025-06-01,sprain,ice,2025-06-01")

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "jane@hospital.test", f.email.sent[0].To)
	assert.Contains(t, f.email.sent[0].Body, done.DownloadURL)
	assert.Equal(t, notify.CategoryExport, f.email.sent[0].Category)
	assert.Equal(t, job.JobID, f.email.sent[0].RefID)
	assert.Equal(t, []string{job.JobID}, f.audit.jobs)
}

func TestExportPermanentAndTransientFailures(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	require.NoError(t, f.jobs.PutPending(ctx, &Job{JobID: "ghost", PatientID: uuid.NewString()}))
	err := f.worker.Process(ctx, queuePayload{JobID: "ghost"})
	assert.ErrorIs(t, err, errPermanent)
	ghost, _ := f.jobs.GetJob(ctx, "ghost")
	assert.Equal(t, JobStatusFailed, ghost.Status)
	assert.Equal(t, "patient not found", ghost.ErrorMessage)

	assert.ErrorIs(t, f.worker.Process(ctx, queuePayload{JobID: "never-created"}), errPermanent)

	job, err := f.service.Request(ctx, f.patient, uuid.Nil, false)
	require.NoError(t, err)
	f.worker.deps.History = failingHistory{}
	err = f.worker.Process(ctx, queuePayload{JobID: job.JobID})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPermanent)
	running, _ := f.jobs.GetJob(ctx, job.JobID)
	assert.Equal(t, JobStatusRunning, running.Status)
}

func TestExportServiceAuthorization(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	_, err := f.service.Request(ctx, f.patient, uuid.New(), true)
	assert.ErrorIs(t, err, scheduling.ErrForbidden)

	doctor := scheduling.Actor{UserID: "doc", Role: scheduling.RoleDoctor, DoctorID: uuid.New()}
	_, err = f.service.Request(ctx, doctor, f.patient.PatientID, true)
	assert.ErrorIs(t, err, scheduling.ErrForbidden)

	admin := scheduling.Actor{UserID: "admin", Role: scheduling.RoleAdmin}
	_, err = f.service.Request(ctx, admin, uuid.Nil, true)
	assert.ErrorIs(t, err, scheduling.ErrValidation)

	job, err := f.service.Request(ctx, admin, f.patient.PatientID, true)
	require.NoError(t, err)

	other := scheduling.Actor{UserID: "other", Role: scheduling.RolePatient, PatientID: uuid.New()}
	_, err = f.service.Get(ctx, other, job.JobID)
	assert.ErrorIs(t, err, scheduling.ErrNotFound)

	got, err := f.service.Get(ctx, f.patient, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
}

func TestExportHandler(t *testing.T) {
	f := newExportFixture(t)
	h := NewHandler(f.service, nil)
	r := chi.NewRouter()
	r.Post("/patients/me/exports", h.Create)
	r.Get("/exports/{jobID}", h.Get)

	principal := identity.Principal{UserID: f.patient.UserID, Role: "patient", PatientID: f.patient.PatientID.String()}
	send := func(req *http.Request, withPrincipal bool) *httptest.ResponseRecorder {
		if withPrincipal {
			req = req.WithContext(identity.WithPrincipal(req.Context(), principal))
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := send(httptest.NewRequest(http.MethodPost, "/patients/me/exports", nil), false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = send(httptest.NewRequest(http.MethodPost, "/patients/me/exports", strings.NewReader(`{"notifyEmail":false}`)), true)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var job Job
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&job))
	assert.False(t, job.NotifyEmail)

	rr = send(httptest.NewRequest(http.MethodGet, "/exports/"+job.JobID, nil), true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"pending"`)

	rr = send(httptest.NewRequest(http.MethodGet, "/exports/unknown", nil), true)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = send(httptest.NewRequest(http.MethodPost, "/patients/me/exports", strings.NewReader(`{`)), true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
