package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

const (
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// HistorySource lists a patient's appointments; scheduling.AppointmentStore implements it.
type HistorySource interface {
	ForPatient(ctx context.Context, patientID uuid.UUID, view scheduling.View) ([]*scheduling.Appointment, error)
}

// ExportAuditor records delivered exports; compliance.AuditService implements it.
type ExportAuditor interface {
	LogExport(ctx context.Context, actorID, patientID, jobID, objectKey string) error
}

// WorkerDeps groups the collaborators of Worker.
type WorkerDeps struct {
	Queue     Queue
	Jobs      JobStore
	History   HistorySource
	Directory directory.Repository
	Blobs     BlobStore
	Email     notify.EmailSender
	Auditor   ExportAuditor
}

// Worker consumes export jobs from the queue.
type Worker struct {
	deps     WorkerDeps
	logger   *logging.Logger
	workers  int
	waitSecs int
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewWorker(deps WorkerDeps, workers int, logger *logging.Logger) *Worker {
	if deps.Queue == nil || deps.Jobs == nil || deps.History == nil || deps.Directory == nil || deps.Blobs == nil {
		panic("exports: worker dependencies missing")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Worker{deps: deps, logger: logger, workers: workers, waitSecs: maxWaitSeconds, now: time.Now}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("export worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("export worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.deps.Queue.Receive(ctx, maxReceiveBatchSize, w.waitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive export jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage processes one queued job. The message is deleted once the job
// reaches a final state; infrastructure failures leave it for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode export job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	err := w.Process(ctx, payload)
	if err != nil && !errors.Is(err, errPermanent) {
		w.logger.Error("export job failed, will retry", "job_id", payload.JobID, "error", err)
		return
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

var errPermanent = errors.New("exports: permanent failure")

// Process renders, stores and announces one export.
func (w *Worker) Process(ctx context.Context, payload queuePayload) error {
	job, err := w.deps.Jobs.GetJob(ctx, payload.JobID)
	if errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("%w: job %s missing", errPermanent, payload.JobID)
	}
	if err != nil {
		return err
	}
	if job.Status == JobStatusCompleted {
		return nil
	}
	if err := w.deps.Jobs.MarkRunning(ctx, job.JobID); err != nil {
		return err
	}

	patientID, err := uuid.Parse(job.PatientID)
	if err != nil {
		return w.fail(ctx, job, "invalid patient id")
	}
	patient, err := w.deps.Directory.Patient(ctx, patientID)
	if errors.Is(err, directory.ErrNotFound) {
		return w.fail(ctx, job, "patient not found")
	}
	if err != nil {
		return err
	}
	appts, err := w.deps.History.ForPatient(ctx, patientID, scheduling.ViewAll)
	if err != nil {
		return err
	}
	doctors := w.doctorNames(ctx, appts)

	var buf bytes.Buffer
	rows, err := WriteHistoryCSV(&buf, patient, appts, doctors)
	if err != nil {
		return w.fail(ctx, job, "render failed")
	}
	key := fmt.Sprintf("exports/%s/%s/appointment-history-%s.csv",
		patientID, w.now().UTC().Format("2006-01-02"), job.JobID)
	link, err := w.deps.Blobs.Put(ctx, key, "text/csv", buf.Bytes())
	if err != nil {
		return err
	}
	if err := w.deps.Jobs.MarkCompleted(ctx, job.JobID, key, link, rows); err != nil {
		return err
	}
	w.logger.Info("export job completed", "job_id", job.JobID, "patient_id", patientID, "rows", rows)

	if w.deps.Auditor != nil {
		if err := w.deps.Auditor.LogExport(ctx, job.RequestedBy, job.PatientID, job.JobID, key); err != nil {
			w.logger.Error("audit export failed", "job_id", job.JobID, "error", err)
		}
	}
	if job.NotifyEmail && w.deps.Email != nil && patient.Email != "" {
		msg := notify.EmailMessage{
			To:       patient.Email,
			ToName:   patient.DisplayName(),
			Subject:  "Your appointment history export is ready",
			Body:     fmt.Sprintf("Hello %s,\n\nYour appointment history (%d appointments) is ready: %s\n", patient.DisplayName(), rows, link),
			Category: notify.CategoryExport,
			RefID:    job.JobID,
		}
		if err := w.deps.Email.Send(ctx, msg); err != nil {
			w.logger.Warn("export ready email failed", "job_id", job.JobID, "error", err)
		}
	}
	return nil
}

func (w *Worker) doctorNames(ctx context.Context, appts []*scheduling.Appointment) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string)
	for _, a := range appts {
		if _, seen := names[a.DoctorID]; seen {
			continue
		}
		doc, err := w.deps.Directory.Doctor(ctx, a.DoctorID)
		if err != nil {
			names[a.DoctorID] = ""
			continue
		}
		names[a.DoctorID] = doc.DisplayName()
	}
	return names
}

func (w *Worker) fail(ctx context.Context, job *Job, reason string) error {
	if err := w.deps.Jobs.MarkFailed(ctx, job.JobID, reason); err != nil {
		return err
	}
	w.logger.Warn("export job failed", "job_id", job.JobID, "reason", reason)
	return fmt.Errorf("%w: %s", errPermanent, reason)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.deps.Queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete export job", "error", err)
	}
}
