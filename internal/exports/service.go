// Package exports produces patient appointment-history CSV files off the
// request path: the API enqueues a job and the worker renders, stores and
// e-mails it.
package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

type queuePayload struct {
	JobID       string `json:"job_id"`
	PatientID   string `json:"patient_id"`
	RequestedBy string `json:"requested_by"`
	NotifyEmail bool   `json:"notify_email"`
}

// Service accepts export requests and reports their status.
type Service struct {
	queue  Queue
	jobs   JobStore
	logger *logging.Logger
}

func NewService(queue Queue, jobs JobStore, logger *logging.Logger) *Service {
	if queue == nil || jobs == nil {
		panic("exports: queue and job store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{queue: queue, jobs: jobs, logger: logger}
}

// Request enqueues an export of the patient's full history. Patients export
// their own record; admins may name any patient.
func (s *Service) Request(ctx context.Context, actor scheduling.Actor, patientID uuid.UUID, notify bool) (*Job, error) {
	switch {
	case actor.Role == scheduling.RolePatient:
		if patientID != uuid.Nil && patientID != actor.PatientID {
			return nil, scheduling.ForbiddenError("cannot export another patient's history")
		}
		patientID = actor.PatientID
	case actor.IsAdmin():
		if patientID == uuid.Nil {
			return nil, scheduling.ValidationError("patientId is required")
		}
	default:
		return nil, scheduling.ForbiddenError("role %q cannot request exports", actor.Role)
	}

	job := &Job{
		JobID:       uuid.NewString(),
		PatientID:   patientID.String(),
		RequestedBy: actor.UserID,
		NotifyEmail: notify,
	}
	if err := s.jobs.PutPending(ctx, job); err != nil {
		return nil, err
	}
	body, err := json.Marshal(queuePayload{
		JobID:       job.JobID,
		PatientID:   job.PatientID,
		RequestedBy: job.RequestedBy,
		NotifyEmail: notify,
	})
	if err != nil {
		return nil, fmt.Errorf("exports: encode payload: %w", err)
	}
	if err := s.queue.Send(ctx, string(body)); err != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.JobID, "enqueue failed"); markErr != nil {
			s.logger.Error("failed to mark export job failed", "job_id", job.JobID, "error", markErr)
		}
		return nil, err
	}
	s.logger.Info("export job queued", "job_id", job.JobID, "patient_id", job.PatientID)
	return job, nil
}

// Get returns a job visible to the actor. Jobs of other patients read as missing.
func (s *Service) Get(ctx context.Context, actor scheduling.Actor, jobID string) (*Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return nil, scheduling.NotFoundError("export job %s not found", jobID)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && job.PatientID != actor.PatientID.String() {
		return nil, scheduling.NotFoundError("export job %s not found", jobID)
	}
	return job, nil
}
