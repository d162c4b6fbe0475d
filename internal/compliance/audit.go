// Package compliance keeps the immutable audit trail of clinical record changes.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/scheduling"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventStatusChanged is logged when an appointment is completed or cancelled.
	EventStatusChanged AuditEventType = "clinical.status_changed"
	// EventTreatmentRecorded is logged when a treatment is attached before completion.
	EventTreatmentRecorded AuditEventType = "clinical.treatment_recorded"
	// EventRecordExported is logged when a patient history export is produced.
	EventRecordExported AuditEventType = "clinical.record_exported"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	ActorID       string          `json:"actor_id,omitempty"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	PatientID     string          `json:"patient_id"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	FromStatus  string `json:"from_status,omitempty"`
	ToStatus    string `json:"to_status,omitempty"`
	TreatmentID string `json:"treatment_id,omitempty"`
	ExportJobID string `json:"export_job_id,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

var _ scheduling.Auditor = (*AuditService)(nil)

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, actor_id, appointment_id, patient_id, doctor_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.ActorID),
		nullString(event.AppointmentID),
		event.PatientID,
		nullString(event.DoctorID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// RecordTransition audits a committed lifecycle change. A record whose status
// did not move is a treatment attached ahead of completion.
func (s *AuditService) RecordTransition(ctx context.Context, record scheduling.TransitionRecord) error {
	details := AuditDetails{FromStatus: string(record.From), ToStatus: string(record.To)}
	eventType := EventStatusChanged
	if record.From == record.To {
		eventType = EventTreatmentRecorded
	}
	if record.TreatmentID != uuid.Nil {
		details.TreatmentID = record.TreatmentID.String()
	}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:     eventType,
		ActorID:       record.ActorID,
		AppointmentID: record.AppointmentID.String(),
		PatientID:     record.PatientID.String(),
		DoctorID:      record.DoctorID.String(),
		Details:       detailsJSON,
		CreatedAt:     record.OccurredAt,
	})
}

// LogExport audits delivery of a patient's history export.
func (s *AuditService) LogExport(ctx context.Context, actorID, patientID, jobID, objectKey string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{ExportJobID: jobID, ObjectKey: objectKey})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventRecordExported,
		ActorID:   actorID,
		PatientID: patientID,
		Details:   detailsJSON,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	PatientID     string
	AppointmentID string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

// QueryEvents retrieves a patient's audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, actor_id, appointment_id, patient_id, doctor_id, details, created_at
		FROM audit_events
		WHERE patient_id = $1
	`
	args := []any{filter.PatientID}
	argIdx := 2

	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND appointment_id = $%d", argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actorID, appointmentID, doctorID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &actorID, &appointmentID, &e.PatientID, &doctorID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorID = actorID.String
		e.AppointmentID = appointmentID.String
		e.DoctorID = doctorID.String
		e.Details = details
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
