package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/hms-platform/internal/events"
)

const (
	constraintSlot      = "uq_appointment_doctor_datetime"
	constraintTreatment = "uq_treatment_appointment"
)

// PgxPool is the subset of pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var pg = goqu.Dialect("postgres")

// PostgresStore implements Store on postgres. The unique constraint on
// (doctor_id, appt_date, appt_time) is the final word on double booking.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithPool(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("scheduling: pool required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translateWriteErr(err, "commit")
	}
	return nil
}

const appointmentColumns = `a.id, a.doctor_id, a.patient_id, a.appt_date, a.appt_time, a.status, a.created_at, a.updated_at,
	t.id, t.diagnosis, t.prescription, t.notes, t.created_at`

var appointmentSelect = []any{
	goqu.I("a.id"), goqu.I("a.doctor_id"), goqu.I("a.patient_id"), goqu.I("a.appt_date"), goqu.I("a.appt_time"),
	goqu.I("a.status"), goqu.I("a.created_at"), goqu.I("a.updated_at"),
	goqu.I("t.id"), goqu.I("t.diagnosis"), goqu.I("t.prescription"), goqu.I("t.notes"), goqu.I("t.created_at"),
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments a
		LEFT JOIN treatments t ON t.appointment_id = a.id
		WHERE a.id = $1`
	appt, err := scanAppointment(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundError("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, q Query) ([]*Appointment, error) {
	dir := func(col string) exp.OrderedExpression {
		if q.Order == OrderDesc {
			return goqu.I(col).Desc()
		}
		return goqu.I(col).Asc()
	}
	ds := pg.From(goqu.T("appointments").As("a")).
		LeftJoin(goqu.T("treatments").As("t"), goqu.On(goqu.I("t.appointment_id").Eq(goqu.I("a.id")))).
		Select(appointmentSelect...).
		Where(q.expressions()...).
		Order(dir("a.appt_date"), dir("a.appt_time"))
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("scheduling: build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Summarize(ctx context.Context, q Query) (Summary, error) {
	query, args, err := pg.From(goqu.T("appointments").As("a")).
		Select(goqu.I("a.status"), goqu.COUNT("*")).
		Where(q.expressions()...).
		GroupBy(goqu.I("a.status")).
		Prepared(true).ToSQL()
	if err != nil {
		return Summary{}, fmt.Errorf("scheduling: build summary query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduling: summarize: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scheduling: scan summary: %w", err)
		}
		summary.add(Status(status), int(count))
	}
	return summary, rows.Err()
}

func (s *PostgresStore) PatientRoster(ctx context.Context, doctorID uuid.UUID) ([]PatientVisits, error) {
	lastVisit := goqu.MAX(goqu.I("a.appt_date"))
	query, args, err := pg.From(goqu.T("appointments").As("a")).
		Select(goqu.I("a.patient_id"), lastVisit, goqu.COUNT("*")).
		Where(goqu.I("a.doctor_id").Eq(doctorID.String())).
		GroupBy(goqu.I("a.patient_id")).
		Order(lastVisit.Desc(), goqu.I("a.patient_id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("scheduling: build roster query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: patient roster: %w", err)
	}
	defer rows.Close()

	var out []PatientVisits
	for rows.Next() {
		var (
			row   PatientVisits
			last  time.Time
			count int64
		)
		if err := rows.Scan(&row.PatientID, &last, &count); err != nil {
			return nil, fmt.Errorf("scheduling: scan roster: %w", err)
		}
		row.LastVisitDate = last.Format(DateLayout)
		row.TotalVisits = int(count)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAvailability(ctx context.Context, doctorID uuid.UUID) (Availability, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT availability FROM doctors WHERE id = $1`, doctorID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundError("doctor %s not found", doctorID)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get availability: %w", err)
	}
	availability := Availability{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &availability); err != nil {
			return nil, fmt.Errorf("scheduling: decode availability: %w", err)
		}
	}
	return availability, nil
}

func (s *PostgresStore) PutAvailability(ctx context.Context, doctorID uuid.UUID, availability Availability) error {
	data, err := json.Marshal(availability)
	if err != nil {
		return fmt.Errorf("scheduling: encode availability: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `UPDATE doctors SET availability = $2, updated_at = now() WHERE id = $1`, doctorID, data)
	if err != nil {
		return fmt.Errorf("scheduling: put availability: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError("doctor %s not found", doctorID)
	}
	return nil
}

func (q Query) expressions() []exp.Expression {
	var ex []exp.Expression
	if q.DoctorID != uuid.Nil {
		ex = append(ex, goqu.I("a.doctor_id").Eq(q.DoctorID.String()))
	}
	if q.PatientID != uuid.Nil {
		ex = append(ex, goqu.I("a.patient_id").Eq(q.PatientID.String()))
	}
	if q.Status != "" {
		ex = append(ex, goqu.I("a.status").Eq(string(q.Status)))
	}
	if q.DateFrom != "" {
		ex = append(ex, goqu.I("a.appt_date").Gte(dateParam(q.DateFrom)))
	}
	if q.DateTo != "" {
		ex = append(ex, goqu.I("a.appt_date").Lte(dateParam(q.DateTo)))
	}
	if q.HistoryBefore != "" {
		ex = append(ex, goqu.Or(
			goqu.I("a.appt_date").Lt(dateParam(q.HistoryBefore)),
			goqu.I("a.status").Neq(string(StatusBooked)),
		))
	}
	return ex
}

// dateParam converts a validated ISO date into a value pgx binds to DATE.
func dateParam(date string) time.Time {
	d, _ := time.Parse(DateLayout, date)
	return d
}

type pgTx struct {
	q querier
}

func (tx *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments a
		LEFT JOIN treatments t ON t.appointment_id = a.id
		WHERE a.id = $1
		FOR UPDATE OF a`
	appt, err := scanAppointment(tx.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundError("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: lock appointment: %w", err)
	}
	return appt, nil
}

func (tx *pgTx) FindConflict(ctx context.Context, doctorID uuid.UUID, date, timeLabel string, exclude uuid.UUID) (*Appointment, error) {
	query := `
		SELECT id, doctor_id, patient_id, appt_date, appt_time, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1 AND appt_date = $2 AND appt_time = $3 AND id <> $4
		LIMIT 1`
	var appt Appointment
	var day time.Time
	var status string
	err := tx.q.QueryRow(ctx, query, doctorID, dateParam(date), timeLabel, exclude).Scan(
		&appt.ID, &appt.DoctorID, &appt.PatientID, &day, &appt.Time, &status, &appt.CreatedAt, &appt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: find conflict: %w", err)
	}
	appt.Date = day.Format(DateLayout)
	appt.Status = Status(status)
	return &appt, nil
}

func (tx *pgTx) InsertAppointment(ctx context.Context, appt *Appointment) error {
	query := `
		INSERT INTO appointments (id, doctor_id, patient_id, appt_date, appt_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`
	err := tx.q.QueryRow(ctx, query, appt.ID, appt.DoctorID, appt.PatientID, dateParam(appt.Date), appt.Time, string(appt.Status)).
		Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return translateWriteErr(err, "insert appointment")
	}
	return nil
}

func (tx *pgTx) UpdateSlot(ctx context.Context, appt *Appointment) error {
	query := `
		UPDATE appointments
		SET appt_date = $2, appt_time = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	if err := tx.q.QueryRow(ctx, query, appt.ID, dateParam(appt.Date), appt.Time).Scan(&appt.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundError("appointment %s not found", appt.ID)
		}
		return translateWriteErr(err, "move appointment")
	}
	return nil
}

func (tx *pgTx) UpdateStatus(ctx context.Context, appt *Appointment) error {
	query := `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	if err := tx.q.QueryRow(ctx, query, appt.ID, string(appt.Status)).Scan(&appt.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundError("appointment %s not found", appt.ID)
		}
		return translateWriteErr(err, "update status")
	}
	return nil
}

func (tx *pgTx) GetTreatment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	query := `
		SELECT id, appointment_id, diagnosis, prescription, notes, created_at
		FROM treatments
		WHERE appointment_id = $1`
	var t Treatment
	err := tx.q.QueryRow(ctx, query, appointmentID).Scan(&t.ID, &t.AppointmentID, &t.Diagnosis, &t.Prescription, &t.Notes, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get treatment: %w", err)
	}
	return &t, nil
}

func (tx *pgTx) InsertTreatment(ctx context.Context, treatment *Treatment) error {
	query := `
		INSERT INTO treatments (id, appointment_id, diagnosis, prescription, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	err := tx.q.QueryRow(ctx, query, treatment.ID, treatment.AppointmentID, treatment.Diagnosis, treatment.Prescription, treatment.Notes).
		Scan(&treatment.CreatedAt)
	if err != nil {
		return translateWriteErr(err, "insert treatment")
	}
	return nil
}

func (tx *pgTx) Emit(ctx context.Context, event events.AppointmentEventV1) error {
	aggregate, err := uuid.Parse(event.AppointmentID)
	if err != nil {
		return fmt.Errorf("scheduling: event aggregate: %w", err)
	}
	_, err = events.Append(ctx, tx.q, aggregate, event.Type, event)
	return err
}

// translateWriteErr maps constraint violations onto the error taxonomy.
func translateWriteErr(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			msg := "slot already booked"
			if pgErr.ConstraintName == constraintTreatment {
				msg = "appointment already has a treatment"
			}
			return &Error{Kind: KindConflict, Message: msg, Err: err}
		case "23503":
			return &Error{Kind: KindNotFound, Message: "referenced doctor or patient does not exist", Err: err}
		}
	}
	return fmt.Errorf("scheduling: %s: %w", action, err)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		appt        Appointment
		day         time.Time
		status      string
		treatmentID *uuid.UUID
		diagnosis   *string
		rx          *string
		notes       *string
		treatedAt   *time.Time
	)
	if err := row.Scan(
		&appt.ID, &appt.DoctorID, &appt.PatientID, &day, &appt.Time, &status, &appt.CreatedAt, &appt.UpdatedAt,
		&treatmentID, &diagnosis, &rx, &notes, &treatedAt,
	); err != nil {
		return nil, err
	}
	appt.Date = day.Format(DateLayout)
	appt.Status = Status(status)
	if treatmentID != nil {
		appt.Treatment = &Treatment{
			ID:            *treatmentID,
			AppointmentID: appt.ID,
			Diagnosis:     deref(diagnosis),
			Prescription:  deref(rx),
			Notes:         deref(notes),
		}
		if treatedAt != nil {
			appt.Treatment.CreatedAt = *treatedAt
		}
	}
	return &appt, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
