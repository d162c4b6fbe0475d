package jobs

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/exports"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

var reportTemplate = template.Must(template.New("monthly").Parse(`<html>
<head><title>Monthly Report - {{.Doctor}} - {{.Month}}</title></head>
<body>
  <h1>Monthly Activity Report</h1>
  <h2>Doctor: {{.Doctor}}</h2>
  <p>Month: {{.Month}}</p>
  <h3>Summary</h3>
  <ul>
    <li>Total appointments: {{.Total}}</li>
    <li>Completed: {{.Completed}}</li>
    <li>Cancelled: {{.Cancelled}}</li>
  </ul>
  <h3>Appointments</h3>
  <table border="1" cellpadding="4" cellspacing="0">
    <thead><tr><th>Date</th><th>Time</th><th>Patient</th><th>Status</th><th>Diagnosis</th></tr></thead>
    <tbody>
{{- range .Rows}}
      <tr><td>{{.Date}}</td><td>{{.Time}}</td><td>{{.Patient}}</td><td>{{.Status}}</td><td>{{.Diagnosis}}</td></tr>
{{- end}}
    </tbody>
  </table>
</body>
</html>
`))

// DoctorReport is one doctor's activity over a calendar month.
type DoctorReport struct {
	DoctorID  uuid.UUID
	Doctor    string
	Month     string // YYYY-MM
	Total     int
	Completed int
	Cancelled int
	Rows      []ReportRow
}

type ReportRow struct {
	Date      string
	Time      string
	Patient   string
	Status    scheduling.Status
	Diagnosis string
}

// Render writes the report as an HTML page.
func (r DoctorReport) Render(w io.Writer) error {
	return reportTemplate.Execute(w, r)
}

// PreviousMonth returns the first and last ISO dates of the month before now.
func PreviousMonth(now time.Time) (label, from, to string) {
	first := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location())
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01"), first.Format(scheduling.DateLayout), last.Format(scheduling.DateLayout)
}

// MonthlyReports builds, archives and e-mails last month's report per doctor.
type MonthlyReports struct {
	appointments AppointmentSource
	directory    directory.Repository
	blobs        exports.BlobStore
	email        notify.EmailSender
	logger       *logging.Logger
	now          func() time.Time
}

func NewMonthlyReports(appointments AppointmentSource, dir directory.Repository, blobs exports.BlobStore, email notify.EmailSender, loc *time.Location, logger *logging.Logger) *MonthlyReports {
	if logger == nil {
		logger = logging.Default()
	}
	loc = locationOr(loc)
	return &MonthlyReports{
		appointments: appointments,
		directory:    dir,
		blobs:        blobs,
		email:        email,
		logger:       logger,
		now:          func() time.Time { return time.Now().In(loc) },
	}
}

// Run produces a report for every doctor and returns them. A doctor whose
// report fails to archive is skipped; listing errors abort the run.
func (m *MonthlyReports) Run(ctx context.Context) ([]DoctorReport, error) {
	month, from, to := PreviousMonth(m.now())
	doctors, err := m.directory.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: list doctors: %w", err)
	}

	reports := make([]DoctorReport, 0, len(doctors))
	for _, doc := range doctors {
		report, err := m.build(ctx, doc, month, from, to)
		if err != nil {
			return reports, err
		}
		var buf bytes.Buffer
		if err := report.Render(&buf); err != nil {
			return reports, fmt.Errorf("jobs: render report: %w", err)
		}
		key := fmt.Sprintf("reports/%s/%s.html", doc.ID, month)
		link, err := m.blobs.Put(ctx, key, "text/html; charset=utf-8", buf.Bytes())
		if err != nil {
			m.logger.Error("failed to archive monthly report", "doctor_id", doc.ID, "month", month, "error", err)
			continue
		}
		reports = append(reports, report)

		if doc.Email == "" || m.email == nil {
			continue
		}
		msg := notify.EmailMessage{
			To:      doc.Email,
			ToName:  doc.DisplayName(),
			Subject: "Monthly Activity Report for " + month,
			Body: fmt.Sprintf("Total appointments: %d\nCompleted: %d\nCancelled: %d\n\nReport: %s\n",
				report.Total, report.Completed, report.Cancelled, link),
			HTML:     buf.String(),
			Category: notify.CategoryReport,
			RefID:    key,
		}
		if err := m.email.Send(ctx, msg); err != nil {
			m.logger.Warn("monthly report email failed", "doctor_id", doc.ID, "error", err)
		}
	}
	m.logger.Info("monthly reports generated", "month", month, "doctors", len(doctors), "reports", len(reports))
	return reports, nil
}

func (m *MonthlyReports) build(ctx context.Context, doc directory.Person, month, from, to string) (DoctorReport, error) {
	appts, err := m.appointments.ForDoctorBetween(ctx, doc.ID, from, to)
	if err != nil {
		return DoctorReport{}, fmt.Errorf("jobs: list appointments for %s: %w", doc.ID, err)
	}
	report := DoctorReport{DoctorID: doc.ID, Doctor: doc.DisplayName(), Month: month, Total: len(appts)}
	patients := make(map[uuid.UUID]string)
	for _, a := range appts {
		switch a.Status {
		case scheduling.StatusCompleted:
			report.Completed++
		case scheduling.StatusCancelled:
			report.Cancelled++
		}
		name, ok := patients[a.PatientID]
		if !ok {
			if p, err := m.directory.Patient(ctx, a.PatientID); err == nil {
				name = p.DisplayName()
			}
			patients[a.PatientID] = name
		}
		row := ReportRow{Date: a.Date, Time: a.Time, Patient: name, Status: a.Status}
		if a.Treatment != nil {
			row.Diagnosis = a.Treatment.Diagnosis
		}
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

// Task adapts Run for the Scheduler.
func (m *MonthlyReports) Task() Task {
	return func(ctx context.Context) error {
		_, err := m.Run(ctx)
		return err
	}
}
