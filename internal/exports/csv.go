package exports

import (
	"encoding/csv"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/scheduling"
)

var historyHeader = []string{
	"user_id", "username", "consulting_doctor", "appointment_date", "diagnosis", "treatment", "next_visit",
}

// WriteHistoryCSV writes one row per appointment, newest first. next_visit is
// the patient's next Booked appointment with the same doctor after that row.
func WriteHistoryCSV(w io.Writer, patient directory.Person, appts []*scheduling.Appointment, doctors map[uuid.UUID]string) (int, error) {
	sorted := append([]*scheduling.Appointment(nil), appts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date > sorted[j].Date
		}
		return sorted[i].Time > sorted[j].Time
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return 0, err
	}
	for _, a := range sorted {
		var diagnosis, prescription string
		if a.Treatment != nil {
			diagnosis = a.Treatment.Diagnosis
			prescription = a.Treatment.Prescription
		}
		row := []string{
			patient.ID.String(),
			patient.Username,
			doctors[a.DoctorID],
			a.Date,
			diagnosis,
			prescription,
			nextVisit(sorted, a),
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(sorted), cw.Error()
}

// nextVisit scans newest-first appointments for the closest later Booked one.
func nextVisit(sorted []*scheduling.Appointment, after *scheduling.Appointment) string {
	next := ""
	for _, a := range sorted {
		if a.DoctorID != after.DoctorID || a.Status != scheduling.StatusBooked {
			continue
		}
		if a.Date > after.Date || (a.Date == after.Date && a.Time > after.Time) {
			next = a.Date
		}
	}
	return next
}
