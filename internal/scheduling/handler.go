package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/identity"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

const conflictHint = "refresh availability and retry"

// PatientLookup resolves patient profiles for the doctor-facing views.
type PatientLookup interface {
	Patient(ctx context.Context, id uuid.UUID) (directory.Person, error)
}

// Handler exposes the scheduling services over HTTP.
type Handler struct {
	booking      *BookingService
	slots        *SlotAvailability
	appointments *AppointmentStore
	patients     PatientLookup
	logger       *logging.Logger
}

func NewHandler(booking *BookingService, slots *SlotAvailability, appointments *AppointmentStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{booking: booking, slots: slots, appointments: appointments, logger: logger}
}

// WithPatients enables patient names on the roster and history views.
func (h *Handler) WithPatients(patients PatientLookup) *Handler {
	h.patients = patients
	return h
}

func (h *Handler) patientName(ctx context.Context, id uuid.UUID) string {
	if h.patients == nil {
		return ""
	}
	p, err := h.patients.Patient(ctx, id)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			h.logger.Warn("patient lookup failed", "patient_id", id, "error", err)
		}
		return ""
	}
	return p.DisplayName()
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindState:
		return http.StatusPreconditionFailed
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Code: string(KindOf(err))}
	var se *Error
	if errors.As(err, &se) {
		body.Message = se.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("scheduling request failed", "error", err, "path", r.URL.Path)
		body = errorBody{Code: "internal", Message: "internal error"}
	}
	if status == http.StatusConflict {
		body.Hint = conflictHint
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return Actor{}, false
	}
	actor, err := ActorFromPrincipal(p)
	if err != nil {
		h.writeError(w, r, err)
		return Actor{}, false
	}
	return actor, true
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ValidationError("invalid %s %q", name, raw)
	}
	return id, nil
}

func optionalUUID(raw, name string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ValidationError("invalid %s %q", name, raw)
	}
	return id, nil
}

func optionalDate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return ParseDate(raw)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ValidationError("invalid request body")
	}
	return nil
}

type availabilityResponse struct {
	DoctorID     uuid.UUID    `json:"doctorId"`
	Availability Availability `json:"availability"`
}

// GetAvailability handles GET /doctors/{doctorID}/availability
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	availability, err := h.slots.Get(r.Context(), doctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{DoctorID: doctorID, Availability: availability})
}

// PutAvailability handles PUT /doctors/{doctorID}/availability
func (h *Handler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := actor.CanManageAvailability(doctorID); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Availability json.RawMessage `json:"availability"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	parsed, err := ParseAvailability(req.Availability)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	availability, err := h.slots.ReplaceAvailability(r.Context(), doctorID, parsed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{DoctorID: doctorID, Availability: availability})
}

// SlotAvailable handles GET /slots/available?doctor_id=&date=&time=
func (h *Handler) SlotAvailable(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	doctorID, err := optionalUUID(q.Get("doctor_id"), "doctor_id")
	if err == nil && doctorID == uuid.Nil {
		err = ValidationError("doctor_id is required")
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	date, timeLabel, err := parseSlot(q.Get("date"), q.Get("time"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	availability, err := h.slots.Get(r.Context(), doctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	isOffered := offered(availability, date, q.Get("time"), timeLabel)
	booked := false
	if isOffered {
		conflict, err := h.appointments.FindConflict(r.Context(), doctorID, date, timeLabel, uuid.Nil)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		booked = conflict != nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctorId":  doctorID,
		"date":      date,
		"time":      timeLabel,
		"offered":   isOffered,
		"booked":    booked,
		"available": isOffered && !booked,
	})
}

// Book handles POST /appointments
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req BookRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.PatientID == uuid.Nil {
		req.PatientID = actor.PatientID
	}
	appt, err := h.booking.Book(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// GetAppointment handles GET /appointments/{appointmentID}
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.appointments.Get(r.Context(), id)
	if err == nil {
		err = actor.CanView(appt)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Reschedule handles PUT /appointments/{appointmentID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Date string `json:"date"`
		Time string `json:"time"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.booking.Reschedule(r.Context(), actor, id, req.Date, req.Time)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Cancel handles PUT /appointments/{appointmentID}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.booking.Cancel(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type statusRequest struct {
	Status    string          `json:"status"`
	Treatment *TreatmentInput `json:"treatment,omitempty"`
}

// UpdateStatus handles PUT /appointments/{appointmentID}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.booking.ChangeStatus(r.Context(), actor, id, target, req.Treatment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// RecordTreatment handles POST /appointments/{appointmentID}/treatment
func (h *Handler) RecordTreatment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TreatmentInput
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.booking.RecordTreatment(r.Context(), actor, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

type listResponse struct {
	Appointments []*Appointment `json:"appointments"`
	Count        int            `json:"count"`
}

func list(appts []*Appointment) listResponse {
	if appts == nil {
		appts = []*Appointment{}
	}
	return listResponse{Appointments: appts, Count: len(appts)}
}

// PatientAppointments handles GET /patients/me/appointments?view=all|upcoming|history
func (h *Handler) PatientAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RolePatient); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := ParseView(r.URL.Query().Get("view"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appts, err := h.appointments.ForPatient(r.Context(), actor.PatientID, view)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(appts))
}

// DoctorAppointments handles GET /doctors/me/appointments. With ?date= it
// lists one day, with ?from=&to= a range, with ?range=week the current
// Monday-to-Sunday week, and with nothing today.
func (h *Handler) DoctorAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RoleDoctor); err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	var (
		appts []*Appointment
		err   error
	)
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		var from, to string
		if from, err = ParseDate(q.Get("from")); err == nil {
			if to, err = ParseDate(q.Get("to")); err == nil {
				appts, err = h.appointments.ForDoctorBetween(r.Context(), actor.DoctorID, from, to)
			}
		}
	case q.Get("range") == "week":
		from, to := weekOf(h.appointments.now())
		appts, err = h.appointments.ForDoctorBetween(r.Context(), actor.DoctorID, from, to)
	default:
		date := h.appointments.Today()
		if raw := q.Get("date"); raw != "" {
			date, err = ParseDate(raw)
		}
		if err == nil {
			appts, err = h.appointments.ForDoctorOn(r.Context(), actor.DoctorID, date)
		}
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(appts))
}

type rosterResponse struct {
	Patients []PatientVisits `json:"patients"`
	Count    int             `json:"count"`
}

// DoctorPatients handles GET /doctors/me/patients
func (h *Handler) DoctorPatients(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RoleDoctor); err != nil {
		h.writeError(w, r, err)
		return
	}
	roster, err := h.appointments.PatientsOfDoctor(r.Context(), actor.DoctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if roster == nil {
		roster = []PatientVisits{}
	}
	for i := range roster {
		roster[i].Name = h.patientName(r.Context(), roster[i].PatientID)
	}
	writeJSON(w, http.StatusOK, rosterResponse{Patients: roster, Count: len(roster)})
}

type patientHistoryResponse struct {
	PatientID uuid.UUID `json:"patientId"`
	Name      string    `json:"name,omitempty"`
	listResponse
}

// DoctorPatientHistory handles GET /doctors/me/patients/{patientID}/history
func (h *Handler) DoctorPatientHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RoleDoctor); err != nil {
		h.writeError(w, r, err)
		return
	}
	patientID, err := uuidParam(r, "patientID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appts, err := h.appointments.PatientHistoryFor(r.Context(), actor.DoctorID, patientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patientHistoryResponse{
		PatientID:    patientID,
		Name:         h.patientName(r.Context(), patientID),
		listResponse: list(appts),
	})
}

func (h *Handler) adminFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	var err error
	if f.DoctorID, err = optionalUUID(q.Get("doctor_id"), "doctor_id"); err != nil {
		return f, err
	}
	if f.PatientID, err = optionalUUID(q.Get("patient_id"), "patient_id"); err != nil {
		return f, err
	}
	if raw := q.Get("status"); raw != "" {
		if f.Status, err = ParseStatus(raw); err != nil {
			return f, err
		}
	}
	if f.DateFrom, err = optionalDate(q.Get("date_from")); err != nil {
		return f, err
	}
	if f.DateTo, err = optionalDate(q.Get("date_to")); err != nil {
		return f, err
	}
	return f, nil
}

// AdminAppointments handles GET /admin/appointments
func (h *Handler) AdminAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RoleAdmin); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.adminFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appts, err := h.appointments.Search(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(appts))
}

// AdminSummary handles GET /admin/summary
func (h *Handler) AdminSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireRole(RoleAdmin); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.adminFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.appointments.Summarize(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// weekOf returns the Monday and Sunday around t as ISO dates.
func weekOf(t time.Time) (string, string) {
	offset := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -offset)
	return monday.Format(DateLayout), monday.AddDate(0, 0, 6).Format(DateLayout)
}
