package scheduling

import (
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/identity"
)

// Role is the capability class of a caller.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole normalizes a role claim.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RolePatient:
		return RolePatient, nil
	}
	return "", ValidationError("unknown role %q", raw)
}

// Actor is the verified caller identity handed to every service call. Doctors
// carry their DoctorID and patients their PatientID; admins carry neither.
type Actor struct {
	UserID    string
	Role      Role
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// OwnsAppointment reports whether the actor is the patient on the appointment.
func (a Actor) OwnsAppointment(appt *Appointment) bool {
	return a.Role == RolePatient && a.PatientID != uuid.Nil && appt.PatientID == a.PatientID
}

// Attends reports whether the actor is the doctor on the appointment.
func (a Actor) Attends(appt *Appointment) bool {
	return a.Role == RoleDoctor && a.DoctorID != uuid.Nil && appt.DoctorID == a.DoctorID
}

// CanView allows admins, the appointment's doctor and its patient.
func (a Actor) CanView(appt *Appointment) error {
	if a.IsAdmin() || a.OwnsAppointment(appt) || a.Attends(appt) {
		return nil
	}
	return ForbiddenError("appointment belongs to another user")
}

// CanBookFor allows patients to book for themselves and admins for anyone.
func (a Actor) CanBookFor(patientID uuid.UUID) error {
	if a.IsAdmin() {
		return nil
	}
	if a.Role == RolePatient && a.PatientID == patientID && patientID != uuid.Nil {
		return nil
	}
	return ForbiddenError("cannot book on behalf of another patient")
}

// CanChangeSlot allows the owning patient and admins to reschedule or cancel.
func (a Actor) CanChangeSlot(appt *Appointment) error {
	if a.IsAdmin() || a.OwnsAppointment(appt) {
		return nil
	}
	return ForbiddenError("appointment belongs to another patient")
}

// CanSetStatus allows admins any transition, doctors transitions on their own
// appointments, and patients only cancellation of their own.
func (a Actor) CanSetStatus(appt *Appointment, target Status) error {
	switch {
	case a.IsAdmin():
		return nil
	case a.Attends(appt):
		return nil
	case a.OwnsAppointment(appt) && target == StatusCancelled:
		return nil
	}
	return ForbiddenError("not allowed to set status %s", target)
}

// CanManageAvailability allows a doctor to edit their own slots and admins any.
func (a Actor) CanManageAvailability(doctorID uuid.UUID) error {
	if a.IsAdmin() {
		return nil
	}
	if a.Role == RoleDoctor && a.DoctorID == doctorID && doctorID != uuid.Nil {
		return nil
	}
	return ForbiddenError("cannot edit another doctor's availability")
}

// RequireRole fails with ForbiddenError unless the actor holds one of roles.
func (a Actor) RequireRole(roles ...Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return ForbiddenError("role %q not permitted", a.Role)
}

// ActorFromPrincipal builds an Actor from verified token claims. A doctor or
// patient principal must carry a valid profile id.
func ActorFromPrincipal(p identity.Principal) (Actor, error) {
	role, err := ParseRole(p.Role)
	if err != nil {
		return Actor{}, ForbiddenError("unknown role %q", p.Role)
	}
	actor := Actor{UserID: p.UserID, Role: role}
	switch role {
	case RoleDoctor:
		if actor.DoctorID, err = uuid.Parse(p.DoctorID); err != nil {
			return Actor{}, ForbiddenError("doctor token without doctor profile")
		}
	case RolePatient:
		if actor.PatientID, err = uuid.Parse(p.PatientID); err != nil {
			return Actor{}, ForbiddenError("patient token without patient profile")
		}
	}
	return actor, nil
}
