package scheduling

import "strings"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked    Status = "Booked"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var statusNames = map[string]Status{
	"BOOKED":    StatusBooked,
	"COMPLETED": StatusCompleted,
	"CANCELLED": StatusCancelled,
	// accepted spelling on input; never stored
	"CANCELED": StatusCancelled,
}

// ParseStatus accepts either the stored value ("Booked") or the constant name
// ("BOOKED"), case-insensitively. It is the only place statuses are parsed.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if status, ok := statusNames[key]; ok {
		return status, nil
	}
	return "", ValidationError("unknown status %q", raw)
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether s -> target is a legal edge.
func (s Status) CanTransitionTo(target Status) bool {
	return s == StatusBooked && target.Terminal()
}

func (s Status) String() string {
	return string(s)
}
