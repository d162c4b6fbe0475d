package scheduling

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"Booked", StatusBooked},
		{"booked", StatusBooked},
		{"BOOKED", StatusBooked},
		{" Completed ", StatusCompleted},
		{"cancelled", StatusCancelled},
		{"Canceled", StatusCancelled},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if err != nil {
			t.Fatalf("ParseStatus(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseStatus("pending"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestStatusEdges(t *testing.T) {
	if !StatusBooked.CanTransitionTo(StatusCompleted) || !StatusBooked.CanTransitionTo(StatusCancelled) {
		t.Fatal("booked must reach both terminal states")
	}
	if StatusBooked.CanTransitionTo(StatusBooked) {
		t.Fatal("booked -> booked is not a transition")
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		for _, target := range []Status{StatusBooked, StatusCompleted, StatusCancelled} {
			if s.CanTransitionTo(target) {
				t.Fatalf("%s -> %s should be illegal", s, target)
			}
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := StateError("terminal")
	if !errors.Is(err, ErrState) || !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected state and terminal match, got %v", err)
	}
	if errors.Is(err, ErrTreatmentRequired) || errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected match for %v", err)
	}

	wrapped := &Error{Kind: KindConflict, Message: "slot already booked", Err: errors.New("23505")}
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("boom")) != "" {
		t.Fatal("infrastructure errors have no kind")
	}
}
