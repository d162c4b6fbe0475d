package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// insertTreatment validates input and creates the appointment's single
// treatment record inside tx.
func insertTreatment(ctx context.Context, tx Tx, appointmentID uuid.UUID, input TreatmentInput) (*Treatment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	t := &Treatment{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Diagnosis:     input.Diagnosis,
		Prescription:  input.Prescription,
		Notes:         input.Notes,
	}
	if err := tx.InsertTreatment(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
