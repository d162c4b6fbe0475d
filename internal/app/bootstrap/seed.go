package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/scheduling"
)

type seedFile struct {
	Doctors []struct {
		directory.Person
		Availability scheduling.Availability `json:"availability"`
	} `json:"doctors"`
	Patients []directory.Person `json:"patients"`
}

// Seed loads doctors, their availability and patients into the in-memory
// backends. It is a no-op error for a postgres runtime.
func (rt *Runtime) Seed(path string) error {
	if rt.memStore == nil || rt.memDir == nil {
		return fmt.Errorf("bootstrap: seed requires in-memory storage")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bootstrap: read seed: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("bootstrap: decode seed: %w", err)
	}
	for _, d := range seed.Doctors {
		if d.ID == uuid.Nil {
			return fmt.Errorf("bootstrap: seed doctor %q has no id", d.Name)
		}
		availability, err := scheduling.NormalizeAvailability(d.Availability)
		if err != nil {
			return fmt.Errorf("bootstrap: seed doctor %s: %w", d.ID, err)
		}
		rt.memStore.RegisterDoctor(d.ID, availability)
		rt.memDir.AddDoctor(d.Person)
	}
	for _, p := range seed.Patients {
		if p.ID == uuid.Nil {
			return fmt.Errorf("bootstrap: seed patient %q has no id", p.Name)
		}
		rt.memDir.AddPatient(p)
	}
	return nil
}
