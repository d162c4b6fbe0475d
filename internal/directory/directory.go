// Package directory resolves doctor and patient profiles for notifications,
// reports and exports.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no profile matches the id.
var ErrNotFound = errors.New("directory: person not found")

// Person is a doctor or patient profile.
type Person struct {
	ID       uuid.UUID
	Username string
	Name     string
	Email    string
}

// DisplayName falls back to the username when the profile has no full name.
func (p Person) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}

// Repository looks up profiles.
type Repository interface {
	Doctor(ctx context.Context, id uuid.UUID) (Person, error)
	Patient(ctx context.Context, id uuid.UUID) (Person, error)
	ListDoctors(ctx context.Context) ([]Person, error)
}

// InMemoryRepository is a Repository for tests and local runs.
type InMemoryRepository struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]Person
	patients map[uuid.UUID]Person
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		doctors:  make(map[uuid.UUID]Person),
		patients: make(map[uuid.UUID]Person),
	}
}

func (r *InMemoryRepository) AddDoctor(p Person) {
	r.mu.Lock()
	r.doctors[p.ID] = p
	r.mu.Unlock()
}

func (r *InMemoryRepository) AddPatient(p Person) {
	r.mu.Lock()
	r.patients[p.ID] = p
	r.mu.Unlock()
}

func (r *InMemoryRepository) Doctor(_ context.Context, id uuid.UUID) (Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.doctors[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

func (r *InMemoryRepository) Patient(_ context.Context, id uuid.UUID) (Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

// ListDoctors returns doctors ordered by name.
func (r *InMemoryRepository) ListDoctors(_ context.Context) ([]Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Person, 0, len(r.doctors))
	for _, p := range r.doctors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
