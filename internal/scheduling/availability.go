package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Availability maps an ISO date to the ordered set of time labels offered that day.
type Availability map[string][]string

// ParseAvailability decodes a JSON object of date -> [time] and normalizes it.
// Any other shape is a ValidationError.
func ParseAvailability(raw []byte) (Availability, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ValidationError("availability must be an object of date to time list")
	}
	var decoded map[string][]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, ValidationError("availability must map date strings to lists of time strings")
	}
	return NormalizeAvailability(decoded)
}

// NormalizeAvailability validates date keys, zero-pads HH:MM labels and
// collapses duplicates per date keeping first-seen order. Keys that name the
// same date are merged. Labels that are not clock times stay as trimmed text.
func NormalizeAvailability(in map[string][]string) (Availability, error) {
	rawDates := make([]string, 0, len(in))
	for rawDate := range in {
		rawDates = append(rawDates, rawDate)
	}
	sort.Strings(rawDates)

	out := make(Availability, len(in))
	seen := make(map[string]map[string]struct{}, len(in))
	for _, rawDate := range rawDates {
		labels := in[rawDate]
		date, err := ParseDate(rawDate)
		if err != nil {
			return nil, err
		}
		if labels == nil {
			return nil, ValidationError("slots for %s must be a list", rawDate)
		}
		if _, ok := seen[date]; !ok {
			seen[date] = make(map[string]struct{}, len(labels))
			out[date] = make([]string, 0, len(labels))
		}
		for _, label := range labels {
			label = strings.TrimSpace(label)
			if label == "" {
				return nil, ValidationError("empty time label on %s", rawDate)
			}
			if padded, err := ParseTime(label); err == nil {
				label = padded
			}
			if _, dup := seen[date][label]; dup {
				continue
			}
			seen[date][label] = struct{}{}
			out[date] = append(out[date], label)
		}
	}
	return out, nil
}

// Offers reports whether label is offered on date. A missing date offers nothing.
func (a Availability) Offers(date, label string) bool {
	for _, offered := range a[date] {
		if offered == label {
			return true
		}
	}
	return false
}

// Dates returns the dates with at least one slot, ascending.
func (a Availability) Dates() []string {
	dates := make([]string, 0, len(a))
	for d, slots := range a {
		if len(slots) > 0 {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// Clone returns a deep copy.
func (a Availability) Clone() Availability {
	if a == nil {
		return Availability{}
	}
	out := make(Availability, len(a))
	for d, slots := range a {
		out[d] = append([]string(nil), slots...)
	}
	return out
}

// AvailabilityCache is a read-through cache in front of the AvailabilityStore.
type AvailabilityCache interface {
	Get(ctx context.Context, doctorID uuid.UUID) (Availability, bool, error)
	Set(ctx context.Context, doctorID uuid.UUID, availability Availability) error
	Invalidate(ctx context.Context, doctorID uuid.UUID) error
}

// SlotAvailability answers whether a doctor offers a slot and replaces a
// doctor's offered slots. Existing appointments are never touched.
type SlotAvailability struct {
	store  AvailabilityStore
	cache  AvailabilityCache
	logger *logging.Logger
}

func NewSlotAvailability(store AvailabilityStore, cache AvailabilityCache, logger *logging.Logger) *SlotAvailability {
	if store == nil {
		panic("scheduling: availability store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotAvailability{store: store, cache: cache, logger: logger}
}

// Get returns the doctor's availability, preferring the cache. Cache failures
// fall back to the store.
func (s *SlotAvailability) Get(ctx context.Context, doctorID uuid.UUID) (Availability, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, doctorID)
		if err != nil {
			s.logger.Warn("availability cache read failed", "doctor_id", doctorID, "error", err)
		} else if ok {
			return cached, nil
		}
	}
	availability, err := s.store.GetAvailability(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, doctorID, availability); err != nil {
			s.logger.Warn("availability cache write failed", "doctor_id", doctorID, "error", err)
		}
	}
	return availability, nil
}

// IsOffered reports whether timeLabel is in the doctor's set for date.
func (s *SlotAvailability) IsOffered(ctx context.Context, doctorID uuid.UUID, date, timeLabel string) (bool, error) {
	availability, err := s.Get(ctx, doctorID)
	if err != nil {
		return false, err
	}
	return availability.Offers(date, timeLabel), nil
}

// ReplaceAvailability overwrites the doctor's map wholesale.
func (s *SlotAvailability) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, in map[string][]string) (Availability, error) {
	if in == nil {
		return nil, ValidationError("availability is required")
	}
	availability, err := NormalizeAvailability(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutAvailability(ctx, doctorID, availability); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, doctorID); err != nil {
			s.logger.Warn("availability cache invalidate failed", "doctor_id", doctorID, "error", err)
		}
	}
	s.logger.Info("availability replaced", "doctor_id", doctorID, "dates", len(availability))
	return availability, nil
}
