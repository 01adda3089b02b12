package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/noah-isme/slot-reservations/internal/pricing"
)

// ErrNotFound is returned when no experience has the requested id.
var ErrNotFound = errors.New("experience not found")

// Experience is the bookable offering. Price is the unit price per seat.
type Experience struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	Price       pricing.Money `json:"price"`
	Images      []string      `json:"images"`
}

// Source provides experience metadata.
type Source interface {
	ListExperiences(ctx context.Context) ([]Experience, error)
	GetExperience(ctx context.Context, id string) (Experience, error)
}

// MemorySource serves a fixed set of experiences.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string]Experience
}

// NewMemorySource copies experiences into a new source.
func NewMemorySource(experiences []Experience) *MemorySource {
	items := make(map[string]Experience, len(experiences))
	for _, e := range experiences {
		e.Images = append([]string(nil), e.Images...)
		items[e.ID] = e
	}
	return &MemorySource{items: items}
}

// ListExperiences returns every experience ordered by id.
func (m *MemorySource) ListExperiences(context.Context) ([]Experience, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Experience, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

// GetExperience returns the experience with id.
func (m *MemorySource) GetExperience(_ context.Context, id string) (Experience, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return Experience{}, ErrNotFound
	}
	return e, nil
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
