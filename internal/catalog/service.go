package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/inventory"
)

const listCacheKey = "experiences"

// SlotLister lists live slot availability.
type SlotLister interface {
	ListSlots(ctx context.Context, experienceID string) ([]inventory.Slot, error)
}

// SlotView is a slot with its remaining capacity.
type SlotView struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
	SoldOut   bool   `json:"soldOut"`
}

// ExperienceDetail is an experience with its slots.
type ExperienceDetail struct {
	Experience
	Slots []SlotView `json:"slots"`
}

// Service assembles catalog responses. Metadata and detail payloads are cached;
// detail entries are dropped whenever availability changes.
type Service struct {
	source Source
	slots  SlotLister
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source Source
	Slots  SlotLister
	Cache  *Cache
	Logger zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: source is required")
	}
	if cfg.Slots == nil {
		return nil, errors.New("catalog: slot lister is required")
	}
	return &Service{source: cfg.Source, slots: cfg.Slots, cache: cfg.Cache, logger: cfg.Logger}, nil
}

func detailCacheKey(id string) string { return "detail:" + id }

func experienceCacheKey(id string) string { return "experience:" + id }

// List returns every experience.
func (s *Service) List(ctx context.Context) ([]Experience, error) {
	var cached []Experience
	if ok, err := s.cache.GetJSON(ctx, listCacheKey, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("catalog_cache_get_failed")
	}
	items, err := s.source.ListExperiences(ctx)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJSON(ctx, listCacheKey, items)
	return items, nil
}

// Get returns experience metadata.
func (s *Service) Get(ctx context.Context, id string) (Experience, error) {
	var cached Experience
	if ok, err := s.cache.GetJSON(ctx, experienceCacheKey(id), &cached); err == nil && ok {
		return cached, nil
	}
	e, err := s.source.GetExperience(ctx, id)
	if err != nil {
		return Experience{}, err
	}
	_ = s.cache.SetJSON(ctx, experienceCacheKey(id), e)
	return e, nil
}

// Detail returns the experience with slot availability.
func (s *Service) Detail(ctx context.Context, id string) (ExperienceDetail, error) {
	var cached ExperienceDetail
	if ok, err := s.cache.GetJSON(ctx, detailCacheKey(id), &cached); err == nil && ok {
		return cached, nil
	}
	e, err := s.Get(ctx, id)
	if err != nil {
		return ExperienceDetail{}, err
	}
	slots, err := s.slots.ListSlots(ctx, id)
	if err != nil {
		return ExperienceDetail{}, fmt.Errorf("catalog: list slots for %s: %w", id, err)
	}
	detail := ExperienceDetail{Experience: e, Slots: make([]SlotView, 0, len(slots))}
	for _, slot := range slots {
		available := slot.Available()
		detail.Slots = append(detail.Slots, SlotView{
			Date:      slot.Date,
			Time:      slot.Time,
			Capacity:  slot.Capacity,
			Booked:    slot.Booked,
			Available: available,
			SoldOut:   available == 0,
		})
	}
	_ = s.cache.SetJSON(ctx, detailCacheKey(id), detail)
	return detail, nil
}

// SlotFilter narrows the slots of a detail response. Zero values keep every slot.
type SlotFilter struct {
	Date     string
	OpenOnly bool
}

// Apply returns the slots of d matching f. The cached detail is never modified.
func (f SlotFilter) Apply(d ExperienceDetail) ExperienceDetail {
	if f.Date == "" && !f.OpenOnly {
		return d
	}
	kept := make([]SlotView, 0, len(d.Slots))
	for _, v := range d.Slots {
		if f.Date != "" && v.Date != f.Date {
			continue
		}
		if f.OpenOnly && v.SoldOut {
			continue
		}
		kept = append(kept, v)
	}
	d.Slots = kept
	return d
}

// Invalidate drops cached availability for the experience.
func (s *Service) Invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, detailCacheKey(id)); err != nil {
		s.logger.Warn().Err(err).Str("experience_id", id).Msg("catalog_cache_invalidate_failed")
	}
}
