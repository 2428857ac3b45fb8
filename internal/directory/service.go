// Package directory serves the specialization catalogue and the doctor roster.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/medicare-plus/internal/cache"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// AllSpecializations disables the specialization filter when listing doctors.
const AllSpecializations = "All"

var (
	ErrDoctorNotFound       = errors.New("directory: doctor not found")
	ErrNameRequired         = errors.New("directory: name is required")
	ErrSpecializationExists = errors.New("directory: specialization already exists")
)

// Service reads the catalogue through the read-through cache.
type Service struct {
	store interface {
		store.DoctorStore
		store.SpecializationStore
	}
	cache  *cache.ReadThrough
	logger *logging.Logger
}

func NewService(s store.Store, rt *cache.ReadThrough, logger *logging.Logger) *Service {
	if s == nil {
		panic("directory: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: s, cache: rt, logger: logger.Component("directory")}
}

// ListSpecializations returns every specialization ordered by name. Cached for a day.
func (s *Service) ListSpecializations(ctx context.Context) ([]store.Specialization, error) {
	specs, err := cache.Fetch(ctx, s.cache, cache.SpecializationsKey, cache.SpecializationsTTL,
		func(ctx context.Context) ([]store.Specialization, error) {
			out, err := s.store.ListSpecializations(ctx)
			if out == nil {
				out = []store.Specialization{}
			}
			return out, err
		})
	if err != nil {
		return nil, fmt.Errorf("directory: list specializations: %w", err)
	}
	return specs, nil
}

// SpecializationInput is the body of a new specialization.
type SpecializationInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// CreateSpecialization adds a catalogue entry. The cached list is evicted by the change feed.
func (s *Service) CreateSpecialization(ctx context.Context, in SpecializationInput) (*store.Specialization, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	spec, err := s.store.CreateSpecialization(ctx, &store.Specialization{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Image:       strings.TrimSpace(in.Image),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrSpecializationExists
		}
		return nil, fmt.Errorf("directory: create specialization: %w", err)
	}
	s.logger.Info("specialization created", "specialization_id", spec.ID, "name", spec.Name)
	return spec, nil
}

// ListDoctors returns the roster, optionally narrowed to one specialization
// by name. An unknown specialization yields an empty roster.
func (s *Service) ListDoctors(ctx context.Context, specialization string) ([]store.Doctor, error) {
	filter := store.DoctorFilter{}
	specialization = strings.TrimSpace(specialization)
	if specialization != "" && specialization != AllSpecializations {
		spec, err := s.store.GetSpecializationByName(ctx, specialization)
		if errors.Is(err, store.ErrNotFound) {
			return []store.Doctor{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("directory: resolve specialization: %w", err)
		}
		filter.SpecializationID = spec.ID
	}
	doctors, err := s.store.ListDoctors(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("directory: list doctors: %w", err)
	}
	if doctors == nil {
		doctors = []store.Doctor{}
	}
	return doctors, nil
}

// GetDoctor returns one doctor profile, cached under doctor:<id>.
func (s *Service) GetDoctor(ctx context.Context, id string) (*store.Doctor, error) {
	doc, err := cache.Fetch(ctx, s.cache, cache.DoctorKey(id), cache.ProfileTTL, func(ctx context.Context) (*store.Doctor, error) {
		return s.store.GetDoctor(ctx, id)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("directory: get doctor: %w", err)
	}
	return doc, nil
}
