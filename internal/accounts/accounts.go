package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/medicare-plus/internal/cache"
	"github.com/wolfman30/medicare-plus/internal/store"
)

// Role is the kind of account behind a request.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole accepts the role names issued in identity tokens.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePatient:
		return RolePatient, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("accounts: unknown role %q", s)
}

// ErrUnknownAccount is returned when the id does not resolve for the role.
var ErrUnknownAccount = errors.New("accounts: unknown account")

// Account is a patient, doctor or admin profile.
type Account interface {
	Role() Role
	ID() string
	Name() string
	Email() string
}

// PatientAccount wraps a patient profile.
type PatientAccount struct{ p *store.Patient }

func (a PatientAccount) Role() Role { return RolePatient }
func (a PatientAccount) ID() string { return a.p.ID }
func (a PatientAccount) Name() string { return a.p.Name }
func (a PatientAccount) Email() string { return a.p.Email }
func (a PatientAccount) Patient() *store.Patient { return a.p }

// DoctorAccount wraps a doctor profile.
type DoctorAccount struct{ d *store.Doctor }

func (a DoctorAccount) Role() Role { return RoleDoctor }
func (a DoctorAccount) ID() string { return a.d.ID }
func (a DoctorAccount) Name() string { return a.d.Name }
func (a DoctorAccount) Email() string { return a.d.Email }
func (a DoctorAccount) Doctor() *store.Doctor { return a.d }

type AdminAccount struct{ a *store.Admin }

func (a AdminAccount) Role() Role { return RoleAdmin }
func (a AdminAccount) ID() string { return a.a.ID }
func (a AdminAccount) Name() string { return a.a.Name }
func (a AdminAccount) Email() string { return a.a.Email }
func (a AdminAccount) Admin() *store.Admin { return a.a }

// Directory resolves accounts by role in a single lookup.
type Directory struct {
	store interface {
		store.PatientStore
		store.DoctorStore
		store.AdminStore
	}
	cache *cache.ReadThrough
}

// NewDirectory builds a Directory. rt may be nil to disable caching.
func NewDirectory(s store.Store, rt *cache.ReadThrough) *Directory {
	if s == nil {
		panic("accounts: store required")
	}
	return &Directory{store: s, cache: rt}
}

// Lookup returns the account for role and id. Patient and doctor profiles are cached.
func (d *Directory) Lookup(ctx context.Context, role Role, id string) (Account, error) {
	switch role {
	case RolePatient:
		p, err := cache.Fetch(ctx, d.cache, cache.PatientKey(id), cache.ProfileTTL, func(ctx context.Context) (*store.Patient, error) {
			return d.store.GetPatient(ctx, id)
		})
		if err != nil {
			return nil, d.wrap(err)
		}
		return PatientAccount{p: p}, nil
	case RoleDoctor:
		doc, err := cache.Fetch(ctx, d.cache, cache.DoctorKey(id), cache.ProfileTTL, func(ctx context.Context) (*store.Doctor, error) {
			return d.store.GetDoctor(ctx, id)
		})
		if err != nil {
			return nil, d.wrap(err)
		}
		return DoctorAccount{d: doc}, nil
	case RoleAdmin:
		a, err := d.store.GetAdmin(ctx, id)
		if err != nil {
			return nil, d.wrap(err)
		}
		return AdminAccount{a: a}, nil
	}
	return nil, fmt.Errorf("accounts: unknown role %q", role)
}

func (d *Directory) wrap(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownAccount
	}
	return fmt.Errorf("accounts: lookup: %w", err)
}

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   string
	Role Role
}

type actorKey struct{}

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor placed by the identity middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}
