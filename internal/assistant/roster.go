package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfman30/medicare-plus/internal/store"
)

// doctorNames memoizes doctor lookups for one context build. Safe for concurrent use.
type doctorNames struct {
	store store.DoctorStore

	mu      sync.Mutex
	doctors map[string]*store.Doctor
}

func newDoctorNames(s store.DoctorStore) *doctorNames {
	return &doctorNames{store: s, doctors: make(map[string]*store.Doctor)}
}

func (d *doctorNames) get(ctx context.Context, id string) *store.Doctor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.doctors[id]; ok {
		return doc
	}
	doc, err := d.store.GetDoctor(ctx, id)
	if err != nil {
		doc = nil
	}
	d.doctors[id] = doc
	return doc
}

func (d *doctorNames) name(ctx context.Context, id string) string {
	if doc := d.get(ctx, id); doc != nil && doc.Name != "" {
		return doc.Name
	}
	return unknownDoctor
}

func (d *doctorNames) specialization(ctx context.Context, id string) string {
	if doc := d.get(ctx, id); doc != nil && doc.Specialization != "" {
		return doc.Specialization
	}
	return "General"
}

// RosterText lists every doctor with specialization and bookable slots, one per line.
func RosterText(doctors []store.Doctor) string {
	lines := make([]string, 0, len(doctors))
	for _, doc := range doctors {
		spec := doc.Specialization
		if spec == "" {
			spec = "General"
		}
		days := make([]string, 0, len(doc.Availability))
		for _, a := range doc.Availability {
			days = append(days, fmt.Sprintf("%s (%s)", a.Day, strings.Join(a.Slots, ", ")))
		}
		available := strings.Join(days, "; ")
		if available == "" {
			available = "no published slots"
		}
		lines = append(lines, fmt.Sprintf("Dr. %s (ID: %s) is a %s specialist. Fees: %.2f. Available: %s.",
			doc.Name, doc.ID, spec, doc.Fees, available))
	}
	return strings.Join(lines, "\n")
}
