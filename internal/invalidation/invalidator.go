package invalidation

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/medicare-plus/internal/cache"
	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Collections lists the streams the invalidator follows.
var Collections = []store.Collection{
	store.CollectionDoctors,
	store.CollectionPatients,
	store.CollectionSpecializations,
	store.CollectionReports,
	store.CollectionAppointments,
}

// Keys returns every cache key a change event can make stale.
func Keys(evt store.ChangeEvent) []string {
	switch evt.Collection {
	case store.CollectionDoctors:
		if evt.Operation == store.OpUpdate || evt.Operation == store.OpDelete {
			return []string{cache.DoctorKey(evt.DocumentKey), cache.ReportsByDoctorKey(evt.DocumentKey)}
		}
	case store.CollectionPatients:
		if evt.Operation == store.OpUpdate || evt.Operation == store.OpDelete {
			return []string{cache.PatientKey(evt.DocumentKey), cache.ReportsByPatientKey(evt.DocumentKey)}
		}
	case store.CollectionSpecializations:
		return []string{cache.SpecializationsKey}
	case store.CollectionReports:
		if evt.Operation != store.OpInsert {
			return nil
		}
		var keys []string
		if p := evt.FullDocument["patient_id"]; p != "" {
			keys = append(keys, cache.ReportsByPatientKey(p))
		}
		if d := evt.FullDocument["doctor_id"]; d != "" {
			keys = append(keys, cache.ReportsByDoctorKey(d))
		}
		return keys
	case store.CollectionAppointments:
		doctorID, date := evt.FullDocument["doctor_id"], evt.FullDocument["date"]
		if doctorID != "" && date != "" {
			return []string{cache.SlotStatusKey(doctorID, date)}
		}
	}
	return nil
}

// Invalidator deletes stale cache keys as change events arrive. Each
// collection is drained by its own goroutine, one event at a time.
type Invalidator struct {
	feed    store.ChangeFeed
	cache   cache.Cache
	logger  *logging.Logger
	metrics *metrics.InvalidationMetrics
}

func New(feed store.ChangeFeed, c cache.Cache, logger *logging.Logger, m *metrics.InvalidationMetrics) *Invalidator {
	if feed == nil {
		panic("invalidation: change feed required")
	}
	if c == nil {
		panic("invalidation: cache required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Invalidator{
		feed:    feed,
		cache:   c,
		logger:  logger.Component("invalidator"),
		metrics: m,
	}
}

// Run subscribes to every collection and blocks until ctx is done or all
// subscriptions close.
func (inv *Invalidator) Run(ctx context.Context) error {
	streams := make(map[store.Collection]<-chan store.ChangeEvent, len(Collections))
	for _, c := range Collections {
		ch, err := inv.feed.Subscribe(ctx, c)
		if err != nil {
			return fmt.Errorf("invalidation: subscribe %s: %w", c, err)
		}
		streams[c] = ch
	}

	var wg sync.WaitGroup
	for c, ch := range streams {
		wg.Add(1)
		go func(c store.Collection, ch <-chan store.ChangeEvent) {
			defer wg.Done()
			inv.drain(ctx, c, ch)
		}(c, ch)
	}
	inv.logger.Info("invalidator running", "collections", len(streams))
	wg.Wait()
	return nil
}

func (inv *Invalidator) drain(ctx context.Context, c store.Collection, ch <-chan store.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			inv.Handle(ctx, evt)
		}
	}
}

// Handle evicts the keys for one event. Failures are logged and counted, never returned.
func (inv *Invalidator) Handle(ctx context.Context, evt store.ChangeEvent) {
	keys := Keys(evt)
	if len(keys) == 0 {
		inv.metrics.ObserveEvent(string(evt.Collection), "skipped")
		return
	}
	if err := inv.cache.Delete(ctx, keys...); err != nil {
		inv.metrics.ObserveEvent(string(evt.Collection), "failed")
		inv.logger.Warn("cache invalidation failed",
			"collection", evt.Collection,
			"operation", evt.Operation,
			"document_key", evt.DocumentKey,
			"keys", keys,
			"error", err,
		)
		return
	}
	inv.metrics.ObserveEvent(string(evt.Collection), "ok")
	inv.logger.Debug("cache keys invalidated", "collection", evt.Collection, "keys", keys)
}
