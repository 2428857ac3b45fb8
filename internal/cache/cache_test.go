package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

type specialization struct {
	Name string `json:"name"`
}

func TestRedisCache_GetMiss(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewRedisCache(client)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFetch_MissPopulatesWithTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)

	loads := 0
	load := func(context.Context) ([]specialization, error) {
		loads++
		return []specialization{{Name: "Cardiology"}}, nil
	}

	got, err := Fetch(context.Background(), rt, SpecializationsKey, SpecializationsTTL, load)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", got[0].Name)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 86400*time.Second, mr.TTL(SpecializationsKey))

	got, err = Fetch(context.Background(), rt, SpecializationsKey, SpecializationsTTL, load)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", got[0].Name)
	assert.Equal(t, 1, loads, "second read is served from cache")
}

func TestFetch_ColdStartEqualsWarm(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)
	load := func(context.Context) ([]specialization, error) {
		return []specialization{{Name: "A"}, {Name: "B"}}, nil
	}

	warm, err := Fetch(context.Background(), rt, SpecializationsKey, SpecializationsTTL, load)
	require.NoError(t, err)
	mr.FlushAll()
	cold, err := Fetch(context.Background(), rt, SpecializationsKey, SpecializationsTTL, load)
	require.NoError(t, err)
	assert.Equal(t, warm, cold)
}

func TestFetch_CacheDownFallsBackToStore(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)
	mr.Close()

	got, err := Fetch(context.Background(), rt, ReportsByPatientKey("p1"), ReportsTTL, func(context.Context) ([]string, error) {
		return []string{"r1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, got)
}

func TestFetch_CorruptEntryReloads(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)
	require.NoError(t, mr.Set(DoctorKey("d1"), "{not json"))

	got, err := Fetch(context.Background(), rt, DoctorKey("d1"), ProfileTTL, func(context.Context) (specialization, error) {
		return specialization{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)

	raw, err := mr.Get(DoctorKey("d1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fresh"}`, raw)
}

func TestFetch_LoadErrorIsNotCached(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)
	boom := errors.New("store down")

	_, err := Fetch(context.Background(), rt, ReportsByDoctorKey("d1"), ReportsTTL, func(context.Context) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(ReportsByDoctorKey("d1")))
}

func TestFetch_NilReadThroughLoadsDirectly(t *testing.T) {
	got, err := Fetch(context.Background(), nil, "k", time.Minute, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestInvalidate(t *testing.T) {
	mr, client := setupTestRedis(t)
	rt := NewReadThrough(NewRedisCache(client), logging.Discard(), nil)
	require.NoError(t, mr.Set(PatientKey("p1"), "x"))
	require.NoError(t, mr.Set(ReportsByPatientKey("p1"), "y"))

	rt.Invalidate(context.Background(), PatientKey("p1"), ReportsByPatientKey("p1"))
	assert.False(t, mr.Exists(PatientKey("p1")))
	assert.False(t, mr.Exists(ReportsByPatientKey("p1")))

	mr.Close()
	rt.Invalidate(context.Background(), PatientKey("p1"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "reports:appointment:a1", ReportByAppointmentKey("a1"))
	assert.Equal(t, "slots:d1:2026-03-10", SlotStatusKey("d1", "2026-03-10"))
	assert.Equal(t, "reports", Namespace(ReportsByDoctorKey("d1")))
	assert.Equal(t, "plain", Namespace("plain"))
}
