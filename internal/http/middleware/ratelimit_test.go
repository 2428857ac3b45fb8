package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/medicare-plus/internal/accounts"
)

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	clock := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	clock = clock.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	clock = clock.Add(time.Hour)
	assert.Equal(t, 2, rl.Evict(clock.Add(-10*time.Minute)))
}

func TestRateLimit_KeysByActor(t *testing.T) {
	mw := RateLimit(NewRateLimiter(0.001, 1))(okHandler(nil))
	send := func(actorID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if actorID != "" {
			req = req.WithContext(accounts.WithActor(req.Context(), accounts.Actor{ID: actorID, Role: accounts.RolePatient}))
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("p1"))
	assert.Equal(t, http.StatusTooManyRequests, send("p1"))
	assert.Equal(t, http.StatusOK, send("p2"))
	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send(""))
}
