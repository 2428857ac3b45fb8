package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

const testSecret = "secret"

func issueToken(secret string, actor accounts.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: actor.ID,
		Role:   string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type fakeResolver struct {
	known map[string]accounts.Role
	err   error
}

func (f fakeResolver) Lookup(ctx context.Context, role accounts.Role, id string) (accounts.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.known[id] != role {
		return nil, accounts.ErrUnknownAccount
	}
	return nil, nil
}

func serveIdentity(t *testing.T, resolver AccountResolver, req *http.Request) (*httptest.ResponseRecorder, *accounts.Actor) {
	t.Helper()
	var seen *accounts.Actor
	h := Identity(testSecret, resolver, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := accounts.ActorFromContext(r.Context()); ok {
			seen = &a
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func mustToken(t *testing.T, secret string, actor accounts.Actor) string {
	t.Helper()
	tok, err := issueToken(secret, actor, 5*time.Minute)
	require.NoError(t, err)
	return tok
}

func TestIdentity_CookieAndBearer(t *testing.T) {
	resolver := fakeResolver{known: map[string]accounts.Role{"p1": accounts.RolePatient}}
	tok := mustToken(t, testSecret, accounts.Actor{ID: "p1", Role: accounts.RolePatient})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tok})
	rec, actor := serveIdentity(t, resolver, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, accounts.Actor{ID: "p1", Role: accounts.RolePatient}, *actor)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, actor = serveIdentity(t, resolver, req)
	require.NotNil(t, actor)
	assert.Equal(t, "p1", actor.ID)
}

func TestIdentity_AnonymousPassesThrough(t *testing.T) {
	rec, actor := serveIdentity(t, fakeResolver{}, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, actor)
}

func TestIdentity_Rejections(t *testing.T) {
	resolver := fakeResolver{known: map[string]accounts.Role{"p1": accounts.RolePatient}}
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "p1", Role: "nurse"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	expired, err := issueToken(testSecret, accounts.Actor{ID: "p1", Role: accounts.RolePatient}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		resolver AccountResolver
		status   int
		message  string
	}{
		{name: "wrong secret", token: mustToken(t, "other", accounts.Actor{ID: "p1", Role: accounts.RolePatient}), resolver: resolver, status: http.StatusUnauthorized, message: "Not authorized, token failed"},
		{name: "garbage", token: "not-a-jwt", resolver: resolver, status: http.StatusUnauthorized, message: "Not authorized, token failed"},
		{name: "expired", token: expired, resolver: resolver, status: http.StatusUnauthorized, message: "Not authorized, token failed"},
		{name: "unknown role", token: badRole, resolver: resolver, status: http.StatusUnauthorized, message: "Not authorized, token failed"},
		{name: "deleted user", token: mustToken(t, testSecret, accounts.Actor{ID: "gone", Role: accounts.RolePatient}), resolver: resolver, status: http.StatusUnauthorized, message: "Not authorized, user not found"},
		{name: "store down", token: mustToken(t, testSecret, accounts.Actor{ID: "p1", Role: accounts.RolePatient}), resolver: fakeResolver{err: errors.New("db down")}, status: http.StatusInternalServerError, message: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec, actor := serveIdentity(t, tt.resolver, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Nil(t, actor)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(accounts.RoleDoctor, accounts.RoleAdmin)(okHandler(nil))
	do := func(actor *accounts.Actor) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if actor != nil {
			req = req.WithContext(accounts.WithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, do(nil))
	assert.Equal(t, http.StatusForbidden, do(&accounts.Actor{ID: "p1", Role: accounts.RolePatient}))
	assert.Equal(t, http.StatusOK, do(&accounts.Actor{ID: "d1", Role: accounts.RoleDoctor}))

	anyone := RequireRole()(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(accounts.WithActor(req.Context(), accounts.Actor{ID: "p1", Role: accounts.RolePatient}))
	rec := httptest.NewRecorder()
	anyone.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
