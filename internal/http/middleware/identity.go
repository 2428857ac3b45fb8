package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// TokenCookie is the cookie the web client stores its session token in.
const TokenCookie = "token"

// Claims is the identity token payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Role   string `json:"role"`
}

// AccountResolver confirms that a token's subject still exists.
type AccountResolver interface {
	Lookup(ctx context.Context, role accounts.Role, id string) (accounts.Account, error)
}

// Identity resolves the caller from the "token" cookie or a Bearer header and
// stores the actor on the request context. Requests without a token pass
// through anonymously; a bad token is rejected with 401.
func Identity(secret string, resolver AccountResolver, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}
			if secret == "" {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
				return
			}
			role, err := accounts.ParseRole(claims.Role)
			if err != nil || claims.UserID == "" {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
				return
			}

			if resolver != nil {
				if _, err := resolver.Lookup(r.Context(), role, claims.UserID); err != nil {
					if errors.Is(err, accounts.ErrUnknownAccount) {
						writeMessage(w, http.StatusUnauthorized, "Not authorized, user not found")
						return
					}
					logger.Error("identity lookup failed", "role", role, "user_id", claims.UserID, "error", err)
					writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
					return
				}
			}

			ctx := accounts.WithActor(r.Context(), accounts.Actor{ID: claims.UserID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// RequireRole rejects anonymous callers with 401 and, when roles are given,
// callers holding none of them with 403.
func RequireRole(roles ...accounts.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := accounts.ActorFromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}
			if len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, http.StatusForbidden, "User role "+string(actor.Role)+" is not authorized to access this route")
		})
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
