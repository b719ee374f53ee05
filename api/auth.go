/*
auth.go - Actor extraction and job credentials

PURPOSE:
  Maps the Authorization header to an explicit school.Actor and makes
  it available to handlers via the request context. Role and tenant
  live in signed token claims; no handler trusts ambient state.

TOKENS:
  /api/* routes:   Bearer JWT (HS256) with role and school_id claims,
                   issued by the auth provider at sign-in.
  /jobs/* routes:  Static bearer credential for the external scheduler,
                   compared in constant time.
*/
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drivehub/school-engine/school"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorClaims are the JWT claims the auth provider issues. Subject is
// the user id.
type ActorClaims struct {
	Role     string `json:"role"`
	SchoolID string `json:"school_id"`
	jwt.RegisteredClaims
}

// RequireActor parses the bearer JWT and injects the actor into the
// request context. Requests without a valid token get 401.
func RequireActor(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}

			claims := &ActorClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid bearer token", nil)
				return
			}
			if claims.Subject == "" || claims.SchoolID == "" {
				writeError(w, http.StatusUnauthorized, "Token missing identity claims", nil)
				return
			}

			actor := school.Actor{
				UserID:   claims.Subject,
				Role:     school.Role(claims.Role),
				SchoolID: claims.SchoolID,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

// ActorFrom returns the authenticated actor stored by RequireActor.
func ActorFrom(ctx context.Context) (school.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(school.Actor)
	return actor, ok
}

// checkJobToken compares the static scheduler credential in constant
// time.
func checkJobToken(r *http.Request, want string) bool {
	got := bearerToken(r)
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
