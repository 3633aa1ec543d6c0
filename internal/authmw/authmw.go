// Package authmw provides HTTP middleware that authenticates bearer JWTs and
// places the resulting report.Actor on the request context.
package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linnemanlabs/grievance/internal/report"
)

type actorKey struct{}

// Claims is the token payload. The subject is the actor ID.
type Claims struct {
	jwt.RegisteredClaims
	Role                  report.Role `json:"role"`
	OrganizationID        string      `json:"org_id,omitempty"`
	DepartmentIDs         []string    `json:"department_ids,omitempty"`
	RestrictToDepartments bool        `json:"restrict_to_departments,omitempty"`
}

// Actor converts the claims into a report.Actor.
func (c *Claims) Actor() report.Actor {
	return report.Actor{
		ID:                    c.Subject,
		Role:                  c.Role,
		OrganizationID:        c.OrganizationID,
		DepartmentIDs:         c.DepartmentIDs,
		RestrictToDepartments: c.RestrictToDepartments,
	}
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier. An empty issuer disables the iss check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token and returns its actor.
func (v *Verifier) Verify(token string) (report.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return report.Actor{}, err
	}
	if claims.Subject == "" {
		return report.Actor{}, errors.New("token has no subject")
	}
	if !claims.Role.Valid() {
		return report.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Role == report.RoleOrgMember && claims.OrganizationID == "" {
		return report.Actor{}, errors.New("org_member token has no org_id")
	}
	return claims.Actor(), nil
}

// Sign issues a token for claims. Used by tests and operator tooling.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated actor in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, "missing or malformed authorization header")
			return
		}

		actor, err := v.Verify(token)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="grievance"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q,"kind":"unauthenticated"}`, msg)
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor report.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (report.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(report.Actor)
	return a, ok
}
