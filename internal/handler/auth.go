package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
)

// Dev-mode identity headers, honoured only when authentication is disabled.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the caller holds role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// UserClaims is the JWT payload.
type UserClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	disabled bool
}

// NewAuthenticator creates an Authenticator. With disabled set the caller's
// identity is read from the X-User-ID and X-User-Roles headers instead.
func NewAuthenticator(secret string, disabled bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), disabled: disabled}
}

// Authenticate resolves an identity from an Authorization header value, or
// from the dev-mode headers when authentication is disabled.
func (a *Authenticator) Authenticate(authorization, userID, roles string) (Identity, error) {
	if a.disabled {
		if userID == "" {
			return Identity{}, errors.New(errors.ErrCodeUnauthorized, "missing "+HeaderUserID+" header")
		}
		return Identity{UserID: userID, Roles: splitRoles(roles)}, nil
	}

	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return Identity{}, errors.New(errors.ErrCodeUnauthorized, "missing bearer token")
	}
	claims, err := a.validate(token)
	if err != nil {
		return Identity{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}
	if claims.UserID == "" {
		return Identity{}, errors.New(errors.ErrCodeUnauthorized, "token has no user_id claim")
	}
	return Identity{UserID: claims.UserID, Roles: claims.Roles}, nil
}

func (a *Authenticator) validate(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}

// IssueToken signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) IssueToken(userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects unauthenticated requests and stores the identity in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(
			r.Header.Get("Authorization"),
			r.Header.Get(HeaderUserID),
			r.Header.Get(HeaderUserRoles),
		)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// actAs checks that the caller holds actingRole and returns the user id the
// action is recorded under.
func actAs(ctx context.Context, actingRole string) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", errors.New(errors.ErrCodeUnauthorized, "unauthenticated")
	}
	if actingRole == "" {
		return "", errors.InvalidInput("acting_role", "is required")
	}
	if !id.HasRole(actingRole) {
		return "", errors.New(errors.ErrCodeForbidden, "caller does not hold the acting role").
			WithDetail("acting_role", actingRole)
	}
	return id.UserID, nil
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
