package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors.
var (
	// ErrTokenInvalid is returned when a token fails signature, expiry or claim checks.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// defaultTokenTTL applies when the caller passes a non-positive TTL.
const defaultTokenTTL = time.Hour

// ActorClaims extends JWT standard claims with the actor's role and zone restriction.
type ActorClaims struct {
	jwt.RegisteredClaims
	Role  Role     `json:"role"`
	Zones []string `json:"zones,omitempty"`
}

// IssueToken creates a signed HS256 token for an actor.
//
// Parameters:
//   - actorID: Subject of the token
//   - role: Role whose capabilities the token grants
//   - zones: Zone restriction (empty for all zones)
//   - secret: HMAC signing secret
//   - ttl: Token lifetime
//
// Returns:
//   - string: Signed token
//   - error: If the role is unknown or signing fails
func IssueToken(actorID string, role Role, zones []string, secret string, ttl time.Duration) (string, error) {
	if !IsValidRole(role) {
		return "", fmt.Errorf("issuing token: unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:  role,
		Zones: zones,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
func ParseToken(tokenString, secret string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}

// Actor converts validated claims into an ActorContext.
func (c *ActorClaims) Actor() ActorContext {
	return NewActor(c.Subject, c.Role, c.Zones...)
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, actor ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (ActorContext, bool) {
	actor, ok := ctx.Value(actorKey{}).(ActorContext)
	return actor, ok
}
