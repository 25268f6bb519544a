package tenant

import (
	"context"
	"errors"
	"regexp"
)

// ErrNoTenant is returned when a request context carries no tenant identifier.
var ErrNoTenant = errors.New("no tenant in context")

// ErrInvalidTenant is returned for tenant identifiers that cannot name a
// storage partition.
var ErrInvalidTenant = errors.New("invalid tenant identifier")

type ctxKey struct{}

// identifiers double as Postgres schema name components, so the character
// set is restricted up front rather than escaped later.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Validate reports whether id is usable as a tenant partition name.
func Validate(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidTenant
	}
	return nil
}

// WithTenant returns a context carrying the given tenant identifier.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the tenant identifier set by WithTenant.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}
