// ABOUTME: Secret reference resolver for env:// and file:// references
// ABOUTME: Other schemes are recognized but rejected until a backend is configured

package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when the referenced secret has no value.
	ErrNotFound = errors.New("secret not found")

	// ErrUnsupportedScheme is returned for recognized reference schemes
	// with no configured backend.
	ErrUnsupportedScheme = errors.New("secret scheme not configured")
)

// Resolver resolves opaque secret references. Supported schemes:
//
//	env://KEY      environment variable
//	file://path    file contents, trimmed
//
// vault://, aws://, and gcp:// references are recognized but require a
// backend this deployment does not configure. A reference with no scheme
// resolves to itself, so plain values keep working in dev configs.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the secret value for a reference.
func (r *Resolver) Resolve(reference string) (string, error) {
	scheme, rest, found := strings.Cut(reference, "://")
	if !found {
		return reference, nil
	}

	switch scheme {
	case "env":
		value, ok := os.LookupEnv(rest)
		if !ok {
			return "", fmt.Errorf("%w: env %s", ErrNotFound, rest)
		}
		return value, nil
	case "file":
		data, err := os.ReadFile(rest)
		if err != nil {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, rest)
		}
		return strings.TrimSpace(string(data)), nil
	case "vault", "aws", "gcp":
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}
