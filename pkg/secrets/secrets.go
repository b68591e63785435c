package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Reference prefixes recognised by Resolve.
const (
	VaultPrefix = "vault:"
	EnvPrefix   = "env:"
)

// ErrManagerNotInitialized is returned when a vault reference is resolved without a manager.
var ErrManagerNotInitialized = errors.New("secrets manager not initialized")

// IsReference reports whether value points at a secret instead of holding it.
func IsReference(value string) bool {
	return strings.HasPrefix(value, VaultPrefix) || strings.HasPrefix(value, EnvPrefix)
}

// Resolve turns a stored credential into its plaintext value.
// Plain values are returned untouched. "vault:<key>" is looked up through m
// and "env:<NAME>" is read from the process environment.
func Resolve(ctx context.Context, m Manager, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, VaultPrefix):
		if m == nil {
			return "", ErrManagerNotInitialized
		}
		key := strings.TrimSpace(strings.TrimPrefix(value, VaultPrefix))
		v, err := m.GetSecret(ctx, key)
		if err != nil {
			return "", fmt.Errorf("resolve secret %q: %w", key, err)
		}
		return v, nil
	case strings.HasPrefix(value, EnvPrefix):
		name := strings.TrimSpace(strings.TrimPrefix(value, EnvPrefix))
		v, err := lookupEnv(name)
		if err != nil {
			return "", fmt.Errorf("resolve secret %q: %w", name, err)
		}
		return v, nil
	default:
		return value, nil
	}
}
