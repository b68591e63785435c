package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"storyforge/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address     string
	Token       string
	Namespace   string
	Timeout     time.Duration
	MaxRetries  int
	SecretsPath string
	Enabled     bool
	CacheTTL    time.Duration
}

// VaultManager manages secrets with HashiCorp Vault, falling back to the
// environment when Vault is disabled or lacks the key.
type VaultManager struct {
	client  *vault.Client
	config  VaultConfig
	mu      sync.RWMutex
	cache   map[string]cachedSecret
	log     *logger.Logger
	nowFunc func() time.Time
}

type cachedSecret struct {
	value   string
	expires time.Time
}

var _ Manager = (*VaultManager)(nil)

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	manager := &VaultManager{
		config:  config,
		cache:   make(map[string]cachedSecret),
		log:     log,
		nowFunc: time.Now,
	}

	if !config.Enabled {
		return manager, nil
	}

	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}
	if config.SecretsPath == "" {
		config.SecretsPath = "storyforge"
		manager.config.SecretsPath = config.SecretsPath
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	manager.client = client

	return manager, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if v, ok := m.cached(key); ok {
		return v, nil
	}

	if m.client == nil {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
			return m.getFromEnvironment(key)
		}
		return "", err
	}

	m.cacheSecret(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		m.log.Warn("Failed to get secret, using default value",
			"key", key,
			"error", err.Error(),
		)
		return defaultValue
	}
	return value
}

// Ping reports whether Vault is reachable. A disabled manager is always healthy.
func (m *VaultManager) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	_, err := m.client.Sys().HealthWithContext(ctx)
	return err
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	path := m.config.SecretsPath

	secret, err := m.client.KVv2("secret").Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		m.log.Error("Failed to read secret from Vault",
			"path", path,
			"error", err.Error(),
		)
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	value, err := lookupEnv(key)
	if err != nil {
		return "", err
	}
	m.cacheSecret(key, value)
	return value, nil
}

// lookupEnv maps kebab/dotted keys to upper snake case before reading the environment.
func lookupEnv(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (m *VaultManager) cached(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cache[key]
	if !ok || m.nowFunc().After(c.expires) {
		return "", false
	}
	return c.value, true
}

func (m *VaultManager) cacheSecret(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = cachedSecret{value: value, expires: m.nowFunc().Add(m.config.CacheTTL)}
}
