package providers

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var (
	// ErrProviderNotFound is returned when no builder is registered for a provider
	ErrProviderNotFound = errors.New("provider not found")
)

// Overrides adjust a handle at construction time.
// They are ignored when a handle for the same credential already exists.
type Overrides struct {
	BaseURL string
	Model   string
}

// Handle is one long-lived adapter bound to a provider and credential
type Handle struct {
	Client

	provider    ID
	fingerprint string
}

// NewHandle wraps a client that was constructed outside a registry
func NewHandle(provider ID, fingerprint string, client Client) *Handle {
	return &Handle{
		Client:      client,
		provider:    provider,
		fingerprint: fingerprint,
	}
}

// Provider returns the handle's provider
func (h *Handle) Provider() ID {
	return h.provider
}

// Fingerprint returns the credential fingerprint the handle is keyed by
func (h *Handle) Fingerprint() string {
	return h.fingerprint
}

type handleKey struct {
	provider    ID
	fingerprint string
}

// Registry constructs and reuses handles per (provider, credential) pair
type Registry struct {
	mu       sync.RWMutex
	handles  map[handleKey]*Handle
	builders map[ID]Builder
	configs  map[ID]ProviderConfig
	guards   GuardFunc
	getenv   func(string) string
	logger   *zap.Logger
}

// Fingerprint derives a stable non-reversible identifier for a credential
func Fingerprint(credential string) string {
	return strconv.FormatUint(xxhash.Sum64String(credential), 16)
}

// GetOrCreate returns the handle for provider and credential, building it on first use.
// An empty credential falls back to the configured key and then the provider's environment variable.
func (r *Registry) GetOrCreate(provider ID, credential string, overrides Overrides) (*Handle, error) {
	credential = r.resolveCredential(provider, credential)
	if credential == "" {
		return nil, &Failure{
			Kind:     KindMissingCredential,
			Message:  fmt.Sprintf("no API key for %s; set %s", provider, provider.CredentialEnv()),
			Provider: provider,
		}
	}

	key := handleKey{provider: provider, fingerprint: Fingerprint(credential)}

	r.mu.RLock()
	handle, ok := r.handles[key]
	r.mu.RUnlock()
	if ok {
		return handle, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.handles[key]; ok {
		return handle, nil
	}

	builder, ok := r.builders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}

	cfg := r.configs[provider]
	cfg.APIKey = credential
	if overrides.BaseURL != "" {
		cfg.BaseURL = overrides.BaseURL
	}
	if overrides.Model != "" {
		cfg.Model = overrides.Model
	}
	if r.guards != nil {
		cfg.Guard = r.guards(provider)
	}
	cfg.Logger = r.logger.With(zap.String("provider", provider.String()), zap.String("credential", key.fingerprint))

	client, err := builder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client: %w", provider, err)
	}

	handle = NewHandle(provider, key.fingerprint, client)
	r.handles[key] = handle

	r.logger.Info("provider client created",
		zap.String("provider", provider.String()),
		zap.String("credential", key.fingerprint),
	)
	return handle, nil
}

func (r *Registry) resolveCredential(provider ID, credential string) string {
	if credential != "" {
		return credential
	}
	if cfg, ok := r.configs[provider]; ok && cfg.APIKey != "" {
		return cfg.APIKey
	}
	return r.getenv(provider.CredentialEnv())
}

// HasCredential reports whether a provider can be built without an explicit key
func (r *Registry) HasCredential(provider ID) bool {
	return r.resolveCredential(provider, "") != ""
}

// Clear drops every cached handle
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles = make(map[handleKey]*Handle)
}

// Len returns the number of cached handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}

// Providers lists the providers a builder is registered for
func (r *Registry) Providers() []ID {
	ids := make([]ID, 0, len(r.builders))
	for _, id := range SupportedIDs() {
		if _, ok := r.builders[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RegistryBuilder helps build a registry with multiple providers
type RegistryBuilder struct {
	registry *Registry
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder(logger *zap.Logger) *RegistryBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryBuilder{
		registry: &Registry{
			handles:  make(map[handleKey]*Handle),
			builders: make(map[ID]Builder),
			configs:  make(map[ID]ProviderConfig),
			getenv:   os.Getenv,
			logger:   logger.Named("providers"),
		},
	}
}

// WithBuilder registers the adapter constructor and base settings for a provider
func (rb *RegistryBuilder) WithBuilder(id ID, builder Builder, cfg ProviderConfig) *RegistryBuilder {
	rb.registry.builders[id] = builder
	rb.registry.configs[id] = cfg
	return rb
}

// WithGuards sets the breaker resolver applied to every new handle
func (rb *RegistryBuilder) WithGuards(guards GuardFunc) *RegistryBuilder {
	rb.registry.guards = guards
	return rb
}

// WithEnv replaces the environment lookup used for credentials
func (rb *RegistryBuilder) WithEnv(getenv func(string) string) *RegistryBuilder {
	rb.registry.getenv = getenv
	return rb
}

// Build returns the configured registry
func (rb *RegistryBuilder) Build() *Registry {
	return rb.registry
}
