package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/curio-sh/curio/internal/cache"
	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/httpclient"
)

// remoteHandler loads source documents over HTTP(S). Payloads are cached;
// a fresh cache entry short-circuits the origin fetch entirely, and an
// expired one is served as a stale fallback when the origin is unreachable.
type remoteHandler struct {
	client    httpclient.Client
	store     *cache.Store
	validator DocumentValidator

	// group collapses concurrent fetches of the same location into one
	// origin request
	group singleflight.Group
}

var _ Handler = (*remoteHandler)(nil)

// RemoteOption configures the remote handler
type RemoteOption func(*remoteHandler)

// WithHTTPClient replaces the default retrying HTTP client
func WithHTTPClient(client httpclient.Client) RemoteOption {
	return func(h *remoteHandler) {
		h.client = client
	}
}

// NewRemoteHandler creates a handler for remote URL sources backed by the
// given cache store
func NewRemoteHandler(store *cache.Store, opts ...RemoteOption) Handler {
	h := &remoteHandler{
		client:    httpclient.NewRetryingClient(httpclient.NewDefaultClient(0), httpclient.DefaultMaxTries),
		store:     store,
		validator: NewDocumentValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Validate implements Handler
func (*remoteHandler) Validate(spec SourceSpec) error {
	if spec.Kind != KindRemote {
		return fmt.Errorf("source kind must be %q, got %q", KindRemote, spec.Kind)
	}
	if spec.Location == "" {
		return fmt.Errorf("remote source requires a URL")
	}
	parsed, err := url.Parse(spec.Location)
	if err != nil {
		return fmt.Errorf("invalid source URL %q: %w", spec.Location, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("source URL must use http or https: %s", spec.Location)
	}
	return nil
}

// Load implements Handler
func (h *remoteHandler) Load(ctx context.Context, spec SourceSpec) (map[string]entities.RepoConfig, error) {
	if err := h.Validate(spec); err != nil {
		return nil, fmt.Errorf("source validation failed: %w", err)
	}

	key := cache.Key("source", spec.Kind, spec.Location)

	// Within the TTL window no origin fetch happens at all
	if payload, fresh, ok := h.store.Get(key); ok && fresh {
		slog.Debug("Using cached source document", "location", spec.Location)
		return h.validator.ValidateDocument(payload)
	}

	repos, err, _ := h.group.Do(key, func() (any, error) {
		return h.fetchAndStore(ctx, key, spec)
	})
	if err != nil {
		// Origin down: fall back to whatever the cache still has,
		// expired or not
		if payload, _, ok := h.store.Get(key); ok {
			slog.Warn("Remote source unreachable, serving stale cache",
				"location", spec.Location,
				"error", err)
			return h.validator.ValidateDocument(payload)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, spec.Location, err)
	}

	return repos.(map[string]entities.RepoConfig), nil
}

// fetchAndStore fetches the document, validates it, and caches the raw
// payload. Invalid documents are never cached: a poisoned entry would
// resurface later through the stale fallback.
func (h *remoteHandler) fetchAndStore(ctx context.Context, key string, spec SourceSpec) (map[string]entities.RepoConfig, error) {
	payload, err := h.client.Get(ctx, spec.Location)
	if err != nil {
		return nil, err
	}

	repos, err := h.validator.ValidateDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid document at %s: %w", spec.Location, err)
	}

	if err := h.store.Put(key, payload); err != nil {
		// A cache write failure must not fail the load itself
		slog.Warn("Failed to cache source document",
			"location", spec.Location,
			"error", err)
	}
	return repos, nil
}
