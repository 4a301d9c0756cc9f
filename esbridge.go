package esbridge

import (
	"context"
	"errors"
	"sync"

	"github.com/ErDmKo/esbridge/codec"
	"github.com/ErDmKo/esbridge/native"
	"github.com/ErDmKo/esbridge/sandbox"
)

// ErrBackendUnavailable is returned by every call on a Client whose
// selection found no working backend. The message is stable; callers
// key retry/alerting logic off the error value, not the text.
var ErrBackendUnavailable = errors.New(
	"no esbuild backend is available: the native library failed to load and the sandbox module is missing")

// Client dispatches transform and build calls to the backend selected at
// construction. Construct one Client per process (or per test) and pass
// it around; there is no package-level instance.
type Client struct {
	cfg config

	mu      sync.RWMutex
	backend Backend
	kind    Kind
}

// New builds a Client and runs backend selection exactly once: the
// native adapter, then the sandboxed fallback, else none. Construction
// failures are logged and absorbed; they resurface as
// ErrBackendUnavailable on use.
func New(opts ...Option) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{cfg: cfg}
	c.mu.Lock()
	c.selectLocked()
	c.mu.Unlock()
	return c
}

// selectLocked attempts each adapter in order. Callers hold c.mu.
func (c *Client) selectLocked() {
	log := c.cfg.logger

	nat, err := native.New(c.nativeOptions()...)
	if err == nil {
		c.backend, c.kind = nat, KindNative
		log.Debug("native backend selected")
		return
	}
	log.Warn("native backend failed to load, attempting sandbox fallback", "error", err)

	sb, err := sandbox.New(c.sandboxOptions()...)
	if err == nil {
		c.backend, c.kind = sb, KindSandboxed
		log.Debug("sandboxed backend selected")
		return
	}
	log.Error("sandbox fallback failed; no backend available", "error", err)

	c.backend, c.kind = nil, KindNone
}

// ActiveBackend reports which backend the last selection produced.
func (c *Client) ActiveBackend() Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kind
}

// Reinitialize discards the current backend handle and repeats
// selection, returning the new outcome. Calls already in flight finish
// against the old handle; new calls see the new one.
func (c *Client) Reinitialize() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.cfg.logger.Warn("closing previous backend", "error", err)
		}
	}
	c.selectLocked()
	return c.kind
}

func (c *Client) active() (Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend, c.backend != nil
}

// Transform converts code with esbuild using the active backend. When
// the caller's options omit a loader, "jsx" is assumed.
func (c *Client) Transform(ctx context.Context, code string, options map[string]any) (string, error) {
	backend, ok := c.active()
	if !ok {
		return "", ErrBackendUnavailable
	}
	return backend.Transform(ctx, code, options)
}

// Build bundles the requested entry points using the active backend and
// returns the build diagnostics.
func (c *Client) Build(ctx context.Context, req codec.BuildRequest) (codec.BuildResult, error) {
	backend, ok := c.active()
	if !ok {
		return codec.BuildResult{}, ErrBackendUnavailable
	}
	return backend.Build(ctx, req)
}

// Close releases the active backend. The Client is unusable afterwards
// except via Reinitialize.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend, c.kind = nil, KindNone
	return err
}
