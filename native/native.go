// Package native calls esbuild through a compiled shared library loaded
// at runtime. The library exports transform(char*) -> void* and
// free(void*); every buffer the library hands back is released exactly
// once, on every exit path, before control returns to the caller.
package native

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ErDmKo/esbridge/codec"
)

var (
	// ErrLibraryNotFound means no shared library file exists in any of
	// the search locations. The selector falls back to the sandbox.
	ErrLibraryNotFound = errors.New("native library not found")

	// ErrNilResult means the transform export returned a NULL pointer,
	// which the library's contract forbids. There is nothing to release.
	ErrNilResult = errors.New("native transform returned a nil pointer")

	// ErrBuildUnsupported means the loaded library does not export the
	// optional build symbol.
	ErrBuildUnsupported = errors.New("native library does not export build")
)

// library is the loaded shared object. The concrete implementation lives
// behind a build tag; tests substitute an instrumented fake.
type library interface {
	// transform performs the foreign call. A nil buffer reports that the
	// call returned NULL.
	transform(request []byte) buffer

	// build performs the optional build call. ok is false when the
	// library does not export the symbol.
	build(request []byte) (buf buffer, ok bool)

	close() error
}

// buffer owns one foreign allocation. bytes must not be used after free;
// free is safe to call once per buffer and releases the foreign storage.
type buffer interface {
	bytes() []byte
	free()
}

// Adapter is the native esbuild backend. It is safe for concurrent use:
// the library handle is read-only after load and calls carry no shared
// mutable state.
type Adapter struct {
	lib library
	log *slog.Logger
}

// New resolves the platform library, loads it, and binds the exported
// symbols. Returns ErrLibraryNotFound when no candidate file exists, or
// a load error when dlopen/dlsym fails.
func New(opts ...Option) (*Adapter, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	path, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	cfg.logger.Debug("loading native library", "path", path)
	lib, err := open(path)
	if err != nil {
		return nil, err
	}

	return &Adapter{lib: lib, log: cfg.logger}, nil
}

// newAdapter wires an Adapter to an arbitrary library. Used by tests to
// instrument the release protocol.
func newAdapter(lib library, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{lib: lib, log: log}
}

// Transform encodes the request, performs the foreign call, and decodes
// the returned buffer. The foreign call is synchronous and cannot be
// cancelled; ctx is accepted for interface parity only.
func (a *Adapter) Transform(_ context.Context, code string, options map[string]any) (string, error) {
	payload, err := codec.EncodeTransformRequest(code, options)
	if err != nil {
		return "", err
	}

	buf := a.lib.transform(payload)
	if buf == nil {
		return "", ErrNilResult
	}
	// The release must run on every path out of this scope, including
	// decode failures. The raw address never leaves this function.
	defer buf.free()

	resp, err := codec.DecodeTransformResponse(buf.bytes())
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", codec.NewTransformError(resp.Errors)
	}
	return resp.Code, nil
}

// Build bundles the given entry points through the library's optional
// build export, following the same ownership protocol as Transform.
func (a *Adapter) Build(_ context.Context, req codec.BuildRequest) (codec.BuildResult, error) {
	payload, err := codec.EncodeNativeBuild(req)
	if err != nil {
		return codec.BuildResult{}, err
	}

	buf, ok := a.lib.build(payload)
	if !ok {
		return codec.BuildResult{}, ErrBuildUnsupported
	}
	if buf == nil {
		return codec.BuildResult{}, ErrNilResult
	}
	defer buf.free()

	return codec.DecodeBuildResult(buf.bytes())
}

// Close unloads the shared library. Calls in flight against the handle
// must have completed.
func (a *Adapter) Close() error {
	return a.lib.close()
}
