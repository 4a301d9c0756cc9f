// Package sandbox runs the esbuild WASI module inside wazero. The module
// is compiled once and shared; every call gets a fresh, isolated
// instance whose only capabilities are its stdio streams.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/ErDmKo/esbridge/codec"
)

// EnvModulePath points at the esbuild WASI module file. Checked when no
// module bytes or path are configured.
const EnvModulePath = "ESBRIDGE_WASM"

// ModuleName is the filename the locator scans for next to the running
// executable.
const ModuleName = "esbridge.wasm"

var (
	// ErrModuleMissing means the WASI module bytes could not be located.
	ErrModuleMissing = errors.New("sandbox module not found")

	// ErrEmptyResponse means the module exited cleanly without writing
	// anything to its output stream.
	ErrEmptyResponse = errors.New("sandbox returned no data")
)

// ExecutionError reports a sandbox run that ended in a trap or a
// non-zero exit. Output carries whatever the module wrote before dying,
// with diagnostics merged into the result stream.
type ExecutionError struct {
	Output string
	cause  error
}

func (e *ExecutionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("sandbox execution failed: %v", e.cause)
	}
	return fmt.Sprintf("sandbox execution failed: %v\n%s", e.cause, e.Output)
}

func (e *ExecutionError) Unwrap() error { return e.cause }

// Adapter is the sandboxed esbuild backend. The runtime and compiled
// module are immutable after New and support concurrent instantiation,
// so concurrent calls are independent.
type Adapter struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
	cfg      config
}

// New loads the module bytes, sets up the runtime, and compiles the
// module once. Compilation is amortized across calls, not repeated.
func New(opts ...Option) (*Adapter, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	moduleBytes, err := loadModule(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, moduleBytes)
	if err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}

	cfg.logger.Debug("sandbox module compiled", "bytes", len(moduleBytes))

	return &Adapter{runtime: rt, cache: cache, compiled: compiled, cfg: cfg}, nil
}

// loadModule resolves the module bytes from, in order: explicit bytes,
// explicit path, the EnvModulePath variable, and the executable's own
// directory.
func loadModule(cfg config) ([]byte, error) {
	if len(cfg.moduleBytes) > 0 {
		return cfg.moduleBytes, nil
	}

	var candidates []string
	if cfg.modulePath != "" {
		candidates = append(candidates, cfg.modulePath)
	} else {
		if env := os.Getenv(EnvModulePath); env != "" {
			candidates = append(candidates, env)
		}
		if exe, err := os.Executable(); err == nil {
			candidates = append(candidates, filepath.Join(filepath.Dir(exe), ModuleName))
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		cfg.logger.Debug("sandbox module candidate missed", "path", path, "error", err)
	}

	return nil, fmt.Errorf("%w: tried %d locations", ErrModuleMissing, len(candidates))
}

// Transform runs one transform command in a fresh sandbox instance.
func (a *Adapter) Transform(ctx context.Context, code string, options map[string]any) (string, error) {
	payload, err := codec.EncodeSandboxTransform(code, options)
	if err != nil {
		return "", err
	}

	output, err := a.run(ctx, payload)
	if err != nil {
		return "", err
	}

	resp, err := codec.DecodeSandboxResponse(output)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", codec.NewTransformError([]codec.Diagnostic{{Text: resp.Error}})
	}
	return resp.Code, nil
}

// Build runs one build command in a fresh sandbox instance. The module
// writes the bundle to the requested outfile; diagnostics come back on
// the output stream. The instance is granted access to exactly the
// directories holding the entry points and the outfile, nothing else.
func (a *Adapter) Build(ctx context.Context, req codec.BuildRequest) (codec.BuildResult, error) {
	req, mounts, err := buildMounts(req)
	if err != nil {
		return codec.BuildResult{}, err
	}

	payload, err := codec.EncodeSandboxBuild(req)
	if err != nil {
		return codec.BuildResult{}, err
	}

	output, err := a.run(ctx, payload, mounts...)
	if err != nil {
		return codec.BuildResult{}, err
	}

	return codec.DecodeBuildResult(output)
}

// buildMounts rewrites build paths to absolute form and collects the
// unique directories the sandbox must see.
func buildMounts(req codec.BuildRequest) (codec.BuildRequest, []string, error) {
	seen := make(map[string]bool)
	var mounts []string
	add := func(path string) (string, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve build path %s: %w", path, err)
		}
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			mounts = append(mounts, dir)
		}
		return abs, nil
	}

	entries := make([]string, len(req.EntryPoints))
	for i, entry := range req.EntryPoints {
		abs, err := add(entry)
		if err != nil {
			return req, nil, err
		}
		entries[i] = abs
	}
	req.EntryPoints = entries
	if req.Outfile != "" {
		abs, err := add(req.Outfile)
		if err != nil {
			return req, nil, err
		}
		req.Outfile = abs
	}
	return req, mounts, nil
}

// run feeds the request to a fresh module instance and returns the full
// output stream. Transport is in-memory by default; file channels are a
// compatibility mode for runtimes that only accept file-backed stdio.
func (a *Adapter) run(ctx context.Context, request []byte, mounts ...string) ([]byte, error) {
	if a.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.timeout)
		defer cancel()
	}

	if a.cfg.fileChannels {
		return a.runFileChannels(ctx, request, mounts)
	}
	return a.runBuffers(ctx, request, mounts)
}

// withMounts grants the instance access to the given host directories at
// their own paths. No mounts means no filesystem at all.
func withMounts(moduleConfig wazero.ModuleConfig, mounts []string) wazero.ModuleConfig {
	if len(mounts) == 0 {
		return moduleConfig
	}
	fsConfig := wazero.NewFSConfig()
	for _, dir := range mounts {
		fsConfig = fsConfig.WithDirMount(dir, dir)
	}
	return moduleConfig.WithFSConfig(fsConfig)
}

func (a *Adapter) runBuffers(ctx context.Context, request []byte, mounts []string) ([]byte, error) {
	var output bytes.Buffer
	moduleConfig := withMounts(wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(request)).
		WithStdout(&output).
		WithStderr(&output).
		WithArgs("esbridge").
		WithName(""), mounts)

	if err := a.instantiate(ctx, moduleConfig); err != nil {
		return nil, a.execError(ctx, err, output.String())
	}
	if output.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return output.Bytes(), nil
}

func (a *Adapter) runFileChannels(ctx context.Context, request []byte, mounts []string) ([]byte, error) {
	pair, err := newChannelPair(a.cfg.channelDir)
	if err != nil {
		return nil, err
	}
	// Both channel files disappear exactly once, whatever happens below.
	defer pair.cleanup()

	if err := pair.writeRequest(request); err != nil {
		return nil, err
	}

	stdin, err := os.Open(pair.stdinPath)
	if err != nil {
		return nil, fmt.Errorf("open stdin channel: %w", err)
	}
	defer stdin.Close()

	stdout, err := os.OpenFile(pair.stdoutPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open stdout channel: %w", err)
	}

	moduleConfig := withMounts(wazero.NewModuleConfig().
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(stdout). // merged so failure detail lands in one place
		WithArgs("esbridge").
		WithName(""), mounts)

	runErr := a.instantiate(ctx, moduleConfig)
	stdout.Close()

	output, readErr := os.ReadFile(pair.stdoutPath)
	if runErr != nil {
		return nil, a.execError(ctx, runErr, string(output))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read stdout channel: %w", readErr)
	}
	if len(output) == 0 {
		return nil, ErrEmptyResponse
	}
	return output, nil
}

// instantiate runs one fresh instance of the compiled module to
// completion. A clean WASI exit surfaces as an ExitError carrying status
// 0, which is the success path.
func (a *Adapter) instantiate(ctx context.Context, moduleConfig wazero.ModuleConfig) error {
	mod, err := a.runtime.InstantiateModule(ctx, a.compiled, moduleConfig)
	if mod != nil {
		mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return err
	}
	return nil
}

// execError wraps a failed run, attributing context expiry to its
// actual cause so callers can match DeadlineExceeded or Canceled
// through the ExecutionError.
func (a *Adapter) execError(ctx context.Context, err error, output string) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		err = fmt.Errorf("timeout after %v: %w", a.cfg.timeout, context.DeadlineExceeded)
	case context.Canceled:
		err = context.Canceled
	}
	return &ExecutionError{Output: output, cause: err}
}

// Close releases the runtime and the compilation cache.
func (a *Adapter) Close() error {
	ctx := context.Background()

	var errs []error
	if err := a.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

type config struct {
	logger       *slog.Logger
	moduleBytes  []byte
	modulePath   string
	fileChannels bool
	channelDir   string
	timeout      time.Duration
	diskCache    bool
	cacheDir     string
}

func defaultConfig() config {
	return config{
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
}

// Option configures the sandbox adapter.
type Option func(*config)

// WithLogger sets the adapter logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithModuleBytes supplies the WASI module directly, skipping the
// filesystem locator.
func WithModuleBytes(data []byte) Option {
	return func(c *config) {
		c.moduleBytes = data
	}
}

// WithModulePath pins the WASI module to an exact file.
func WithModulePath(path string) Option {
	return func(c *config) {
		c.modulePath = path
	}
}

// WithFileChannels switches the per-call transport to uniquely named
// temporary files instead of in-memory buffers.
func WithFileChannels() Option {
	return func(c *config) {
		c.fileChannels = true
	}
}

// WithChannelDir sets the directory for channel files. Defaults to the
// OS temp directory.
func WithChannelDir(dir string) Option {
	return func(c *config) {
		c.channelDir = dir
	}
}

// WithTimeout bounds each call. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDiskCache enables a persistent compilation cache for faster cold
// starts. Optionally provide a custom directory.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "esbridge")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "esbridge")
	}
	return filepath.Join(os.TempDir(), "esbridge-cache")
}
