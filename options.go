package esbridge

import (
	"log/slog"
	"time"

	"github.com/ErDmKo/esbridge/native"
	"github.com/ErDmKo/esbridge/sandbox"
)

type config struct {
	logger *slog.Logger

	libraryPath string
	searchDirs  []string

	moduleBytes  []byte
	modulePath   string
	fileChannels bool
	channelDir   string
	timeout      time.Duration
	diskCache    bool
	cacheDir     string
}

func defaultClientConfig() config {
	return config{
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
}

func (c *Client) nativeOptions() []native.Option {
	opts := []native.Option{native.WithLogger(c.cfg.logger)}
	if c.cfg.libraryPath != "" {
		opts = append(opts, native.WithLibraryPath(c.cfg.libraryPath))
	}
	if len(c.cfg.searchDirs) > 0 {
		opts = append(opts, native.WithSearchDirs(c.cfg.searchDirs...))
	}
	return opts
}

func (c *Client) sandboxOptions() []sandbox.Option {
	opts := []sandbox.Option{
		sandbox.WithLogger(c.cfg.logger),
		sandbox.WithTimeout(c.cfg.timeout),
	}
	if len(c.cfg.moduleBytes) > 0 {
		opts = append(opts, sandbox.WithModuleBytes(c.cfg.moduleBytes))
	}
	if c.cfg.modulePath != "" {
		opts = append(opts, sandbox.WithModulePath(c.cfg.modulePath))
	}
	if c.cfg.fileChannels {
		opts = append(opts, sandbox.WithFileChannels())
	}
	if c.cfg.channelDir != "" {
		opts = append(opts, sandbox.WithChannelDir(c.cfg.channelDir))
	}
	if c.cfg.diskCache {
		opts = append(opts, sandbox.WithDiskCache(c.cfg.cacheDir))
	}
	return opts
}

// Option configures a Client.
type Option func(*config)

// WithLogger sets the logger used by the Client and both adapters.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithLibraryPath pins the native shared library to an exact file.
func WithLibraryPath(path string) Option {
	return func(c *config) {
		c.libraryPath = path
	}
}

// WithLibrarySearchDirs appends directories scanned for the native
// library after the executable's own directory.
func WithLibrarySearchDirs(dirs ...string) Option {
	return func(c *config) {
		c.searchDirs = append(c.searchDirs, dirs...)
	}
}

// WithModuleBytes supplies the sandbox WASI module directly.
func WithModuleBytes(data []byte) Option {
	return func(c *config) {
		c.moduleBytes = data
	}
}

// WithModulePath pins the sandbox WASI module to an exact file.
func WithModulePath(path string) Option {
	return func(c *config) {
		c.modulePath = path
	}
}

// WithFileChannels makes the sandbox communicate through uniquely named
// temporary files instead of in-memory buffers.
func WithFileChannels() Option {
	return func(c *config) {
		c.fileChannels = true
	}
}

// WithChannelDir sets the directory for sandbox channel files.
func WithChannelDir(dir string) Option {
	return func(c *config) {
		c.channelDir = dir
	}
}

// WithTimeout bounds each sandboxed call. Zero disables the limit.
// Native calls are synchronous foreign calls and cannot be interrupted.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDiskCache enables the sandbox's persistent compilation cache.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}
