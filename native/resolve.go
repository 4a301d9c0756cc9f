package native

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// EnvLibraryPath lists extra directories to scan for the shared library,
// separated by the OS path list separator.
const EnvLibraryPath = "ESBRIDGE_LIBRARY_PATH"

type config struct {
	logger      *slog.Logger
	libraryPath string
	searchDirs  []string
}

func defaultConfig() config {
	return config{logger: slog.Default()}
}

// Option configures the native adapter.
type Option func(*config)

// WithLogger sets the adapter logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithLibraryPath pins the shared library to an exact file, skipping the
// search entirely.
func WithLibraryPath(path string) Option {
	return func(c *config) {
		c.libraryPath = path
	}
}

// WithSearchDirs appends directories to scan after the primary location.
func WithSearchDirs(dirs ...string) Option {
	return func(c *config) {
		c.searchDirs = append(c.searchDirs, dirs...)
	}
}

// LibraryName returns the platform-specific filename of the native
// esbuild library.
func LibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libesbridge.dylib"
	case "windows":
		return "esbridge.dll"
	default:
		return "libesbridge.so"
	}
}

// resolve finds the shared library file. The directory holding the
// running executable is the primary location; installed search dirs are
// scanned afterwards, mirroring how the build step ships the artifact
// next to the binary.
func resolve(cfg config) (string, error) {
	if cfg.libraryPath != "" {
		if _, err := os.Stat(cfg.libraryPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, cfg.libraryPath)
		}
		return cfg.libraryPath, nil
	}

	name := LibraryName()
	var dirs []string

	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}
	dirs = append(dirs, cfg.searchDirs...)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		cfg.logger.Debug("checking for native library", "path", candidate)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no %s in %d search dirs", ErrLibraryNotFound, name, len(dirs))
}
