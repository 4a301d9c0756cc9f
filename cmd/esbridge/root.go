package main

import (
	"fmt"
	"log/slog"
	"os"

	esbridge "github.com/ErDmKo/esbridge"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "esbridge",
	Short: "Transform and bundle JavaScript/TypeScript via esbuild",
	Long: `esbridge - esbuild dispatch with a native library and a WASI fallback.

The native shared library is used when it can be resolved and loaded;
otherwise calls run inside a sandboxed WebAssembly module. Which backend
is active is reported by every command when --verbose is set.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the esbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "esbridge %s\n", version)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("library", "", "Path to the native shared library")
	rootCmd.PersistentFlags().String("wasm", "", "Path to the esbuild WASI module")
	rootCmd.PersistentFlags().Bool("file-channels", false, "Use file-backed sandbox stdio instead of in-memory buffers")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Per-call timeout for sandboxed execution (0 = config default)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// setupLogger builds the process logger from the --verbose flag.
func setupLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig merges the YAML/env config with command-line overrides.
func loadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")

	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, err
	}

	if library, _ := flags.GetString("library"); library != "" {
		cfg.Library = library
	}
	if wasm, _ := flags.GetString("wasm"); wasm != "" {
		cfg.Module = wasm
	}
	if fileChannels, _ := flags.GetBool("file-channels"); fileChannels {
		cfg.FileChannels = true
	}
	if timeout, _ := flags.GetDuration("timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg, nil
}

// newClient builds the backend client shared by all commands.
func newClient(cmd *cobra.Command) (*esbridge.Client, error) {
	log := setupLogger(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	opts := []esbridge.Option{
		esbridge.WithLogger(log),
		esbridge.WithTimeout(cfg.Timeout),
	}
	if cfg.Library != "" {
		opts = append(opts, esbridge.WithLibraryPath(cfg.Library))
	}
	if cfg.Module != "" {
		opts = append(opts, esbridge.WithModulePath(cfg.Module))
	}
	if cfg.FileChannels {
		opts = append(opts, esbridge.WithFileChannels())
	}
	if cfg.CacheDir != "" {
		opts = append(opts, esbridge.WithDiskCache(cfg.CacheDir))
	}

	client := esbridge.New(opts...)
	log.Debug("backend selected", "backend", client.ActiveBackend().String())
	return client, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
