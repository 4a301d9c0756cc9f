package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ErDmKo/esbridge/codec"
	"github.com/ErDmKo/esbridge/sandbox"
)

// emptyWasm is a syntactically valid module with no exports. It
// instantiates, runs nothing, and produces no output.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// trapWasm exports a _start that immediately hits unreachable.
var trapWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic + version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
	0x03, 0x02, 0x01, 0x00, // func 0 uses type 0
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00, // export "_start"
	0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b, // body: unreachable
}

// loopWasm exports a _start that spins forever; only the runtime's
// context watchdog can stop it.
var loopWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic + version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
	0x03, 0x02, 0x01, 0x00, // func 0 uses type 0
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00, // export "_start"
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b, // body: loop { br 0 }
}

// exitWasm exports a _start that calls wasi proc_exit(0): the clean-exit
// success path, reported by the runtime as a status-0 exit.
var exitWasm = buildExitWasm(0)

// exitOneWasm calls proc_exit(1).
var exitOneWasm = buildExitWasm(1)

func buildExitWasm(status byte) []byte {
	mod := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00, // types: (i32)->(), ()->()
	}
	imp := []byte{0x02, 0x24, 0x01, 0x16}
	imp = append(imp, []byte("wasi_snapshot_preview1")...)
	imp = append(imp, 0x09)
	imp = append(imp, []byte("proc_exit")...)
	imp = append(imp, 0x00, 0x00) // func import, type 0
	mod = append(mod, imp...)
	mod = append(mod, 0x03, 0x02, 0x01, 0x01) // func 1 uses type 1
	mod = append(mod, 0x07, 0x0a, 0x01, 0x06)
	mod = append(mod, []byte("_start")...)
	mod = append(mod, 0x00, 0x01) // export func index 1
	mod = append(mod, 0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, status, 0x10, 0x00, 0x0b)
	return mod
}

func newAdapter(t *testing.T, wasm []byte, opts ...sandbox.Option) *sandbox.Adapter {
	t.Helper()
	a, err := sandbox.New(append([]sandbox.Option{sandbox.WithModuleBytes(wasm)}, opts...)...)
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewMissingModule(t *testing.T) {
	_, err := sandbox.New(sandbox.WithModulePath(filepath.Join(t.TempDir(), "nope.wasm")))
	if !errors.Is(err, sandbox.ErrModuleMissing) {
		t.Fatalf("expected ErrModuleMissing, got %v", err)
	}
}

func TestNewLocatorFindsNothing(t *testing.T) {
	t.Setenv(sandbox.EnvModulePath, "")
	_, err := sandbox.New()
	if !errors.Is(err, sandbox.ErrModuleMissing) {
		t.Fatalf("expected ErrModuleMissing, got %v", err)
	}
}

func TestNewReadsModuleFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "esbridge.wasm")
	if err := os.WriteFile(path, emptyWasm, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(sandbox.EnvModulePath, path)

	a, err := sandbox.New()
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	a.Close()
}

func TestSilentModuleIsEmptyResponse(t *testing.T) {
	a := newAdapter(t, emptyWasm)
	_, err := a.Transform(context.Background(), "let x = 1", nil)
	if !errors.Is(err, sandbox.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCleanExitWithoutOutput(t *testing.T) {
	// proc_exit(0) must be treated as success, leaving only the empty
	// output to complain about.
	a := newAdapter(t, exitWasm)
	_, err := a.Transform(context.Background(), "let x = 1", nil)
	if !errors.Is(err, sandbox.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNonZeroExitIsExecutionError(t *testing.T) {
	a := newAdapter(t, exitOneWasm)
	_, err := a.Transform(context.Background(), "let x = 1", nil)
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestTrapIsExecutionError(t *testing.T) {
	a := newAdapter(t, trapWasm)
	_, err := a.Transform(context.Background(), "let x = 1", nil)
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestTimeoutIsExecutionError(t *testing.T) {
	a := newAdapter(t, loopWasm, sandbox.WithTimeout(100*time.Millisecond))
	_, err := a.Transform(context.Background(), "let x = 1", nil)
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout cause lost: %v", err)
	}
	if !strings.Contains(err.Error(), "timeout after") {
		t.Errorf("timeout not reported: %v", err)
	}
}

func TestCanceledContextIsExecutionError(t *testing.T) {
	a := newAdapter(t, loopWasm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Transform(ctx, "let x = 1", nil)
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation cause lost: %v", err)
	}
	if strings.Contains(err.Error(), "timeout after") {
		t.Errorf("cancellation misreported as a timeout: %v", err)
	}
}

func channelFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileChannelsCleanedUpOnEmptyResponse(t *testing.T) {
	dir := t.TempDir()
	a := newAdapter(t, emptyWasm, sandbox.WithFileChannels(), sandbox.WithChannelDir(dir))

	if _, err := a.Transform(context.Background(), "let x = 1", nil); !errors.Is(err, sandbox.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if left := channelFiles(t, dir); len(left) != 0 {
		t.Errorf("channel files leaked: %v", left)
	}
}

func TestFileChannelsCleanedUpOnExecutionFailure(t *testing.T) {
	dir := t.TempDir()
	a := newAdapter(t, trapWasm, sandbox.WithFileChannels(), sandbox.WithChannelDir(dir))

	var execErr *sandbox.ExecutionError
	if _, err := a.Transform(context.Background(), "let x = 1", nil); !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if left := channelFiles(t, dir); len(left) != 0 {
		t.Errorf("channel files leaked: %v", left)
	}
}

func TestConcurrentCallsShareNothing(t *testing.T) {
	dir := t.TempDir()
	a := newAdapter(t, emptyWasm, sandbox.WithFileChannels(), sandbox.WithChannelDir(dir))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Transform(context.Background(), "let x = 1", nil)
			if !errors.Is(err, sandbox.ErrEmptyResponse) {
				t.Errorf("expected ErrEmptyResponse, got %v", err)
			}
		}()
	}
	wg.Wait()

	if left := channelFiles(t, dir); len(left) != 0 {
		t.Errorf("channel files leaked after concurrent calls: %v", left)
	}
}

// =============================================================================
// INTEGRATION TESTS (need the real esbuild WASI module)
// =============================================================================

func realAdapter(t *testing.T, opts ...sandbox.Option) *sandbox.Adapter {
	t.Helper()
	if os.Getenv(sandbox.EnvModulePath) == "" {
		t.Skipf("%s not set; skipping integration test", sandbox.EnvModulePath)
	}
	a, err := sandbox.New(append([]sandbox.Option{sandbox.WithTimeout(2 * time.Minute)}, opts...)...)
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestTransformStripsTypeAnnotations(t *testing.T) {
	a := realAdapter(t)

	code, err := a.Transform(context.Background(), "const x: number = 1;", map[string]any{"loader": "ts"})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if strings.Contains(code, ": number") {
		t.Errorf("type annotation survived: %q", code)
	}
	if !strings.Contains(code, "x = 1") {
		t.Errorf("assignment lost: %q", code)
	}
}

func TestTransformInvalidInput(t *testing.T) {
	a := realAdapter(t)

	_, err := a.Transform(context.Background(), "const x = ;", map[string]any{"loader": "js"})
	var terr *codec.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransformError, got %v", err)
	}
	if terr.Error() == "" {
		t.Error("diagnostic message is empty")
	}
}

func TestBuildBundlesTwoFiles(t *testing.T) {
	a := realAdapter(t)

	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.js")
	entry := filepath.Join(dir, "app.js")
	out := filepath.Join(dir, "bundle.js")

	if err := os.WriteFile(lib, []byte("export const getMessage = () => 'Hello from lib';"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte("import { getMessage } from './lib.js'; console.log(getMessage());"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := a.Build(context.Background(), codec.BuildRequest{
		EntryPoints: []string{entry},
		Outfile:     out,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(result.Errors) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("expected clean build, got errors=%v warnings=%v", result.Errors, result.Warnings)
	}

	bundle, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("bundle not written: %v", err)
	}
	content := string(bundle)
	for _, want := range []string{"Hello from lib", "console.log", "lib.js", "app.js"} {
		if !strings.Contains(content, want) {
			t.Errorf("bundle missing %q", want)
		}
	}
}

func TestFileChannelsCleanedUpOnSuccess(t *testing.T) {
	dir := t.TempDir()
	a := realAdapter(t, sandbox.WithFileChannels(), sandbox.WithChannelDir(dir))

	if _, err := a.Transform(context.Background(), "let x = 1", nil); err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if left := channelFiles(t, dir); len(left) != 0 {
		t.Errorf("channel files leaked: %v", left)
	}
}
