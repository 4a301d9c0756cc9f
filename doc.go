// Package esbridge invokes esbuild through whichever of two backends is
// available: a native shared library called across the C ABI, or a WASI
// module run inside a wazero sandbox.
//
// # Overview
//
// A Client picks its backend once, at construction: native first, then
// the sandboxed fallback, else none. Per-call failures surface as
// errors; a missing backend never crashes the process.
//
// # Basic Usage
//
//	client := esbridge.New()
//	defer client.Close()
//
//	js, err := client.Transform(ctx, "const x: number = 1;",
//	    map[string]any{"loader": "ts"})
//
// # Bundling
//
//	result, err := client.Build(ctx, codec.BuildRequest{
//	    EntryPoints: []string{"app.js"},
//	    Outfile:     "bundle.js",
//	})
//
// # Backend selection
//
// Selection runs exactly once per Client. Inspect the outcome with
// [Client.ActiveBackend]; rerun it after an environment change with
// [Client.Reinitialize]. When both backends are unavailable every call
// returns [ErrBackendUnavailable] until a re-initialization succeeds.
//
// See the [github.com/ErDmKo/esbridge/native],
// [github.com/ErDmKo/esbridge/sandbox], and
// [github.com/ErDmKo/esbridge/codec] packages for the backend details.
package esbridge
