//go:build !cgo || !(linux || darwin)

package native

import "fmt"

// open always fails without cgo and a dlopen-capable platform; the
// selector falls through to the sandboxed backend.
func open(path string) (library, error) {
	return nil, fmt.Errorf("load %s: native backend requires cgo on linux or darwin", path)
}
