package esbridge

import (
	"context"

	"github.com/ErDmKo/esbridge/codec"
)

// Kind identifies which backend a Client selected.
type Kind int

const (
	// KindNone means neither backend could be initialized.
	KindNone Kind = iota
	// KindNative is the shared-library backend.
	KindNative
	// KindSandboxed is the WASI fallback backend.
	KindSandboxed
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindSandboxed:
		return "sandboxed"
	default:
		return "none"
	}
}

// Backend is the call surface both adapters implement. The variant is
// fixed at construction time; calls after selection are stateless with
// respect to each other and safe to run concurrently.
type Backend interface {
	Transform(ctx context.Context, code string, options map[string]any) (string, error)
	Build(ctx context.Context, req codec.BuildRequest) (codec.BuildResult, error)
	Close() error
}
