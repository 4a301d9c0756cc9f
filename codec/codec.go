// Package codec implements the JSON envelopes shared by the native and
// sandboxed esbuild backends. Both backends encode requests and decode
// responses through this package so their wire behavior stays identical.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultLoader is injected into transform options when the caller does
// not pick a loader. Matches the upstream binding default.
const DefaultLoader = "jsx"

// Diagnostic is one error or warning reported by esbuild. Only Text is
// guaranteed; the remaining fields mirror esbuild's api.Message shape and
// may be absent depending on the backend.
type Diagnostic struct {
	Text     string          `json:"text"`
	Location json.RawMessage `json:"location,omitempty"`
	Notes    json.RawMessage `json:"notes,omitempty"`
}

// TransformRequest is the native-path request envelope.
type TransformRequest struct {
	Code    string         `json:"code"`
	Options map[string]any `json:"options"`
}

// TransformResponse is the native-path response envelope.
type TransformResponse struct {
	Code     string       `json:"code"`
	Errors   []Diagnostic `json:"errors"`
	Warnings []Diagnostic `json:"warnings"`
}

// BuildRequest names the entry points to bundle and the output file the
// backend should write.
type BuildRequest struct {
	EntryPoints []string `json:"EntryPoints"`
	Outfile     string   `json:"Outfile"`
}

// BuildResult holds the diagnostics of a completed build. Errors and
// Warnings are never nil so they serialize as [] rather than null.
type BuildResult struct {
	Errors   []Diagnostic `json:"errors"`
	Warnings []Diagnostic `json:"warnings"`
}

// sandboxRequest is the sandbox-path request envelope. The command
// discriminator leaves room for commands beyond transform and build.
type sandboxRequest struct {
	Command string         `json:"command"`
	Input   string         `json:"input,omitempty"`
	Options map[string]any `json:"options,omitempty"`
	Build   *BuildRequest  `json:"BuildOptions,omitempty"`
}

// SandboxResponse is the sandbox-path transform response: either a code
// field or a single pre-joined error string.
type SandboxResponse struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

// TransformError reports diagnostics returned by the compiler itself, as
// opposed to a failure of the backend machinery.
type TransformError struct {
	Diagnostics []Diagnostic
}

func (e *TransformError) Error() string {
	texts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Text == "" {
			texts = append(texts, "unknown error")
			continue
		}
		texts = append(texts, d.Text)
	}
	return "transform failed: " + strings.Join(texts, ", ")
}

// NewTransformError wraps compiler diagnostics in a TransformError.
func NewTransformError(diags []Diagnostic) *TransformError {
	return &TransformError{Diagnostics: diags}
}

// NormalizeOptions returns a copy of options with the default loader
// injected when the caller omitted one. The input map is never mutated;
// requests are call-scoped and must not alias caller state.
func NormalizeOptions(options map[string]any) map[string]any {
	normalized := make(map[string]any, len(options)+1)
	for k, v := range options {
		normalized[k] = v
	}
	if _, ok := normalized["loader"]; !ok {
		normalized["loader"] = DefaultLoader
	}
	return normalized
}

// EncodeTransformRequest builds the native-path envelope.
func EncodeTransformRequest(code string, options map[string]any) ([]byte, error) {
	req := TransformRequest{Code: code, Options: NormalizeOptions(options)}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode transform request: %w", err)
	}
	return data, nil
}

// EncodeSandboxTransform builds the sandbox-path transform envelope.
func EncodeSandboxTransform(code string, options map[string]any) ([]byte, error) {
	req := sandboxRequest{
		Command: "transform",
		Input:   code,
		Options: NormalizeOptions(options),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox request: %w", err)
	}
	return data, nil
}

// EncodeNativeBuild builds the request passed to the native library's
// optional build export.
func EncodeNativeBuild(req BuildRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode build request: %w", err)
	}
	return data, nil
}

// EncodeSandboxBuild builds the sandbox-path build envelope. The nested
// key casing is fixed by the shipped wasm module's unmarshal contract.
func EncodeSandboxBuild(req BuildRequest) ([]byte, error) {
	env := sandboxRequest{Command: "build", Build: &req}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox build request: %w", err)
	}
	return data, nil
}

// DecodeTransformResponse parses the native-path response envelope.
func DecodeTransformResponse(data []byte) (TransformResponse, error) {
	var resp TransformResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return TransformResponse{}, fmt.Errorf("decode transform response: %w", err)
	}
	return resp, nil
}

// DecodeSandboxResponse parses the sandbox-path transform response.
func DecodeSandboxResponse(data []byte) (SandboxResponse, error) {
	var resp SandboxResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return SandboxResponse{}, fmt.Errorf("decode sandbox response: %w", err)
	}
	return resp, nil
}

// DecodeBuildResult parses a build response from either backend and
// guarantees non-nil diagnostic slices.
func DecodeBuildResult(data []byte) (BuildResult, error) {
	var resp struct {
		Error    string       `json:"error,omitempty"`
		Errors   []Diagnostic `json:"errors"`
		Warnings []Diagnostic `json:"warnings"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return BuildResult{}, fmt.Errorf("decode build result: %w", err)
	}
	if resp.Error != "" {
		return BuildResult{}, NewTransformError([]Diagnostic{{Text: resp.Error}})
	}
	result := BuildResult{Errors: resp.Errors, Warnings: resp.Warnings}
	if result.Errors == nil {
		result.Errors = make([]Diagnostic, 0)
	}
	if result.Warnings == nil {
		result.Warnings = make([]Diagnostic, 0)
	}
	return result, nil
}
