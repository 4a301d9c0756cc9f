package sandbox

import (
	"fmt"
	"os"
	"sync"
)

// channelPair is the file-backed stdio transport for one call: a request
// file fed to the module as stdin and an output file receiving stdout
// and stderr. os.CreateTemp guarantees the names are unique, so
// concurrent calls never collide.
type channelPair struct {
	stdinPath  string
	stdoutPath string
	once       sync.Once
}

func newChannelPair(dir string) (*channelPair, error) {
	stdin, err := os.CreateTemp(dir, "esbridge-in-*.json")
	if err != nil {
		return nil, fmt.Errorf("create stdin channel: %w", err)
	}
	stdin.Close()

	stdout, err := os.CreateTemp(dir, "esbridge-out-*.json")
	if err != nil {
		os.Remove(stdin.Name())
		return nil, fmt.Errorf("create stdout channel: %w", err)
	}
	stdout.Close()

	return &channelPair{stdinPath: stdin.Name(), stdoutPath: stdout.Name()}, nil
}

// writeRequest stores the full request and closes the file so the
// sandbox can read it from offset zero.
func (p *channelPair) writeRequest(data []byte) error {
	if err := os.WriteFile(p.stdinPath, data, 0o600); err != nil {
		return fmt.Errorf("write stdin channel: %w", err)
	}
	return nil
}

// cleanup removes both files. Idempotent: the pair is deleted exactly
// once per call regardless of outcome.
func (p *channelPair) cleanup() {
	p.once.Do(func() {
		os.Remove(p.stdinPath)
		os.Remove(p.stdoutPath)
	})
}
