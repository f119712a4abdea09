package pve

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeRunner is a Runner for tests. Responses are keyed by the full
// command line; unmatched commands fail loudly so tests notice argument
// drift.
type fakeRunner struct {
	mu sync.Mutex

	// responses maps "name arg1 arg2 ..." to canned output.
	responses map[string]fakeResponse

	// calls records every command line executed.
	calls []string
}

type fakeResponse struct {
	out []byte
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]fakeResponse)}
}

func (f *fakeRunner) on(cmdline string, out string, err error) {
	f.responses[cmdline] = fakeResponse{out: []byte(out), err: err}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmdline := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmdline)

	if resp, ok := f.responses[cmdline]; ok {
		return resp.out, resp.err
	}
	return nil, fmt.Errorf("fakeRunner: unexpected command: %s", cmdline)
}

func (f *fakeRunner) called(cmdline string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == cmdline {
			return true
		}
	}
	return false
}
