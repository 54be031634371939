package genclient

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// FakeClient returns deterministic results for offline runs and tests.
// Failures and latency are scriptable per prompt substring.
type FakeClient struct {
	mu      sync.Mutex
	calls   int
	failOn  map[string]string // prompt substring -> error message
	latency time.Duration
}

func NewFakeClient() *FakeClient {
	return &FakeClient{failOn: make(map[string]string)}
}

// FailWhenContains makes Generate fail for any prompt containing sub.
func (f *FakeClient) FailWhenContains(sub, message string) {
	f.mu.Lock()
	f.failOn[sub] = message
	f.mu.Unlock()
}

// SetLatency adds a fixed delay to every call.
func (f *FakeClient) SetLatency(d time.Duration) {
	f.mu.Lock()
	f.latency = d
	f.mu.Unlock()
}

// Calls reports how many Generate calls were made.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Name() string { return "FakeGen" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) Generate(ctx context.Context, prompt string) (*Result, error) {
	f.mu.Lock()
	f.calls++
	latency := f.latency
	var failMsg string
	for sub, msg := range f.failOn {
		if sub != "" && strings.Contains(prompt, sub) {
			failMsg = msg
			break
		}
	}
	f.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, &GenerationError{Message: "call timed out", Cause: ctx.Err()}
		}
	}
	if failMsg != "" {
		return nil, &GenerationError{Message: failMsg}
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	return &Result{
		Data:       []byte("fake-image:" + prompt[:min(len(prompt), 32)]),
		MIMEType:   "image/png",
		Model:      "fake-gen-v1",
		Seed:       int64(h.Sum64() & 0x7fffffff),
		Cost:       0,
		DurationMs: latency.Milliseconds(),
	}, nil
}
