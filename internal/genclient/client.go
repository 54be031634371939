// Package genclient wraps the remote image/model generation service
// behind a small interface the orchestrator can drive. All transport
// failures (HTTP status, timeout, malformed payload) surface uniformly
// as *GenerationError.
package genclient

import (
	"context"
	"fmt"
)

// Result is one successful generation payload.
type Result struct {
	// Ref identifies the artifact once persisted (object key or path);
	// empty until the approval gate stores it.
	Ref        string  `json:"ref,omitempty"`
	Data       []byte  `json:"-"`
	MIMEType   string  `json:"mimeType,omitempty"`
	Model      string  `json:"model"`
	Seed       int64   `json:"seed"`
	Cost       float64 `json:"cost"`
	DurationMs int64   `json:"durationMs"`
}

// GenerationError carries a human-readable message for a failed call.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Message, e.Cause)
	}
	return "generation failed: " + e.Message
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Client is the generation collaborator. Generate is fire-and-await:
// there is no hard cancel of a call already sent, callers bound it with
// a context deadline and treat expiry as a failed call.
type Client interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*Result, error)
	Close() error
}
