// Package queue owns the per-item generation state machine and the
// batch orchestrator that drives work-items through generation, the
// human approval gate, and user-initiated retries.
package queue

import (
	"time"

	"assetforge/internal/genclient"
)

// Phase names one state of the per-item machine.
type Phase string

const (
	PhasePending          Phase = "pending"
	PhaseGenerating       Phase = "generating"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseApproved         Phase = "approved"
	PhaseRejected         Phase = "rejected"
	PhaseError            Phase = "error"
)

// ItemState is the closed tagged union of per-item states:
//
//	pending → generating → awaiting_approval → {approved | rejected}
//	generating → error, error → generating (user retry)
//
// Only generating performs asynchronous work; every other state is
// stable. Consumers switch on the concrete type and must stay
// exhaustive.
type ItemState interface {
	Phase() Phase
}

// Pending is the initial state: queued, not yet offered to the pool.
type Pending struct{}

func (Pending) Phase() Phase { return PhasePending }

// Generating marks an outstanding generation call.
type Generating struct {
	StartedAt time.Time
}

func (Generating) Phase() Phase { return PhaseGenerating }

// AwaitingApproval holds a successful result pending human review.
type AwaitingApproval struct {
	Result *genclient.Result
}

func (AwaitingApproval) Phase() Phase { return PhaseAwaitingApproval }

// Approved is terminal: the result passed review and was persisted.
type Approved struct {
	Result *genclient.Result
	// Ref is where the persister stored the artifact.
	Ref string
}

func (Approved) Phase() Phase { return PhaseApproved }

// Rejected is terminal for the pass: reviewed and declined, nothing
// persisted. A reject never auto-retries.
type Rejected struct {
	Result *genclient.Result
}

func (Rejected) Phase() Phase { return PhaseRejected }

// Failed records a generation failure. Stable until the user
// regenerates.
type Failed struct {
	Message string
	At      time.Time
}

func (Failed) Phase() Phase { return PhaseError }

// BatchState is the batch-level machine:
// idle → generating → {paused | completed}, paused → generating.
// completed is terminal for the batch even when a single item is later
// regenerated.
type BatchState string

const (
	BatchIdle       BatchState = "idle"
	BatchGenerating BatchState = "generating"
	BatchPaused     BatchState = "paused"
	BatchCompleted  BatchState = "completed"
)
