package queue

import (
	"errors"
	"fmt"
)

// ErrUnknownAsset is returned when an operation names an id the batch
// does not contain.
var ErrUnknownAsset = errors.New("queue: unknown asset id")

// InvalidTransitionError reports an operation invoked on an item (or
// the batch) in an incompatible state. This is a programming-contract
// violation on the caller's side; it is surfaced loudly instead of
// silently no-opping so integration bugs show up early.
type InvalidTransitionError struct {
	Op      string
	AssetID string // empty for batch-level operations
	State   string
}

func (e *InvalidTransitionError) Error() string {
	if e.AssetID == "" {
		return fmt.Sprintf("queue: %s not allowed while batch is %s", e.Op, e.State)
	}
	return fmt.Sprintf("queue: %s not allowed for %s in state %s", e.Op, e.AssetID, e.State)
}
