package queue

import (
	"sync"
	"time"

	"assetforge/internal/assetspec"
	"assetforge/internal/genclient"
)

// QueueItem is the mutable per-asset record, one per AssetSpec. It is
// owned exclusively by the Store; external code sees value snapshots.
type QueueItem struct {
	Asset        assetspec.AssetSpec
	State        ItemState
	CustomPrompt string
	Attempts     int
}

// Store holds the QueueItem map behind a mutex. It is the only mutable
// shared state in the package; every mutation goes through a transition
// method so the state-machine invariants hold for any concurrent
// observer (no partial state is ever visible).
type Store struct {
	mu    sync.Mutex
	order []string
	items map[string]*QueueItem
}

// NewStore creates one QueueItem per spec, all pending, in plan order.
func NewStore(specs []assetspec.AssetSpec) *Store {
	s := &Store{items: make(map[string]*QueueItem, len(specs))}
	for _, spec := range specs {
		s.order = append(s.order, spec.ID)
		s.items[spec.ID] = &QueueItem{Asset: spec, State: Pending{}}
	}
	return s
}

// Order returns the asset ids in plan order.
func (s *Store) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len is the batch total.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Get returns a value snapshot of one item.
func (s *Store) Get(id string) (QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return QueueItem{}, false
	}
	return *it, true
}

// Snapshot returns value copies of all items in plan order.
func (s *Store) Snapshot() []QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// Counts tallies items per phase. The sum always equals Len.
func (s *Store) Counts() map[Phase]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Phase]int, 6)
	for _, it := range s.items {
		counts[it.State.Phase()]++
	}
	return counts
}

// BeginGeneration moves an item into generating and bumps its attempt
// counter. The current phase must be one of from.
func (s *Store) BeginGeneration(id string, from ...Phase) (QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return QueueItem{}, ErrUnknownAsset
	}
	cur := it.State.Phase()
	if !phaseIn(cur, from) {
		return QueueItem{}, &InvalidTransitionError{Op: "generate", AssetID: id, State: string(cur)}
	}
	it.State = Generating{StartedAt: time.Now()}
	it.Attempts++
	return *it, nil
}

// CompleteGeneration moves generating → awaiting_approval with the
// result attached.
func (s *Store) CompleteGeneration(id string, res *genclient.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrUnknownAsset
	}
	if it.State.Phase() != PhaseGenerating {
		return &InvalidTransitionError{Op: "complete", AssetID: id, State: string(it.State.Phase())}
	}
	it.State = AwaitingApproval{Result: res}
	return nil
}

// FailGeneration moves generating → error.
func (s *Store) FailGeneration(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrUnknownAsset
	}
	if it.State.Phase() != PhaseGenerating {
		return &InvalidTransitionError{Op: "fail", AssetID: id, State: string(it.State.Phase())}
	}
	it.State = Failed{Message: message, At: time.Now()}
	return nil
}

// PendingResult returns the result awaiting review without changing
// state, so approval-time persistence can fail and be retried without
// regenerating.
func (s *Store) PendingResult(id string) (*genclient.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrUnknownAsset
	}
	st, ok := it.State.(AwaitingApproval)
	if !ok {
		return nil, &InvalidTransitionError{Op: "approve", AssetID: id, State: string(it.State.Phase())}
	}
	return st.Result, nil
}

// MarkApproved moves awaiting_approval → approved after the persister
// succeeded, recording where the artifact landed.
func (s *Store) MarkApproved(id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrUnknownAsset
	}
	st, ok := it.State.(AwaitingApproval)
	if !ok {
		return &InvalidTransitionError{Op: "approve", AssetID: id, State: string(it.State.Phase())}
	}
	res := st.Result
	if res != nil {
		cp := *res
		cp.Ref = ref
		res = &cp
	}
	it.State = Approved{Result: res, Ref: ref}
	return nil
}

// Reject moves awaiting_approval → rejected. Nothing is persisted and
// nothing auto-retries.
func (s *Store) Reject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrUnknownAsset
	}
	st, ok := it.State.(AwaitingApproval)
	if !ok {
		return &InvalidTransitionError{Op: "reject", AssetID: id, State: string(it.State.Phase())}
	}
	it.State = Rejected{Result: st.Result}
	return nil
}

// SetCustomPrompt stores a user prompt override for the next attempt.
// Allowed in any non-generating state.
func (s *Store) SetCustomPrompt(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrUnknownAsset
	}
	if it.State.Phase() == PhaseGenerating {
		return &InvalidTransitionError{Op: "update prompt", AssetID: id, State: string(PhaseGenerating)}
	}
	it.CustomPrompt = text
	return nil
}

func phaseIn(p Phase, set []Phase) bool {
	for _, q := range set {
		if p == q {
			return true
		}
	}
	return false
}
