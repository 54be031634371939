package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assetforge/internal/activity"
	"assetforge/internal/genclient"
	"assetforge/internal/prompt"
)

// Persister stores an approved result and returns a reference to where
// it landed. Invoked only on approval.
type Persister interface {
	Persist(ctx context.Context, assetID string, res *genclient.Result) (ref string, err error)
}

// Config tunes one batch run.
type Config struct {
	BatchID string
	// MaxConcurrent bounds outstanding generation calls (clamped to at
	// least 1). A single slow call must not stall the queue beyond its
	// own slot.
	MaxConcurrent int
	// CallTimeout bounds one generation call; expiry is recorded as an
	// error transition, never a silent drop. Zero disables the bound.
	CallTimeout time.Duration
	Style       prompt.StyleContext
}

// Orchestrator drives one batch of QueueItems through generation and
// the approval gate. All retries are user-initiated: nothing in here
// retries automatically, and one item's failure never aborts the batch.
type Orchestrator struct {
	batchID   string
	store     *Store
	builder   prompt.Builder
	client    genclient.Client
	persister Persister
	log       *activity.Log

	callTimeout time.Duration
	style       prompt.StyleContext
	sem         chan struct{}

	mu         sync.Mutex
	batch      BatchState
	resumeCh   chan struct{}
	startedAt  time.Time
	maxPercent float64
	eta        time.Duration
	etaAt      time.Time
	done       chan struct{}
}

// New builds an idle orchestrator over the parsed specs' store.
func New(store *Store, builder prompt.Builder, client genclient.Client, persister Persister, log *activity.Log, cfg Config) *Orchestrator {
	n := cfg.MaxConcurrent
	if n < 1 {
		n = 1
	}
	return &Orchestrator{
		batchID:     cfg.BatchID,
		store:       store,
		builder:     builder,
		client:      client,
		persister:   persister,
		log:         log,
		callTimeout: cfg.CallTimeout,
		style:       cfg.Style,
		sem:         make(chan struct{}, n),
		batch:       BatchIdle,
		done:        make(chan struct{}),
	}
}

func (o *Orchestrator) BatchID() string { return o.batchID }

// Done is closed once the batch reaches completed.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Item returns a value snapshot of one queue item.
func (o *Orchestrator) Item(id string) (QueueItem, bool) { return o.store.Get(id) }

// Items returns value snapshots of every item in plan order.
func (o *Orchestrator) Items() []QueueItem { return o.store.Snapshot() }

// Start transitions the batch to generating and begins offering pending
// items to the worker pool in plan order. Valid only from idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.batch != BatchIdle {
		st := o.batch
		o.mu.Unlock()
		return &InvalidTransitionError{Op: "start", State: string(st)}
	}
	o.batch = BatchGenerating
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.log.Append(activity.LevelInfo,
		fmt.Sprintf("batch %s: generation started (%d assets, %d slots)", o.batchID, o.store.Len(), cap(o.sem)), "")
	go o.run(ctx)
	return nil
}

// Pause stops offering new items; in-flight calls finish naturally.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.batch != BatchGenerating {
		st := o.batch
		o.mu.Unlock()
		return &InvalidTransitionError{Op: "pause", State: string(st)}
	}
	o.batch = BatchPaused
	o.resumeCh = make(chan struct{})
	o.mu.Unlock()

	o.log.Append(activity.LevelInfo, "batch paused; in-flight generations will finish", "")
	return nil
}

// Resume re-opens the queue after a pause.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if o.batch != BatchPaused {
		st := o.batch
		o.mu.Unlock()
		return &InvalidTransitionError{Op: "resume", State: string(st)}
	}
	o.batch = BatchGenerating
	ch := o.resumeCh
	o.resumeCh = nil
	o.mu.Unlock()

	if ch != nil {
		close(ch)
	}
	o.log.Append(activity.LevelInfo, "batch resumed", "")
	// Everything may already have resolved while paused.
	o.maybeComplete()
	return nil
}

// Regenerate re-enters generating for one item. Valid from error (retry
// after failure) and from awaiting_approval/approved (explicit user
// redo). The item goes through the same bounded pool; other items are
// untouched and the batch state does not change, even from completed.
func (o *Orchestrator) Regenerate(ctx context.Context, id string) error {
	item, err := o.store.BeginGeneration(id, PhaseError, PhaseAwaitingApproval, PhaseApproved)
	if err != nil {
		return err
	}
	o.log.Append(activity.LevelInfo,
		fmt.Sprintf("%s: regenerating (attempt %d)", item.Asset.DisplayName(), item.Attempts), id)

	go func() {
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			_ = o.store.FailGeneration(id, "canceled while waiting for a generation slot")
			o.log.Append(activity.LevelError,
				fmt.Sprintf("%s: regeneration canceled before start", item.Asset.DisplayName()), id)
			o.refreshProgress()
			return
		}
		defer func() { <-o.sem }()
		o.generate(ctx, item)
	}()
	return nil
}

// Approve persists the reviewed result and marks the item approved.
// A persistence failure leaves the item awaiting_approval so approval
// (not generation) can be retried.
func (o *Orchestrator) Approve(ctx context.Context, id string) error {
	res, err := o.store.PendingResult(id)
	if err != nil {
		return err
	}
	ref := ""
	if o.persister != nil {
		ref, err = o.persister.Persist(ctx, id, res)
		if err != nil {
			o.log.Append(activity.LevelError,
				fmt.Sprintf("persist failed for %s: %v (approval can be retried)", id, err), id)
			return fmt.Errorf("persist %s: %w", id, err)
		}
	}
	if err := o.store.MarkApproved(id, ref); err != nil {
		return err
	}
	o.log.Append(activity.LevelSuccess, fmt.Sprintf("asset %s approved", id), id)
	o.refreshProgress()
	o.maybeComplete()
	return nil
}

// Reject declines a reviewed result. Nothing is persisted and nothing
// auto-retries.
func (o *Orchestrator) Reject(id string) error {
	if err := o.store.Reject(id); err != nil {
		return err
	}
	o.log.Append(activity.LevelInfo, fmt.Sprintf("asset %s rejected", id), id)
	o.refreshProgress()
	o.maybeComplete()
	return nil
}

// UpdatePrompt stores a custom prompt for the item's next generation
// attempt. Allowed in any non-generating state.
func (o *Orchestrator) UpdatePrompt(id, text string) error {
	if err := o.store.SetCustomPrompt(id, text); err != nil {
		return err
	}
	o.log.Append(activity.LevelInfo, fmt.Sprintf("asset %s: prompt updated", id), id)
	return nil
}

// run is the single logical worker loop: offer pending items in plan
// order, each gated by the pause state and a pool slot. Completions may
// land out of order; per-item goroutines record whatever actually
// returned.
func (o *Orchestrator) run(ctx context.Context) {
	for _, id := range o.store.Order() {
		acquired := false
		select {
		case o.sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if !acquired {
			break
		}
		// Pause is checked after taking the slot: a slot freed by an
		// in-flight completion must not admit a new item mid-pause.
		if !o.waitResume(ctx) {
			<-o.sem
			break
		}
		item, err := o.store.BeginGeneration(id, PhasePending)
		if err != nil {
			// No longer pending (user already touched it); free the slot.
			<-o.sem
			continue
		}
		go func() {
			defer func() { <-o.sem }()
			o.generate(ctx, item)
		}()
	}
	// Covers the zero-item batch and items skipped above.
	o.maybeComplete()
}

func (o *Orchestrator) waitResume(ctx context.Context) bool {
	for {
		o.mu.Lock()
		if o.batch != BatchPaused {
			o.mu.Unlock()
			return ctx.Err() == nil
		}
		ch := o.resumeCh
		o.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// generate performs one bounded generation call for an item already in
// the generating state and records the outcome.
func (o *Orchestrator) generate(ctx context.Context, item QueueItem) {
	id := item.Asset.ID
	text := item.CustomPrompt
	if text == "" {
		text = o.builder.Build(item.Asset, o.style)
	}

	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	res, err := o.client.Generate(callCtx, text)
	if err != nil {
		_ = o.store.FailGeneration(id, err.Error())
		o.log.Append(activity.LevelError,
			fmt.Sprintf("%s: %v", item.Asset.DisplayName(), err), id)
	} else {
		_ = o.store.CompleteGeneration(id, res)
		o.log.Append(activity.LevelSuccess,
			fmt.Sprintf("%s: generated in %dms, awaiting review", item.Asset.DisplayName(), res.DurationMs), id)
	}
	o.refreshProgress()
	o.maybeComplete()
}

// maybeComplete transitions generating → completed once every item is
// approved, rejected, or error. completed is terminal: a later
// regeneration of one item never reopens the batch.
func (o *Orchestrator) maybeComplete() {
	counts := o.store.Counts()
	if counts[PhasePending]+counts[PhaseGenerating]+counts[PhaseAwaitingApproval] > 0 {
		return
	}
	o.mu.Lock()
	if o.batch != BatchGenerating {
		o.mu.Unlock()
		return
	}
	o.batch = BatchCompleted
	close(o.done)
	o.mu.Unlock()

	o.log.Append(activity.LevelInfo,
		fmt.Sprintf("batch %s completed: %d approved, %d rejected, %d failed",
			o.batchID, counts[PhaseApproved], counts[PhaseRejected], counts[PhaseError]), "")
}
