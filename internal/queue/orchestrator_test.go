package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetforge/internal/activity"
	"assetforge/internal/assetspec"
	"assetforge/internal/genclient"
	"assetforge/internal/prompt"
)

// recordClient succeeds immediately, remembers every prompt, and can be
// scripted to fail prompts containing a substring.
type recordClient struct {
	mu         sync.Mutex
	prompts    []string
	failSubstr string
}

func (c *recordClient) Name() string { return "record" }
func (c *recordClient) Close() error { return nil }

func (c *recordClient) Generate(_ context.Context, p string) (*genclient.Result, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, p)
	fail := c.failSubstr != "" && strings.Contains(p, c.failSubstr)
	c.mu.Unlock()
	if fail {
		return nil, &genclient.GenerationError{Message: "model refused"}
	}
	return &genclient.Result{Data: []byte("img"), MIMEType: "image/png", Model: "test", DurationMs: 1}, nil
}

func (c *recordClient) failOn(sub string) {
	c.mu.Lock()
	c.failSubstr = sub
	c.mu.Unlock()
}

func (c *recordClient) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// gateClient blocks each call until released, so tests control exactly
// when a generation finishes.
type gateClient struct {
	started chan string
	release chan struct{}
}

func newGateClient() *gateClient {
	return &gateClient{started: make(chan string, 8), release: make(chan struct{})}
}

func (c *gateClient) Name() string { return "gate" }
func (c *gateClient) Close() error { return nil }

func (c *gateClient) Generate(ctx context.Context, p string) (*genclient.Result, error) {
	c.started <- p
	select {
	case <-c.release:
		return &genclient.Result{Data: []byte("img"), Model: "test"}, nil
	case <-ctx.Done():
		return nil, &genclient.GenerationError{Message: "call timed out", Cause: ctx.Err()}
	}
}

type fakePersister struct {
	mu        sync.Mutex
	failures  int
	persisted map[string]int
}

func newFakePersister() *fakePersister {
	return &fakePersister{persisted: make(map[string]int)}
}

func (p *fakePersister) failNext(n int) {
	p.mu.Lock()
	p.failures = n
	p.mu.Unlock()
}

func (p *fakePersister) Persist(_ context.Context, assetID string, _ *genclient.Result) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", errors.New("storage offline")
	}
	p.persisted[assetID]++
	return "mem://" + assetID, nil
}

func makeSpecs(names ...string) []assetspec.AssetSpec {
	specs := make([]assetspec.AssetSpec, 0, len(names))
	for i, name := range names {
		specs = append(specs, assetspec.AssetSpec{
			ID:       fmt.Sprintf("t-asset-%03d", i+1),
			Category: "Items",
			Name:     name,
			Type:     assetspec.TypeIcon,
			Mobility: assetspec.Mobility{Type: assetspec.Static},
		})
	}
	return specs
}

var nameBuilder = prompt.Func(func(a assetspec.AssetSpec, _ prompt.StyleContext) string {
	return "PROMPT " + a.Name
})

func newTestOrchestrator(specs []assetspec.AssetSpec, client genclient.Client, persister Persister, maxConcurrent int) (*Orchestrator, *Store, *activity.Log) {
	store := NewStore(specs)
	logStream := activity.NewLog()
	orch := New(store, nameBuilder, client, persister, logStream, Config{
		BatchID:       "test-batch",
		MaxConcurrent: maxConcurrent,
	})
	return orch, store, logStream
}

func requireConservation(t *testing.T, store *Store) {
	t.Helper()
	counts := store.Counts()
	sum := 0
	for _, n := range counts {
		sum += n
	}
	require.Equal(t, store.Len(), sum, "items lost or double-counted: %v", counts)
}

func waitPhase(t *testing.T, store *Store, id string, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		it, ok := store.Get(id)
		return ok && it.State.Phase() == phase
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s to reach %s", id, phase)
	requireConservation(t, store)
}

func waitDone(t *testing.T, orch *Orchestrator) {
	t.Helper()
	select {
	case <-orch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batch never completed")
	}
}

func TestBatchRunsToCompletion(t *testing.T) {
	client := &recordClient{}
	persister := newFakePersister()
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two", "Three", "Four"), client, persister, 2)

	require.NoError(t, orch.Start(context.Background()))
	for _, id := range store.Order() {
		waitPhase(t, store, id, PhaseAwaitingApproval)
	}

	p := orch.Progress()
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 4, p.Completed)
	assert.Equal(t, 0, p.Failed)
	assert.InDelta(t, 100.0, p.Percent, 0.001)
	assert.Equal(t, BatchGenerating, p.State)

	ids := store.Order()
	require.NoError(t, orch.Approve(context.Background(), ids[0]))
	require.NoError(t, orch.Approve(context.Background(), ids[1]))
	require.NoError(t, orch.Reject(ids[2]))
	require.NoError(t, orch.Approve(context.Background(), ids[3]))

	waitDone(t, orch)
	requireConservation(t, store)
	assert.Equal(t, BatchCompleted, orch.Progress().State)
	assert.Equal(t, 1, persister.persisted[ids[0]])

	it, _ := store.Get(ids[0])
	approved, ok := it.State.(Approved)
	require.True(t, ok)
	assert.Equal(t, "mem://"+ids[0], approved.Ref)
}

// Scenario: three pending items, concurrency 1, the middle one fails.
// The batch still completes, and a later regenerate of the failed item
// touches nothing else.
func TestFailedItemDoesNotAbortBatch(t *testing.T) {
	client := &recordClient{}
	client.failOn("Two")
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two", "Three"), client, newFakePersister(), 1)
	ids := store.Order()

	require.NoError(t, orch.Start(context.Background()))
	waitPhase(t, store, ids[0], PhaseAwaitingApproval)
	waitPhase(t, store, ids[1], PhaseError)
	waitPhase(t, store, ids[2], PhaseAwaitingApproval)

	it, _ := store.Get(ids[1])
	failed, ok := it.State.(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "model refused")

	require.NoError(t, orch.Approve(context.Background(), ids[0]))
	require.NoError(t, orch.Reject(ids[2]))
	waitDone(t, orch)

	// Retry the failed item after batch completion.
	client.failOn("")
	require.NoError(t, orch.Regenerate(context.Background(), ids[1]))
	waitPhase(t, store, ids[1], PhaseAwaitingApproval)

	it1, _ := store.Get(ids[0])
	it3, _ := store.Get(ids[2])
	assert.Equal(t, PhaseApproved, it1.State.Phase())
	assert.Equal(t, 1, it1.Attempts)
	assert.Equal(t, PhaseRejected, it3.State.Phase())
	assert.Equal(t, 1, it3.Attempts)

	it2, _ := store.Get(ids[1])
	assert.Equal(t, 2, it2.Attempts)
	// completed is terminal for the batch.
	assert.Equal(t, BatchCompleted, orch.Progress().State)
}

func TestPauseBlocksNewStarts(t *testing.T) {
	client := newGateClient()
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two", "Three"), client, newFakePersister(), 1)
	ids := store.Order()

	require.NoError(t, orch.Start(context.Background()))
	<-client.started

	require.NoError(t, orch.Pause())
	// The in-flight call finishes naturally after a pause.
	client.release <- struct{}{}
	waitPhase(t, store, ids[0], PhaseAwaitingApproval)

	select {
	case p := <-client.started:
		t.Fatalf("paused batch started a new generation: %q", p)
	case <-time.After(150 * time.Millisecond):
	}
	it, _ := store.Get(ids[1])
	assert.Equal(t, PhasePending, it.State.Phase())

	require.NoError(t, orch.Resume())
	<-client.started
	client.release <- struct{}{}
	<-client.started
	client.release <- struct{}{}
	waitPhase(t, store, ids[2], PhaseAwaitingApproval)
}

func TestBoundedConcurrency(t *testing.T) {
	client := newGateClient()
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two", "Three", "Four"), client, newFakePersister(), 2)

	require.NoError(t, orch.Start(context.Background()))
	<-client.started
	<-client.started

	// Both slots taken; nothing else may start.
	select {
	case p := <-client.started:
		t.Fatalf("third generation started beyond the concurrency limit: %q", p)
	case <-time.After(150 * time.Millisecond):
	}
	counts := store.Counts()
	assert.Equal(t, 2, counts[PhaseGenerating])
	assert.Equal(t, 2, counts[PhasePending])

	client.release <- struct{}{}
	<-client.started
	client.release <- struct{}{}
	<-client.started
	client.release <- struct{}{}
	client.release <- struct{}{}
	for _, id := range store.Order() {
		waitPhase(t, store, id, PhaseAwaitingApproval)
	}
}

func TestInvalidTransitionsFailLoudly(t *testing.T) {
	orch, store, _ := newTestOrchestrator(makeSpecs("One"), &recordClient{}, newFakePersister(), 1)
	id := store.Order()[0]
	var invalid *InvalidTransitionError

	// Item operations on a pending item.
	require.ErrorAs(t, orch.Approve(context.Background(), id), &invalid)
	require.ErrorAs(t, orch.Reject(id), &invalid)
	require.ErrorAs(t, orch.Regenerate(context.Background(), id), &invalid)

	// Unknown ids.
	require.ErrorIs(t, orch.Approve(context.Background(), "nope"), ErrUnknownAsset)
	require.ErrorIs(t, orch.UpdatePrompt("nope", "x"), ErrUnknownAsset)

	// Batch operations out of order.
	require.ErrorAs(t, orch.Pause(), &invalid)
	require.ErrorAs(t, orch.Resume(), &invalid)
	require.NoError(t, orch.Start(context.Background()))
	require.ErrorAs(t, orch.Start(context.Background()), &invalid)
}

func TestCustomPromptOverridesBuiltPrompt(t *testing.T) {
	client := &recordClient{}
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two"), client, newFakePersister(), 1)
	ids := store.Order()

	require.NoError(t, orch.UpdatePrompt(ids[0], "a hand-tuned prompt"))
	require.NoError(t, orch.Start(context.Background()))
	waitPhase(t, store, ids[0], PhaseAwaitingApproval)
	waitPhase(t, store, ids[1], PhaseAwaitingApproval)

	prompts := client.recorded()
	assert.Contains(t, prompts, "a hand-tuned prompt")
	assert.Contains(t, prompts, "PROMPT Two")
	assert.NotContains(t, prompts, "PROMPT One")
}

func TestUpdatePromptRejectedWhileGenerating(t *testing.T) {
	client := newGateClient()
	orch, store, _ := newTestOrchestrator(makeSpecs("One"), client, newFakePersister(), 1)
	id := store.Order()[0]

	require.NoError(t, orch.Start(context.Background()))
	<-client.started

	var invalid *InvalidTransitionError
	require.ErrorAs(t, orch.UpdatePrompt(id, "too late"), &invalid)

	client.release <- struct{}{}
	waitPhase(t, store, id, PhaseAwaitingApproval)
	// Allowed again once the call returned.
	require.NoError(t, orch.UpdatePrompt(id, "for the retry"))
}

func TestPersistFailureLeavesItemAwaitingApproval(t *testing.T) {
	client := &recordClient{}
	persister := newFakePersister()
	orch, store, _ := newTestOrchestrator(makeSpecs("One"), client, persister, 1)
	id := store.Order()[0]

	require.NoError(t, orch.Start(context.Background()))
	waitPhase(t, store, id, PhaseAwaitingApproval)

	persister.failNext(1)
	err := orch.Approve(context.Background(), id)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownAsset)

	// Still awaiting: approval is retryable without regenerating.
	it, _ := store.Get(id)
	assert.Equal(t, PhaseAwaitingApproval, it.State.Phase())
	assert.Equal(t, 1, it.Attempts)
	assert.Len(t, client.recorded(), 1)

	require.NoError(t, orch.Approve(context.Background(), id))
	it, _ = store.Get(id)
	assert.Equal(t, PhaseApproved, it.State.Phase())
	assert.Len(t, client.recorded(), 1, "approval retry must not re-generate")
	waitDone(t, orch)
}

func TestPercentIsMonotonicAcrossRegenerate(t *testing.T) {
	client := &recordClient{}
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two"), client, newFakePersister(), 2)
	ids := store.Order()

	require.NoError(t, orch.Start(context.Background()))
	waitPhase(t, store, ids[0], PhaseAwaitingApproval)
	waitPhase(t, store, ids[1], PhaseAwaitingApproval)
	require.NoError(t, orch.Approve(context.Background(), ids[0]))
	require.NoError(t, orch.Approve(context.Background(), ids[1]))
	waitDone(t, orch)
	require.InDelta(t, 100.0, orch.Progress().Percent, 0.001)

	// Pulling an approved item back into generating must not lower the
	// published percent; total is never recounted.
	require.NoError(t, orch.Regenerate(context.Background(), ids[0]))
	assert.InDelta(t, 100.0, orch.Progress().Percent, 0.001)
	waitPhase(t, store, ids[0], PhaseAwaitingApproval)
	assert.InDelta(t, 100.0, orch.Progress().Percent, 0.001)
	assert.Equal(t, 2, orch.Progress().Total)
}

func TestPercentNeverDecreasesAcrossPauseResume(t *testing.T) {
	client := &recordClient{}
	orch, store, _ := newTestOrchestrator(makeSpecs("One", "Two", "Three"), client, newFakePersister(), 1)
	ids := store.Order()

	require.NoError(t, orch.Start(context.Background()))
	waitPhase(t, store, ids[2], PhaseAwaitingApproval)
	before := orch.Progress().Percent

	require.NoError(t, orch.Pause())
	assert.GreaterOrEqual(t, orch.Progress().Percent, before)
	require.NoError(t, orch.Resume())
	assert.GreaterOrEqual(t, orch.Progress().Percent, before)
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	orch, _, _ := newTestOrchestrator(nil, &recordClient{}, newFakePersister(), 1)
	require.NoError(t, orch.Start(context.Background()))
	waitDone(t, orch)
	p := orch.Progress()
	assert.Equal(t, 0, p.Total)
	assert.Equal(t, BatchCompleted, p.State)
}

func TestCallTimeoutBecomesErrorTransition(t *testing.T) {
	client := newGateClient()
	store := NewStore(makeSpecs("One"))
	logStream := activity.NewLog()
	orch := New(store, nameBuilder, client, newFakePersister(), logStream, Config{
		BatchID:       "timeout-batch",
		MaxConcurrent: 1,
		CallTimeout:   50 * time.Millisecond,
	})
	id := store.Order()[0]

	require.NoError(t, orch.Start(context.Background()))
	<-client.started
	// Never release: the deadline must turn the item into an error, not
	// drop it silently.
	waitPhase(t, store, id, PhaseError)
	it, _ := store.Get(id)
	failed := it.State.(Failed)
	assert.Contains(t, failed.Message, "timed out")
	waitDone(t, orch)
}
