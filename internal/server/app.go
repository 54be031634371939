package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"assetforge/internal/activity"
	"assetforge/internal/genclient"
	"assetforge/internal/persist"
	"assetforge/internal/planparse"
	"assetforge/internal/prompt"
	"assetforge/internal/queue"
)

// ErrBatchNotFound is returned when a request names an unknown batch.
var ErrBatchNotFound = errors.New("server: batch not found")

// batchRun couples one orchestrator with its activity log.
type batchRun struct {
	orch *queue.Orchestrator
	log  *activity.Log
}

// App owns the live batches. Batches are never shared: one orchestrator
// per created batch, retrievable by id until the process exits.
type App struct {
	client      genclient.Client
	builder     prompt.Builder
	persister   queue.Persister
	archive     *persist.ArchiveStore
	maxParallel int
	callTimeout time.Duration

	// baseCtx outlives any single request so in-flight generations and
	// user-initiated regenerations are not tied to request lifetimes.
	baseCtx context.Context

	mu      sync.RWMutex
	batches map[string]*batchRun
}

type AppConfig struct {
	Client      genclient.Client
	Builder     prompt.Builder
	Persister   queue.Persister
	Archive     *persist.ArchiveStore
	MaxParallel int
	CallTimeout time.Duration
}

func NewApp(baseCtx context.Context, cfg AppConfig) *App {
	return &App{
		client:      cfg.Client,
		builder:     cfg.Builder,
		persister:   cfg.Persister,
		archive:     cfg.Archive,
		maxParallel: cfg.MaxParallel,
		callTimeout: cfg.CallTimeout,
		baseCtx:     baseCtx,
		batches:     make(map[string]*batchRun),
	}
}

// CreateBatch parses the plan, builds a fresh queue, and starts
// generation. Returns the new batch id and the parsed item count.
func (a *App) CreateBatch(projectID, markdown string, mode planparse.Mode, style prompt.StyleContext) (string, int, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", 0, fmt.Errorf("project id is required")
	}
	specs := planparse.Parse(markdown, planparse.Options{Mode: mode, ProjectID: projectID})
	if len(specs) == 0 {
		return "", 0, fmt.Errorf("plan contains no assets")
	}

	batchID := fmt.Sprintf("%s-%d", projectID, time.Now().UnixMilli())
	logStream := activity.NewLog()
	orch := queue.New(queue.NewStore(specs), a.builder, a.client, a.persister, logStream, queue.Config{
		BatchID:       batchID,
		MaxConcurrent: a.maxParallel,
		CallTimeout:   a.callTimeout,
		Style:         style,
	})

	a.mu.Lock()
	a.batches[batchID] = &batchRun{orch: orch, log: logStream}
	a.mu.Unlock()

	if err := orch.Start(a.baseCtx); err != nil {
		return "", 0, err
	}
	go a.archiveWhenDone(orch)
	return batchID, len(specs), nil
}

// archiveWhenDone snapshots the per-item outcomes once the batch
// completes. The archived record reflects the first completion pass;
// completed is terminal for the batch, so Done fires exactly once.
func (a *App) archiveWhenDone(orch *queue.Orchestrator) {
	if a.archive == nil {
		return
	}
	select {
	case <-orch.Done():
	case <-a.baseCtx.Done():
		return
	}
	outcomes := persist.Outcomes(orch.BatchID(), orch.Items())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = a.archive.SaveBatch(ctx, orch.BatchID(), outcomes)
}

func (a *App) batch(id string) (*batchRun, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	run, ok := a.batches[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return run, nil
}
