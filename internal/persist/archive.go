package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"assetforge/internal/queue"
)

// ItemOutcome is the archived end-of-batch record for one work-item.
// The activity log is the live history; this is the durable summary a
// batch leaves behind when it is discarded.
type ItemOutcome struct {
	BatchID   string    `json:"batchId"`
	AssetID   string    `json:"assetId"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase"`
	Attempts  int       `json:"attempts"`
	Ref       string    `json:"ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Outcomes converts queue item snapshots into archive records.
func Outcomes(batchID string, items []queue.QueueItem) []ItemOutcome {
	out := make([]ItemOutcome, 0, len(items))
	now := time.Now()
	for _, it := range items {
		oc := ItemOutcome{
			BatchID:   batchID,
			AssetID:   it.Asset.ID,
			Name:      it.Asset.DisplayName(),
			Type:      string(it.Asset.Type),
			Phase:     string(it.State.Phase()),
			Attempts:  it.Attempts,
			UpdatedAt: now,
		}
		switch st := it.State.(type) {
		case queue.Approved:
			oc.Ref = st.Ref
		case queue.Failed:
			oc.Error = st.Message
		}
		out = append(out, oc)
	}
	return out
}

// ArchiveStore records batch outcomes to a JSON file by default, or to
// postgres when a DSN is configured. Listings are cached per batch.
type ArchiveStore struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byBatch  map[string][]ItemOutcome

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, []ItemOutcome]
}

func NewArchive(path string) *ArchiveStore {
	return &ArchiveStore{
		path:    path,
		byBatch: make(map[string][]ItemOutcome),
	}
}

func NewArchivePostgres(dsn string) (*ArchiveStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, []ItemOutcome](256)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ArchiveStore{db: db, cache: cache}, nil
}

// NewArchiveFromEnv uses postgres when ARCHIVE_PG_DSN is set, falling
// back to the file store on any connection problem.
func NewArchiveFromEnv(path string) *ArchiveStore {
	dsn := strings.TrimSpace(os.Getenv("ARCHIVE_PG_DSN"))
	if dsn == "" {
		return NewArchive(path)
	}
	s, err := NewArchivePostgres(dsn)
	if err != nil {
		return NewArchive(path)
	}
	return s
}

// SaveBatch replaces the archived outcomes for one batch.
func (s *ArchiveStore) SaveBatch(ctx context.Context, batchID string, outcomes []ItemOutcome) error {
	if s == nil {
		return fmt.Errorf("archive store is nil")
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return fmt.Errorf("batch id is required")
	}
	if s.db != nil {
		err := s.saveBatchDB(ctx, batchID, outcomes)
		if err == nil && s.cache != nil {
			s.cache.Remove(batchID)
		}
		return err
	}
	return s.saveBatchFile(batchID, outcomes)
}

// List returns the archived outcomes of one batch.
func (s *ArchiveStore) List(ctx context.Context, batchID string) ([]ItemOutcome, error) {
	if s == nil {
		return nil, fmt.Errorf("archive store is nil")
	}
	batchID = strings.TrimSpace(batchID)
	if s.db != nil {
		if s.cache != nil {
			if cached, ok := s.cache.Get(batchID); ok {
				return cached, nil
			}
		}
		outcomes, err := s.listDB(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Add(batchID, outcomes)
		}
		return outcomes, nil
	}
	return s.listFile(batchID)
}

func (s *ArchiveStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

//
// file backend
//

func (s *ArchiveStore) ensureLoadedFile() {
	s.loadOnce.Do(func() {
		if s.path == "" {
			return
		}
		data, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var byBatch map[string][]ItemOutcome
		if json.Unmarshal(data, &byBatch) == nil && byBatch != nil {
			s.mu.Lock()
			s.byBatch = byBatch
			s.mu.Unlock()
		}
	})
}

func (s *ArchiveStore) saveBatchFile(batchID string, outcomes []ItemOutcome) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	s.byBatch[batchID] = append([]ItemOutcome(nil), outcomes...)
	data, err := json.MarshalIndent(s.byBatch, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *ArchiveStore) listFile(batchID string) ([]ItemOutcome, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcomes, ok := s.byBatch[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]ItemOutcome(nil), outcomes...), nil
}

//
// postgres backend
//

func (s *ArchiveStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS batch_outcomes (
    batch_id   TEXT NOT NULL,
    asset_id   TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    asset_type TEXT NOT NULL DEFAULT '',
    phase      TEXT NOT NULL DEFAULT '',
    attempts   INT  NOT NULL DEFAULT 0,
    ref        TEXT NOT NULL DEFAULT '',
    error      TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (batch_id, asset_id)
)`)
	})
	return s.schemaErr
}

func (s *ArchiveStore) saveBatchDB(ctx context.Context, batchID string, outcomes []ItemOutcome) error {
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_outcomes WHERE batch_id = $1`, batchID); err != nil {
		return err
	}
	for _, oc := range outcomes {
		_, err := tx.ExecContext(ctx, `
INSERT INTO batch_outcomes (batch_id, asset_id, name, asset_type, phase, attempts, ref, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			batchID, oc.AssetID, oc.Name, oc.Type, oc.Phase, oc.Attempts, oc.Ref, oc.Error, oc.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *ArchiveStore) listDB(ctx context.Context, batchID string) ([]ItemOutcome, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT batch_id, asset_id, name, asset_type, phase, attempts, ref, error, updated_at
FROM batch_outcomes WHERE batch_id = $1 ORDER BY asset_id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemOutcome
	for rows.Next() {
		var oc ItemOutcome
		if err := rows.Scan(&oc.BatchID, &oc.AssetID, &oc.Name, &oc.Type, &oc.Phase,
			&oc.Attempts, &oc.Ref, &oc.Error, &oc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}
