package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
	"github.com/JonMunkholm/wis2box-migrate/internal/logging"
)

// StoreJob describes one pass over the station collection.
type StoreJob struct {
	Index     string
	BatchSize int // DefaultBatchSize when zero
	Codelists *CodelistSet
	DryRun    bool
	Out       io.Writer // dry-run destination

	Store DocumentStore

	// Optional checkpointing, used in commit mode only.
	Checkpoints   Checkpointer
	CheckpointKey string
	Resume        bool
}

// MigrateStore pages through every document of job.Index and rewrites the
// codelist fields of its properties.
//
// Each page of BatchSize documents becomes one batch of update operations,
// printed as a JSON array in dry-run mode or submitted as one bulk request
// otherwise. A page shorter than BatchSize, including an empty one, is the
// last. For k documents that is ceil((k+1)/BatchSize) fetches.
//
// When the store is a Snapshotter the pages come from a snapshot opened at
// the start of the pass, so updated documents cannot shift into pages not
// yet read. The snapshot is closed when the pass ends, except after a
// failed commit with checkpoints, where the saved cursor still counts into
// it.
//
// The pass is not atomic. A failed fetch (failure.StoreUnavailable) or a
// rejected bulk request (failure.UpdateRejected) stops it immediately and
// earlier batches stay committed. Running it again from the start is safe
// because already-mapped values fall through the codelists unchanged.
func MigrateStore(ctx context.Context, job StoreJob) (result StoreResult, err error) {
	size := job.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := job.Out
	if out == nil {
		out = os.Stdout
	}

	logger := logging.WithFields(ctx, "index", job.Index, "dry_run", job.DryRun)

	checkpoints := !job.DryRun && job.Checkpoints != nil && job.CheckpointKey != ""

	var saved Checkpoint
	if checkpoints && job.Resume {
		cp, found, err := job.Checkpoints.Load(ctx, job.CheckpointKey)
		if err != nil {
			return result, fmt.Errorf("load checkpoint %s: %w", job.CheckpointKey, err)
		}
		if found {
			saved = cp
		}
	}

	pages, err := openPager(ctx, job.Store, job.Index, saved, logger)
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil && checkpoints {
			return
		}
		if cerr := pages.close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to release snapshot", "error", cerr)
		}
	}()

	cursor := pages.start
	result.StartCursor = cursor

	for {
		docs, err := pages.fetch(ctx, cursor, size)
		result.Fetches++
		if err != nil {
			if pages.resumed && result.Fetches == 1 && errors.Is(err, ErrSnapshotExpired) {
				logger.Warn("checkpoint snapshot expired, restarting from the beginning", "cursor", cursor)
				if err := pages.reopen(ctx); err != nil {
					return result, err
				}
				cursor = 0
				result = StoreResult{}
				continue
			}
			return result, classify(err, failure.StoreUnavailable, job.Index)
		}

		ops := buildUpdates(ctx, job.Codelists, docs, &result)
		result.Documents += len(docs)

		if len(ops) > 0 {
			if job.DryRun {
				if err := json.NewEncoder(out).Encode(ops); err != nil {
					return result, fmt.Errorf("print batch at cursor %d: %w", cursor, err)
				}
			} else if err := job.Store.Bulk(ctx, ops); err != nil {
				return result, classify(err, failure.UpdateRejected, job.Index)
			}
			result.Batches++
		}

		logger.Debug("batch processed", "cursor", cursor, "documents", len(docs), "operations", len(ops))

		if len(docs) < size {
			break
		}
		cursor += size

		if checkpoints {
			cp := Checkpoint{Cursor: cursor, Snapshot: pages.snapshotID()}
			if err := job.Checkpoints.Save(ctx, job.CheckpointKey, cp); err != nil {
				return result, fmt.Errorf("save checkpoint %s at cursor %d: %w", job.CheckpointKey, cursor, err)
			}
		}
	}

	if checkpoints {
		if err := job.Checkpoints.Clear(ctx, job.CheckpointKey); err != nil {
			return result, fmt.Errorf("clear checkpoint %s: %w", job.CheckpointKey, err)
		}
	}

	logger.Info("document store migrated",
		"fetches", result.Fetches,
		"batches", result.Batches,
		"documents", result.Documents,
		"changed", result.Changed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// pager reads consecutive pages of one index, through a snapshot when the
// store offers one.
type pager struct {
	store     DocumentStore
	snapshots Snapshotter // nil when the store has no snapshots
	index     string
	snap      Snapshot
	start     int  // cursor of the first page
	resumed   bool // start counts into a snapshot of an earlier run
}

func openPager(ctx context.Context, store DocumentStore, index string, saved Checkpoint, logger *slog.Logger) (*pager, error) {
	p := &pager{store: store, index: index}
	p.snapshots, _ = store.(Snapshotter)

	switch {
	case p.snapshots == nil:
		p.start = saved.Cursor
	case saved.Snapshot != "":
		p.snap = p.snapshots.ResumeSnapshot(index, saved.Snapshot)
		p.start = saved.Cursor
		p.resumed = true
	default:
		// An offset into some other view of the index means nothing here.
		if saved.Cursor > 0 {
			logger.Warn("checkpoint has no snapshot, restarting from the beginning", "cursor", saved.Cursor)
		}
		if err := p.reopen(ctx); err != nil {
			return nil, err
		}
	}

	if p.start > 0 {
		logger.Info("resuming from checkpoint", "cursor", p.start)
	}
	return p, nil
}

// reopen replaces the current snapshot with a fresh one starting at zero.
func (p *pager) reopen(ctx context.Context) error {
	snap, err := p.snapshots.OpenSnapshot(ctx, p.index)
	if err != nil {
		return classify(err, failure.StoreUnavailable, p.index)
	}
	p.snap = snap
	p.start = 0
	p.resumed = false
	return nil
}

func (p *pager) fetch(ctx context.Context, from, size int) ([]Document, error) {
	if p.snap != nil {
		return p.snap.Search(ctx, from, size)
	}
	return p.store.Search(ctx, p.index, from, size)
}

func (p *pager) snapshotID() string {
	if p.snap == nil {
		return ""
	}
	return p.snap.ID()
}

func (p *pager) close(ctx context.Context) error {
	if p.snap == nil {
		return nil
	}
	return p.snap.Close(ctx)
}

// buildUpdates maps each document's properties and returns one partial
// update per document. Documents without a properties object are skipped:
// updating them would add a field they never had.
func buildUpdates(ctx context.Context, set *CodelistSet, docs []Document, result *StoreResult) []UpdateOp {
	logger := logging.FromContext(ctx)
	ops := make([]UpdateOp, 0, len(docs))

	for _, doc := range docs {
		props, ok := doc.Properties()
		if !ok {
			logger.Warn("document has no properties, skipping", "index", doc.Index, "id", doc.ID)
			result.Skipped++
			continue
		}

		mapped, missing := set.ApplyFields(props)
		for _, name := range missing {
			logger.Debug("no matching element for codelist", "codelist", name, "id", doc.ID)
		}
		if changedFields(set, props, mapped) {
			result.Changed++
		}

		ops = append(ops, UpdateOp{
			Kind:  OpUpdate,
			Index: doc.Index,
			ID:    doc.ID,
			Doc:   map[string]any{"properties": mapped},
		})
	}
	return ops
}

func changedFields(set *CodelistSet, before, after map[string]any) bool {
	for _, name := range set.Names() {
		b, ok := before[name].(string)
		if !ok {
			continue
		}
		if a, _ := after[name].(string); a != b {
			return true
		}
	}
	return false
}

// classify tags err with kind unless a store client already classified it.
func classify(err error, kind failure.Kind, subject string) error {
	if _, ok := failure.KindOf(err); ok {
		return err
	}
	return failure.New(kind, subject, err)
}
