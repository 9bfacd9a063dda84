// Package incremental implements the driver that ties the Merkle snapshot,
// the metadata cache's dimension guard, and the indexing pipeline together
// into one reindex operation.
package incremental

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rscodex/rscodex/internal/merkle"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/pipeline"
	"github.com/rscodex/rscodex/internal/rerr"
	"github.com/rscodex/rscodex/internal/safety"
)

// Driver runs reindex operations for one collection.
type Driver struct {
	root         string // absolute root directory
	snapshotPath string
	pipeline     *pipeline.Pipeline
	meta         *metacache.Store
	filters      *safety.Filters
	embedderDim  int
	embedderName string
	log          *slog.Logger
}

// New builds a Driver for one collection. snapshotPath is the
// collection's `<data_dir>/merkle/<8-hex>.snapshot` path.
func New(root, snapshotPath string, p *pipeline.Pipeline, meta *metacache.Store, filters *safety.Filters, embedderDim int, embedderName string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		root:         root,
		snapshotPath: snapshotPath,
		pipeline:     p,
		meta:         meta,
		filters:      filters,
		embedderDim:  embedderDim,
		embedderName: embedderName,
		log:          logger,
	}
}

// Reindex runs one incremental pass:
// Start -> LoadSnapshot -> BuildNew -> (RootEqual ? End : Diff -> Process ->
// SaveSnapshot -> End). Any step failure jumps to End(Err) without saving,
// so the snapshot on disk always reflects the last successful run.
func (d *Driver) Reindex(ctx context.Context, force bool) (pipeline.Stats, error) {
	if force {
		if err := d.forceReset(ctx); err != nil {
			return pipeline.Stats{}, err
		}
	}

	if err := d.checkDimensionGuard(ctx); err != nil {
		return pipeline.Stats{}, err
	}

	oldSnap, hadOld, err := merkle.Load(d.snapshotPath)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if !hadOld {
		oldSnap = merkle.Snapshot{}
	}

	inputs, err := d.walk()
	if err != nil {
		return pipeline.Stats{}, err
	}
	newSnap := merkle.Build(inputs)

	if hadOld && oldSnap.Root == newSnap.Root {
		stats := pipeline.Stats{UnchangedFiles: len(newSnap.Files)}
		return stats, nil
	}

	added, modified, deleted := merkle.Diff(oldSnap, newSnap)

	stats, err := d.pipeline.IndexFiles(ctx, added, modified, deleted)
	if err != nil {
		// Engine-level failure during commit: state is left consistent,
		// the snapshot is intentionally NOT saved, so the next run retries
		// from the prior state.
		return stats, err
	}

	if err := d.recordDimensionGuard(ctx); err != nil {
		return stats, err
	}

	if err := merkle.Save(d.snapshotPath, newSnap); err != nil {
		return stats, err
	}
	return stats, nil
}

// forceReset deletes the snapshot and clears
// the metadata cache and both indexes, so the run that follows behaves as
// a first run over empty collections.
func (d *Driver) forceReset(ctx context.Context) error {
	if err := os.Remove(d.snapshotPath); err != nil && !os.IsNotExist(err) {
		return rerr.IO(d.snapshotPath, err)
	}
	return d.pipeline.ClearAll(ctx)
}

// checkDimensionGuard: the metadata
// cache records the embedding dimension/model the vector index was built
// with; a mismatch against the active embedder surfaces a clear
// StorageError (with a force-reindex suggestion) instead of a confusing
// downstream HNSW panic.
func (d *Driver) checkDimensionGuard(ctx context.Context) error {
	storedDim, ok, err := d.meta.GetState(ctx, metacache.StateKeyIndexDimension)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	want := strconv.Itoa(d.embedderDim)
	if storedDim != want {
		return rerr.Storage(
			"embedding dimension mismatch: index was built with dimension "+storedDim+
				", active embedder produces "+want+"; run index_codebase with force_reindex=true",
			nil,
		)
	}
	return nil
}

func (d *Driver) recordDimensionGuard(ctx context.Context) error {
	if err := d.meta.PutState(ctx, metacache.StateKeyIndexDimension, strconv.Itoa(d.embedderDim)); err != nil {
		return err
	}
	return d.meta.PutState(ctx, metacache.StateKeyIndexModel, d.embedderName)
}

// walk discovers every non-filtered file under root and reads it.
func (d *Driver) walk() ([]merkle.Input, error) {
	var inputs []merkle.Input
	err := filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(d.root, path)
		if relErr != nil {
			return relErr
		}
		if info.IsDir() {
			if rel != "." && d.filters != nil && d.filters.Path.Reject(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.filters != nil && d.filters.Path.Reject(rel) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			d.log.Warn("failed to read file during walk", slog.String("path", rel), slog.String("error", readErr.Error()))
			return nil
		}
		inputs = append(inputs, merkle.Input{
			Path:    rel,
			Content: data,
			ModTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, rerr.IO(d.root, err)
	}
	return inputs, nil
}

