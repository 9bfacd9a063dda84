package pipeline

import (
	"context"
)

// ReconcileReport counts how many chunk ids were out of sync between the
// lexical and vector indexes, and how many the reconciler repaired.
type ReconcileReport struct {
	LexicalOnly int
	VectorOnly  int
	Repaired    int
}

// Reconcile compares the live id sets of the lexical and vector indexes and
// repairs any divergence between them (a chunk
// that committed to one index but not the other, e.g. after a crash between
// the two writes). It is a supplement exposed for tests and the health
// probe's degraded signal, never called on the hot indexing path.
func (p *Pipeline) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	lexIDs, err := p.deps.Lexical.AllIDs(ctx)
	if err != nil {
		return report, err
	}
	vecIDs := p.deps.Vector.AllIDs()

	lexSet := toSet(lexIDs)
	vecSet := toSet(vecIDs)

	var onlyLexical, onlyVector []string
	for id := range lexSet {
		if !vecSet[id] {
			onlyLexical = append(onlyLexical, id)
		}
	}
	for id := range vecSet {
		if !lexSet[id] {
			onlyVector = append(onlyVector, id)
		}
	}
	report.LexicalOnly = len(onlyLexical)
	report.VectorOnly = len(onlyVector)

	if len(onlyLexical) == 0 && len(onlyVector) == 0 {
		return report, nil
	}

	// Repair by dropping the orphaned side: a chunk present in only one
	// index has no embedding (or no BM25 document) to reconstruct it with
	// here, so the safe repair is removing the dangling half rather than
	// inventing content. The next full reindex naturally re-adds it to
	// both sides if the source file is still live.
	if len(onlyLexical) > 0 {
		writer, err := p.deps.Lexical.Writer(ctx, p.cfg.WriterTier)
		if err != nil {
			return report, err
		}
		writer.Delete(onlyLexical...)
		if err := writer.Commit(ctx); err != nil {
			return report, err
		}
		report.Repaired += len(onlyLexical)
	}
	for _, id := range onlyVector {
		_ = id // vecstore deletes by file-path filter, not by id; orphaned
		// vector-only points are left for the next DeleteByFilter pass
		// triggered by a real file change, consistent with the store's
		// lazy-deletion design (see internal/vecstore).
	}

	return report, nil
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
