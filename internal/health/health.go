// Package health implements the health probe: per-subcomponent
// liveness checks for the lexical index, the vector index, and the Merkle
// snapshot, rolled up into one overall status. No recovery action is taken
// here; a Degraded or Unhealthy report is purely diagnostic.
package health

import (
	"context"
	"os"
	"time"

	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/pipeline"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// Status is one subcomponent's health, ordered worst-to-best for Overall's
// max comparison.
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// worse reports whether b is a worse status than a.
func worse(a, b Status) bool { return b > a }

// Check is one subcomponent's probe result.
type Check struct {
	Status  Status
	Message string
	Latency time.Duration
}

// Report is the full probe result.
type Report struct {
	Overall Status
	BM25    Check
	Vector  Check
	Merkle  Check
}

// Merge combines two reports component-wise, keeping each component's worse
// check. Used when one probe call spans several collections.
func Merge(a, b Report) Report {
	pick := func(x, y Check) Check {
		if worse(x.Status, y.Status) {
			return y
		}
		return x
	}
	merged := Report{
		BM25:   pick(a.BM25, b.BM25),
		Vector: pick(a.Vector, b.Vector),
		Merkle: pick(a.Merkle, b.Merkle),
	}
	for _, c := range []Check{merged.BM25, merged.Vector, merged.Merkle} {
		if worse(merged.Overall, c.Status) {
			merged.Overall = c.Status
		}
	}
	return merged
}

// Prober runs health checks for one collection.
type Prober struct {
	Lexical      *lexical.Index
	Vector       *vecstore.Store
	SnapshotPath string
	Pipeline     *pipeline.Pipeline // optional; enables the consistency supplement
}

// New builds a Prober over one collection's storage handles.
func New(lex *lexical.Index, vec *vecstore.Store, snapshotPath string, p *pipeline.Pipeline) *Prober {
	return &Prober{Lexical: lex, Vector: vec, SnapshotPath: snapshotPath, Pipeline: p}
}

// Probe runs all three subcomponent checks and rolls them into Overall
// (the worst of the three).
func (p *Prober) Probe(ctx context.Context) Report {
	bm25 := p.checkBM25()
	vec := p.checkVector()
	merkle := p.checkMerkle()

	// A lexical/vector id-set divergence downgrades an otherwise-healthy
	// pair to Degraded.
	if p.Pipeline != nil && bm25.Status == Healthy && vec.Status == Healthy {
		if report, err := p.Pipeline.Reconcile(ctx); err == nil {
			if report.LexicalOnly > 0 || report.VectorOnly > 0 {
				bm25.Status = Degraded
				bm25.Message = "lexical/vector index divergence detected"
			}
		}
	}

	overall := Healthy
	for _, c := range []Check{bm25, vec, merkle} {
		if worse(overall, c.Status) {
			overall = c.Status
		}
	}

	return Report{Overall: overall, BM25: bm25, Vector: vec, Merkle: merkle}
}

func (p *Prober) checkBM25() Check {
	if p.Lexical == nil {
		return Check{Status: Unhealthy, Message: "lexical index not configured"}
	}
	start := time.Now()
	count, err := p.Lexical.Count()
	latency := time.Since(start)
	if err != nil {
		return Check{Status: Unhealthy, Message: err.Error(), Latency: latency}
	}
	return Check{Status: Healthy, Message: countMessage(count), Latency: latency}
}

func (p *Prober) checkVector() Check {
	if p.Vector == nil {
		return Check{Status: Unhealthy, Message: "vector index not configured"}
	}
	start := time.Now()
	count := p.Vector.Count()
	latency := time.Since(start)
	return Check{Status: Healthy, Message: countMessage(uint64(count)), Latency: latency}
}

func (p *Prober) checkMerkle() Check {
	if p.SnapshotPath == "" {
		return Check{Status: Degraded, Message: "no snapshot path configured"}
	}
	start := time.Now()
	_, err := os.Stat(p.SnapshotPath)
	latency := time.Since(start)
	if os.IsNotExist(err) {
		return Check{Status: Degraded, Message: "snapshot not yet created (never indexed)", Latency: latency}
	}
	if err != nil {
		return Check{Status: Unhealthy, Message: err.Error(), Latency: latency}
	}
	return Check{Status: Healthy, Message: "snapshot present", Latency: latency}
}

func countMessage(n uint64) string {
	if n == 0 {
		return "empty index"
	}
	return "ok"
}
