package rpcserver

import (
	"unicode/utf8"

	"github.com/rscodex/rscodex/internal/health"
	"github.com/rscodex/rscodex/internal/hybrid"
)

// previewLimit bounds the verbatim source excerpt returned per hit; the
// full chunk stays retrievable by reading the file at the reported lines.
const previewLimit = 240

func toSearchHits(hits []hybrid.Hit) []SearchHit {
	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchHit{
			File:        h.Chunk.Context.FilePath,
			Symbol:      h.Chunk.Context.SymbolName,
			Kind:        string(h.Chunk.Context.SymbolKind),
			LineStart:   h.Chunk.Context.LineStart,
			LineEnd:     h.Chunk.Context.LineEnd,
			RRFScore:    h.RRFScore,
			BM25Score:   h.BM25Score,
			VectorScore: h.VectorScore,
			Preview:     preview(h.Chunk.Content),
		})
	}
	return out
}

func preview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func toComponentHealth(c health.Check) ComponentHealth {
	return ComponentHealth{
		Status:    c.Status.String(),
		Message:   c.Message,
		LatencyMS: c.Latency.Milliseconds(),
	}
}
