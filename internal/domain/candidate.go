package domain

// Candidate is the normalized retrieval result shape flowing through the
// search pipeline: a product, its current score, and the query that produced
// it. Score semantics change along the pipeline (retrieval score, then rerank
// score); scores are only comparable within one invocation.
type Candidate struct {
	Product *Product
	Score   float64
	Query   string // originating query text; "" for single-query search
}

// DedupCandidates collapses candidates by product ID keeping the first
// occurrence, which preserves interleaved priority. Products without an ID
// are dropped. Idempotent.
func DedupCandidates(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if c.Product == nil || c.Product.ID == "" {
			continue
		}
		if _, ok := seen[c.Product.ID]; ok {
			continue
		}
		seen[c.Product.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// InterleaveCandidates merges per-query result lists round-robin: index 0 of
// each list, then index 1, and so on. The merged head therefore spans every
// query even before dedup and rerank.
func InterleaveCandidates(lists [][]Candidate) []Candidate {
	maxLen, total := 0, 0
	for _, l := range lists {
		if len(l) > maxLen {
			maxLen = len(l)
		}
		total += len(l)
	}
	out := make([]Candidate, 0, total)
	for i := 0; i < maxLen; i++ {
		for _, l := range lists {
			if i < len(l) {
				out = append(out, l[i])
			}
		}
	}
	return out
}

// FilterRenderable drops candidates without at least one archived image URL.
func FilterRenderable(in []Candidate) []Candidate {
	out := in[:0:0]
	for _, c := range in {
		if c.Product != nil && c.Product.HasRenderableImage() {
			out = append(out, c)
		}
	}
	return out
}

// FilterAdult drops candidates flagged as kid products.
func FilterAdult(in []Candidate) []Candidate {
	out := in[:0:0]
	for _, c := range in {
		if c.Product != nil && !c.Product.IsKidProduct {
			out = append(out, c)
		}
	}
	return out
}
