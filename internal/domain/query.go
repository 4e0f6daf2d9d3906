package domain

// SearchQuery is the ephemeral description of one retrieval call: the query
// text plus optional attribute filters and the method/topK selection.
type SearchQuery struct {
	Query  string
	Method string // search method identifier; "" selects the default method
	TopK   int    // desired result count; 0 selects the default of 10

	Gender   Gender
	Category Category

	MinPrice float64
	MaxPrice float64 // 0 means no upper bound

	BrandIDs []string

	// ProductIDAllowlist and ProductIDDenylist are mutually exclusive; when
	// both are set the allowlist wins.
	ProductIDAllowlist []string
	ProductIDDenylist  []string

	EmbeddingVersion int // 0 means unversioned
}

// EffectiveTopK returns TopK with the default of 10 applied.
func (q SearchQuery) EffectiveTopK() int {
	if q.TopK <= 0 {
		return 10
	}
	return q.TopK
}
