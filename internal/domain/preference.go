package domain

// PreferenceType is a user's recorded reaction to a suggestion.
type PreferenceType string

const (
	PreferenceUnset     PreferenceType = ""
	PreferenceLike      PreferenceType = "LIKE"
	PreferenceDislike   PreferenceType = "DISLIKE"
	PreferenceSuperlike PreferenceType = "SUPERLIKE"
	PreferenceMaybe     PreferenceType = "MAYBE"
)

// ProductPreference records a user's reaction to a catalog product within one
// discovery request and cohort. Records are unique per
// (request, product, cohort, user) and are never overwritten across cohorts.
type ProductPreference struct {
	ID        string
	UserID    string
	RequestID string
	ProductID string
	Cohort    int
	Query     string // the originating search query, for attribution
	Type      PreferenceType
	Comment   string
}

// ImagePreference records a reaction to an arbitrary reference image rather
// than a catalog product. It carries its own embedding directly, so reranking
// needs no index lookup for it.
type ImagePreference struct {
	ID        string
	UserID    string
	RequestID string
	ImageURL  string
	Type      PreferenceType
	Embedding []float32
}
