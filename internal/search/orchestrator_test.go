package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/preference"
)

type fakeRetriever struct {
	results    map[string][]domain.Candidate
	errQueries map[string]bool
	embeddings map[string][]float32
	embedErr   error

	mu       sync.Mutex
	seenTopK int
}

func (f *fakeRetriever) SearchByText(_ context.Context, q domain.SearchQuery) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.seenTopK = q.TopK
	f.mu.Unlock()
	if f.errQueries[q.Query] {
		return nil, errors.New("index unavailable")
	}
	return f.results[q.Query], nil
}

func (f *fakeRetriever) Embeddings(_ context.Context, _ method.Method, ids []string) (map[string][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := f.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type fakePrefStore struct {
	prods    []domain.ProductPreference
	images   []domain.ImagePreference
	prodErr  error
	inserted []preference.Placeholder
	userID   string
}

func (f *fakePrefStore) ProductPreferences(context.Context, string) ([]domain.ProductPreference, error) {
	return f.prods, f.prodErr
}

func (f *fakePrefStore) ImagePreferences(context.Context, string) ([]domain.ImagePreference, error) {
	return f.images, nil
}

func (f *fakePrefStore) InsertPlaceholders(_ context.Context, userID, _ string, items []preference.Placeholder) error {
	f.userID = userID
	f.inserted = append(f.inserted, items...)
	return nil
}

func candidate(id, query string, score float64) domain.Candidate {
	return domain.Candidate{
		Product: &domain.Product{ID: id, S3ImageURLs: []string{"s3://images/" + id + ".jpg"}},
		Score:   score,
		Query:   query,
	}
}

func newTestOrchestrator(r *fakeRetriever, p preference.Store, opts Options) *Orchestrator {
	return NewOrchestrator(method.NewRegistry(method.Options{}), r, p, opts, zap.NewNop())
}

func ids(cs []domain.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Product.ID
	}
	return out
}

func TestDiscover_InterleavesRoundRobin(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"red dress":  {candidate("r1", "red dress", 3), candidate("r2", "red dress", 2), candidate("r3", "red dress", 1)},
		"blue jeans": {candidate("b1", "blue jeans", 3), candidate("b2", "blue jeans", 2), candidate("b3", "blue jeans", 1)},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{
		Queries: []string{"red dress", "blue jeans"},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"r1", "b1", "r2", "b2", "r3", "b3"}
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("want %v, got %v", want, gotIDs)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("want %v, got %v", want, gotIDs)
		}
	}
}

func TestDiscover_DeduplicatesKeepingFirst(t *testing.T) {
	shared := candidate("both", "b", 1)
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"a": {candidate("both", "a", 2)},
		"b": {shared},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{Queries: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 candidate after dedup, got %d", len(got))
	}
	if got[0].Query != "a" {
		t.Fatalf("dedup must keep the first occurrence, got query %q", got[0].Query)
	}
}

func TestDiscover_IsolatesFailedQueries(t *testing.T) {
	r := &fakeRetriever{
		results:    map[string][]domain.Candidate{"good": {candidate("p1", "good", 1)}},
		errQueries: map[string]bool{"bad": true},
	}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{Queries: []string{"bad", "good"}})
	if err != nil {
		t.Fatalf("one failed query must not abort the rest: %v", err)
	}
	if len(got) != 1 || got[0].Product.ID != "p1" {
		t.Fatalf("want surviving query's results, got %v", ids(got))
	}
}

func TestDiscover_EmptyIsNotAnError(t *testing.T) {
	prefs := &fakePrefStore{}
	o := newTestOrchestrator(&fakeRetriever{}, prefs, Options{})

	got, err := o.Discover(context.Background(), Request{
		UserID:    "u1",
		RequestID: "req1",
		Queries:   []string{"nothing"},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty, got %v", ids(got))
	}
	if len(prefs.inserted) != 0 {
		t.Fatal("no placeholders must be written for an empty result")
	}
}

func TestDiscover_OverfetchesPerQuery(t *testing.T) {
	r := &fakeRetriever{}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{OverfetchFactor: 5})

	if _, err := o.Discover(context.Background(), Request{
		SearchQuery: domain.SearchQuery{TopK: 10},
		Queries:     []string{"q"},
	}); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if r.seenTopK != 50 {
		t.Fatalf("want per-query topK 50, got %d", r.seenTopK)
	}
}

func TestDiscover_FiltersKidAndUnrenderable(t *testing.T) {
	kid := candidate("kid", "q", 3)
	kid.Product.IsKidProduct = true
	noImage := candidate("noimg", "q", 2)
	noImage.Product.S3ImageURLs = nil

	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {kid, noImage, candidate("ok", "q", 1)},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{Queries: []string{"q"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Product.ID != "ok" {
		t.Fatalf("want only the renderable adult product, got %v", ids(got))
	}
}

func TestDiscover_TruncatesToTopK(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {candidate("p1", "q", 3), candidate("p2", "q", 2), candidate("p3", "q", 1)},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{
		SearchQuery: domain.SearchQuery{TopK: 2},
		Queries:     []string{"q"},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %d", len(got))
	}
}

func TestDiscover_OnePerQueryCollapses(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"boho":    {candidate("b1", "boho", 2), candidate("b2", "boho", 1)},
		"minimal": {candidate("m1", "minimal", 2), candidate("m2", "minimal", 1)},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Discover(context.Background(), Request{
		Queries:     []string{"boho", "minimal"},
		OnePerQuery: true,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want one candidate per query, got %v", ids(got))
	}
	if got[0].Product.ID != "b1" || got[1].Product.ID != "m1" {
		t.Fatalf("want top candidate of each query, got %v", ids(got))
	}
}

func TestDiscover_RerankPromotesLikedSimilar(t *testing.T) {
	r := &fakeRetriever{
		results: map[string][]domain.Candidate{
			"q": {candidate("plain", "q", 2), candidate("similar", "q", 1)},
		},
		embeddings: map[string][]float32{
			"plain":   {0, 1},
			"similar": {1, 0},
			"liked":   {1, 0},
		},
	}
	prefs := &fakePrefStore{prods: []domain.ProductPreference{
		{ProductID: "liked", Type: domain.PreferenceLike},
	}}
	o := newTestOrchestrator(r, prefs, Options{})

	got, err := o.Discover(context.Background(), Request{
		UserID:    "u1",
		RequestID: "req1",
		Queries:   []string{"q"},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got[0].Product.ID != "similar" {
		t.Fatalf("liked-similar candidate must rank first, got %v", ids(got))
	}
}

func TestDiscover_PreferenceLoadFailureKeepsOrder(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {candidate("p1", "q", 2), candidate("p2", "q", 1)},
	}}
	prefs := &fakePrefStore{prodErr: errors.New("postgres down")}
	o := newTestOrchestrator(r, prefs, Options{})

	got, err := o.Discover(context.Background(), Request{
		UserID:    "u1",
		RequestID: "req1",
		Queries:   []string{"q"},
	})
	if err != nil {
		t.Fatalf("preference load failure must not fail the search: %v", err)
	}
	if got[0].Product.ID != "p1" || got[1].Product.ID != "p2" {
		t.Fatalf("retrieval order must be preserved, got %v", ids(got))
	}
}

func TestDiscover_WritesPlaceholdersForShown(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {candidate("p1", "q", 2), candidate("p2", "q", 1)},
	}}
	prefs := &fakePrefStore{}
	o := newTestOrchestrator(r, prefs, Options{})

	if _, err := o.Discover(context.Background(), Request{
		UserID:    "u1",
		RequestID: "req1",
		Queries:   []string{"q"},
	}); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if prefs.userID != "u1" {
		t.Fatalf("placeholders written for wrong user: %q", prefs.userID)
	}
	if len(prefs.inserted) != 2 {
		t.Fatalf("want 2 placeholders, got %d", len(prefs.inserted))
	}
	if prefs.inserted[0].Query != "q" {
		t.Fatalf("placeholder must carry the originating query, got %q", prefs.inserted[0].Query)
	}
}

func TestDiscover_NoPlaceholdersWithoutIdentity(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {candidate("p1", "q", 1)},
	}}
	prefs := &fakePrefStore{}
	o := newTestOrchestrator(r, prefs, Options{})

	if _, err := o.Discover(context.Background(), Request{Queries: []string{"q"}}); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(prefs.inserted) != 0 {
		t.Fatal("anonymous requests must not write placeholders")
	}
}

func TestDiscover_UnknownMethod(t *testing.T) {
	o := newTestOrchestrator(&fakeRetriever{}, &fakePrefStore{}, Options{})

	_, err := o.Discover(context.Background(), Request{
		SearchQuery: domain.SearchQuery{Method: "bm25"},
		Queries:     []string{"q"},
	})
	if !errors.Is(err, domain.ErrUnknownMethod) {
		t.Fatalf("want ErrUnknownMethod, got %v", err)
	}
}

func TestSearch_DelegatesToRetriever(t *testing.T) {
	r := &fakeRetriever{results: map[string][]domain.Candidate{
		"q": {candidate("p1", "", 1)},
	}}
	o := newTestOrchestrator(r, &fakePrefStore{}, Options{})

	got, err := o.Search(context.Background(), domain.SearchQuery{Query: "q"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Product.ID != "p1" {
		t.Fatalf("want p1, got %v", ids(got))
	}
}
