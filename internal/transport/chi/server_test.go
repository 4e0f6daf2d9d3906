package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/search"
)

type fakeDiscovery struct {
	result      []domain.Candidate
	err         error
	lastQuery   domain.SearchQuery
	lastRequest search.Request
}

func (f *fakeDiscovery) Search(_ context.Context, q domain.SearchQuery) ([]domain.Candidate, error) {
	f.lastQuery = q
	return f.result, f.err
}

func (f *fakeDiscovery) Discover(_ context.Context, req search.Request) ([]domain.Candidate, error) {
	f.lastRequest = req
	return f.result, f.err
}

type fakeIndexer struct {
	upserted   []method.Method
	allMethods []method.Method
	similar    []domain.Candidate
	similarErr error
	deleted    []method.Method
	upsertErr  error
}

func (f *fakeIndexer) UpsertProduct(_ context.Context, _ domain.Product, m method.Method) (bool, error) {
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	f.upserted = append(f.upserted, m)
	return true, nil
}

func (f *fakeIndexer) UpsertAllMethods(context.Context, domain.Product) ([]method.Method, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.allMethods, nil
}

func (f *fakeIndexer) SearchBySimilarProduct(context.Context, string, domain.SearchQuery) ([]domain.Candidate, error) {
	return f.similar, f.similarErr
}

func (f *fakeIndexer) DeleteAll(_ context.Context, m method.Method) error {
	f.deleted = append(f.deleted, m)
	return nil
}

type fakeCatalog struct {
	products map[string]domain.Product
}

func (f *fakeCatalog) Product(_ context.Context, id string) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeCatalog) ProductsByIDs(context.Context, []string) ([]domain.Product, error) {
	return nil, nil
}

func (f *fakeCatalog) ProductsPage(context.Context, int, int) ([]domain.Product, error) {
	return nil, nil
}

func (f *fakeCatalog) BrandName(context.Context, string) (string, error)    { return "", nil }
func (f *fakeCatalog) SubBrandName(context.Context, string) (string, error) { return "", nil }

type testServer struct {
	discovery *fakeDiscovery
	indexer   *fakeIndexer
	handler   http.Handler
}

func newTestServer(checks map[string]func(context.Context) error) *testServer {
	d := &fakeDiscovery{}
	i := &fakeIndexer{}
	cat := &fakeCatalog{products: map[string]domain.Product{
		"p1": {ID: "p1", Title: "Linen Shirt", Price: 59},
	}}
	s := NewServer(d, i, cat, method.NewRegistry(method.Options{}), checks, zap.NewNop())

	r := chi.NewRouter()
	s.Mount(r)
	return &testServer{discovery: d, indexer: i, handler: r}
}

func (ts *testServer) do(t *testing.T, httpMethod, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(httpMethod, path, &buf)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestSearch_OK(t *testing.T) {
	ts := newTestServer(nil)
	ts.discovery.result = []domain.Candidate{
		{Product: &domain.Product{ID: "p1", Title: "Linen Shirt"}, Score: 0.9},
	}

	rr := ts.do(t, "POST", "/v1/search", searchRequest{Query: "linen shirt", TopK: 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp candidateListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].Product.ID != "p1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if ts.discovery.lastQuery.TopK != 5 {
		t.Fatalf("top_k not passed through, got %d", ts.discovery.lastQuery.TopK)
	}
}

func TestSearch_MissingQuery_400(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "POST", "/v1/search", searchRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestSearch_UnknownMethod_400(t *testing.T) {
	ts := newTestServer(nil)
	ts.discovery.err = &domain.UnknownMethodError{Method: "bm25"}

	rr := ts.do(t, "POST", "/v1/search", searchRequest{Query: "q", Method: "bm25"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "unknown_method" {
		t.Fatalf("got code %q, want unknown_method", resp.Code)
	}
}

func TestSearch_ProviderError_502(t *testing.T) {
	ts := newTestServer(nil)
	ts.discovery.err = domain.ErrEmbeddingProviderError

	rr := ts.do(t, "POST", "/v1/search", searchRequest{Query: "q"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("got %d, want 502", rr.Code)
	}
}

func TestDiscover_PassesRequestThrough(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "POST", "/v1/discover", discoverRequest{
		searchRequest: searchRequest{TopK: 3, Gender: "FEMALE"},
		UserID:        "u1",
		RequestID:     "req1",
		Queries:       []string{"boho", "minimal"},
		OnePerQuery:   true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rr.Code, rr.Body.String())
	}

	got := ts.discovery.lastRequest
	if len(got.Queries) != 2 || got.UserID != "u1" || got.RequestID != "req1" || !got.OnePerQuery {
		t.Fatalf("request not passed through: %+v", got)
	}
	if got.Gender != domain.GenderFemale {
		t.Fatalf("filters not passed through: %+v", got.SearchQuery)
	}
}

func TestDiscover_EmptyQueries_400(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "POST", "/v1/discover", discoverRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestSimilar_NoEmbedding_404(t *testing.T) {
	ts := newTestServer(nil)
	ts.indexer.similarErr = domain.ErrNoEmbedding

	rr := ts.do(t, "GET", "/v1/products/p1/similar", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestSimilar_BadTopK_400(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "GET", "/v1/products/p1/similar?top_k=nope", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestIndexProduct_SingleMethod(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "POST", "/v1/products/p1/index", indexRequest{Method: "voyage_text"})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rr.Code, rr.Body.String())
	}
	if len(ts.indexer.upserted) != 1 || ts.indexer.upserted[0] != method.VoyageText {
		t.Fatalf("want single voyage_text upsert, got %v", ts.indexer.upserted)
	}
}

func TestIndexProduct_AllMethods(t *testing.T) {
	ts := newTestServer(nil)
	ts.indexer.allMethods = []method.Method{method.VoyageText, method.SparseClean}

	rr := ts.do(t, "POST", "/v1/products/p1/index", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp indexResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Methods) != 2 {
		t.Fatalf("want 2 methods, got %v", resp.Methods)
	}
}

func TestIndexProduct_UnknownProduct_404(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "POST", "/v1/products/missing/index", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestIndexProduct_AllMethodsFailed_502(t *testing.T) {
	ts := newTestServer(nil)
	ts.indexer.upsertErr = domain.ErrAllMethodsFailed

	rr := ts.do(t, "POST", "/v1/products/p1/index", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("got %d, want 502", rr.Code)
	}
}

func TestDeleteIndex_OK(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "DELETE", "/v1/index/voyage_text", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rr.Code)
	}
	if len(ts.indexer.deleted) != 1 || ts.indexer.deleted[0] != method.VoyageText {
		t.Fatalf("want voyage_text deleted, got %v", ts.indexer.deleted)
	}
}

func TestDeleteIndex_UnknownMethod_400(t *testing.T) {
	ts := newTestServer(nil)

	rr := ts.do(t, "DELETE", "/v1/index/bm25", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestHealth_OK(t *testing.T) {
	ts := newTestServer(map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
	})

	rr := ts.do(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
}

func TestHealth_FailingCheck_503(t *testing.T) {
	ts := newTestServer(map[string]func(context.Context) error{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := ts.do(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rr.Code)
	}
}
