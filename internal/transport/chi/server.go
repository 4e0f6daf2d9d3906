// Package chi exposes the discovery core over a thin HTTP surface.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/catalog"
	"github.com/fetchr/discovery/internal/domain"
	logpkg "github.com/fetchr/discovery/internal/logger"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/search"
)

// Discovery is the search entry point the server fronts.
type Discovery interface {
	Search(ctx context.Context, q domain.SearchQuery) ([]domain.Candidate, error)
	Discover(ctx context.Context, req search.Request) ([]domain.Candidate, error)
}

// Indexer is the slice of the retrieval engine the indexing routes consume.
type Indexer interface {
	UpsertProduct(ctx context.Context, p domain.Product, m method.Method) (bool, error)
	UpsertAllMethods(ctx context.Context, p domain.Product) ([]method.Method, error)
	SearchBySimilarProduct(ctx context.Context, productID string, q domain.SearchQuery) ([]domain.Candidate, error)
	DeleteAll(ctx context.Context, m method.Method) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server handles the discovery HTTP API.
type Server struct {
	discovery     Discovery
	indexer       Indexer
	catalog       catalog.Store
	methods       *method.Registry
	checks        map[string]func(context.Context) error
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. checks are named readiness probes run
// by the health endpoint; nil disables dependency checks.
func NewServer(
	discovery Discovery,
	indexer Indexer,
	cat catalog.Store,
	methods *method.Registry,
	checks map[string]func(context.Context) error,
	logger *zap.Logger,
) *Server {
	s := &Server{
		discovery: discovery,
		indexer:   indexer,
		catalog:   cat,
		methods:   methods,
		checks:    checks,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnknownMethod, http.StatusBadRequest, "unknown_method"),
		sentinelHandler(domain.ErrInvalidAlpha, http.StatusBadRequest, "invalid_alpha"),
		sentinelHandler(domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"),
		sentinelHandler(domain.ErrNoEmbedding, http.StatusNotFound, "no_embedding"),
		sentinelHandler(domain.ErrNoImages, http.StatusUnprocessableEntity, "no_images"),
		sentinelHandler(domain.ErrAllMethodsFailed, http.StatusBadGateway, "all_methods_failed"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrSparseProviderError, http.StatusBadGateway, "sparse_provider_error"),
	}
	return s
}

// Mount registers the API routes on the router.
func (s *Server) Mount(r chi.Router) {
	r.Post("/v1/search", s.handleSearch)
	r.Post("/v1/discover", s.handleDiscover)
	r.Get("/v1/products/{id}/similar", s.handleSimilar)
	r.Post("/v1/products/{id}/index", s.handleIndexProduct)
	r.Delete("/v1/index/{method}", s.handleDeleteIndex)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type searchRequest struct {
	Query              string   `json:"query"`
	Method             string   `json:"method,omitempty"`
	TopK               int      `json:"top_k,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	Category           string   `json:"category,omitempty"`
	MinPrice           float64  `json:"min_price,omitempty"`
	MaxPrice           float64  `json:"max_price,omitempty"`
	BrandIDs           []string `json:"brand_ids,omitempty"`
	ProductIDAllowlist []string `json:"product_id_allowlist,omitempty"`
	ProductIDDenylist  []string `json:"product_id_denylist,omitempty"`
}

func (r searchRequest) toDomain() domain.SearchQuery {
	return domain.SearchQuery{
		Query:              r.Query,
		Method:             r.Method,
		TopK:               r.TopK,
		Gender:             domain.Gender(r.Gender),
		Category:           domain.Category(r.Category),
		MinPrice:           r.MinPrice,
		MaxPrice:           r.MaxPrice,
		BrandIDs:           r.BrandIDs,
		ProductIDAllowlist: r.ProductIDAllowlist,
		ProductIDDenylist:  r.ProductIDDenylist,
	}
}

type discoverRequest struct {
	searchRequest

	UserID      string   `json:"user_id,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
	Queries     []string `json:"queries"`
	OnePerQuery bool     `json:"one_per_query,omitempty"`
}

type candidateJSON struct {
	Product productJSON `json:"product"`
	Score   float64     `json:"score"`
	Query   string      `json:"query,omitempty"`
}

type productJSON struct {
	ID                  string   `json:"id"`
	BrandID             string   `json:"brand_id,omitempty"`
	BrandName           string   `json:"brand_name,omitempty"`
	SubBrandName        string   `json:"sub_brand_name,omitempty"`
	Title               string   `json:"title"`
	URL                 string   `json:"url,omitempty"`
	Price               float64  `json:"price"`
	OriginalPrice       float64  `json:"original_price,omitempty"`
	Gender              string   `json:"gender,omitempty"`
	Category            string   `json:"category,omitempty"`
	Fit                 string   `json:"fit,omitempty"`
	Style               string   `json:"style,omitempty"`
	Colors              []string `json:"colors,omitempty"`
	Materials           []string `json:"materials,omitempty"`
	S3ImageURLs         []string `json:"s3_image_urls,omitempty"`
	CompressedImageURLs []string `json:"compressed_image_urls,omitempty"`
}

type candidateListResponse struct {
	Items []candidateJSON `json:"items"`
	Total int             `json:"total"`
}

// handleSearch handles POST /v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}

	candidates, err := s.discovery.Search(r.Context(), req.toDomain())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, candidateList(candidates))
}

// handleDiscover handles POST /v1/discover.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "queries must not be empty")
		return
	}

	candidates, err := s.discovery.Discover(r.Context(), search.Request{
		SearchQuery: req.toDomain(),
		UserID:      req.UserID,
		RequestID:   req.RequestID,
		Queries:     req.Queries,
		OnePerQuery: req.OnePerQuery,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, candidateList(candidates))
}

// handleSimilar handles GET /v1/products/{id}/similar.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := domain.SearchQuery{
		Method: r.URL.Query().Get("method"),
	}
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		topK, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "top_k must be a positive integer")
			return
		}
		q.TopK = topK
	}

	candidates, err := s.indexer.SearchBySimilarProduct(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, candidateList(candidates))
}

type indexRequest struct {
	Method string `json:"method,omitempty"`
}

type indexResponse struct {
	ProductID string   `json:"product_id"`
	Methods   []string `json:"methods"`
}

// handleIndexProduct handles POST /v1/products/{id}/index. Without a method
// in the body the product is indexed under every method.
func (s *Server) handleIndexProduct(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
			return
		}
	}

	id := chi.URLParam(r, "id")
	p, err := s.catalog.Product(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	var indexed []method.Method
	if req.Method != "" {
		m, err := s.methods.Parse(req.Method)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		if _, err := s.indexer.UpsertProduct(r.Context(), p, m); err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		indexed = []method.Method{m}
	} else {
		indexed, err = s.indexer.UpsertAllMethods(r.Context(), p)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
	}

	names := make([]string, len(indexed))
	for i, m := range indexed {
		names[i] = string(m)
	}
	writeJSON(w, http.StatusOK, indexResponse{ProductID: id, Methods: names})
}

// handleDeleteIndex handles DELETE /v1/index/{method}.
func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	m, err := s.methods.Parse(chi.URLParam(r, "method"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.indexer.DeleteAll(r.Context(), m); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "error"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	resp := map[string]any{"status": status}
	if len(checks) > 0 {
		resp["checks"] = checks
	}
	writeJSON(w, httpStatus, resp)
}

func candidateList(candidates []domain.Candidate) candidateListResponse {
	items := make([]candidateJSON, len(candidates))
	for i, c := range candidates {
		items[i] = candidateJSON{
			Product: productToJSON(c.Product),
			Score:   c.Score,
			Query:   c.Query,
		}
	}
	return candidateListResponse{Items: items, Total: len(items)}
}

func productToJSON(p *domain.Product) productJSON {
	return productJSON{
		ID:                  p.ID,
		BrandID:             p.BrandID,
		BrandName:           p.BrandName,
		SubBrandName:        p.SubBrandName,
		Title:               p.Title,
		URL:                 p.URL,
		Price:               p.Price,
		OriginalPrice:       p.OriginalPrice,
		Gender:              string(p.Gender),
		Category:            string(p.Category),
		Fit:                 string(p.Fit),
		Style:               p.Style,
		Colors:              p.Colors,
		Materials:           p.Materials,
		S3ImageURLs:         p.S3ImageURLs,
		CompressedImageURLs: p.CompressedImageURLs,
	}
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrUnknownMethod,
		domain.ErrInvalidAlpha,
		domain.ErrProductNotFound,
		domain.ErrNoEmbedding,
		domain.ErrNoImages,
		domain.ErrAllMethodsFailed,
		domain.ErrEmbeddingProviderError,
		domain.ErrSparseProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
