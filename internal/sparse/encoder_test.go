package sparse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func newEncodeServer(t *testing.T, failures int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= int64(failures) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req encodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := encodeResponse{}
		for range req.Texts {
			resp.Vectors = append(resp.Vectors, struct {
				Indices []uint32  `json:"indices"`
				Values  []float32 `json:"values"`
			}{Indices: []uint32{1, 5}, Values: []float32{0.4, 0.6}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(&Config{BaseURL: baseURL, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEncode_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := newEncodeServer(t, 2, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	sv, err := c.Encode(context.Background(), "wool coat", InputQuery)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if sv.IsEmpty() {
		t.Fatal("expected non-empty sparse vector")
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("want 3 attempts (2 failures + 1 success), got %d", n)
	}
}

func TestEncode_GivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int64
	srv := newEncodeServer(t, 100, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	if _, err := c.Encode(context.Background(), "wool coat", InputQuery); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := calls.Load(); n != maxRetries+1 {
		t.Fatalf("want %d attempts, got %d", maxRetries+1, n)
	}
}

func TestEncode_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	if _, err := c.Encode(context.Background(), "wool coat", InputQuery); err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", n)
	}
}

func TestEncode_CachesByExactTextAndType(t *testing.T) {
	var calls atomic.Int64
	srv := newEncodeServer(t, 0, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Encode(ctx, "silk scarf", InputQuery); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := c.Encode(ctx, "silk scarf", InputQuery); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("identical query text: want 1 request, got %d", n)
	}

	// Same text as a passage must be encoded separately.
	if _, err := c.Encode(ctx, "silk scarf", InputPassage); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("passage encoding must bypass the query cache entry, got %d requests", n)
	}

	// Near-identical text is a different key.
	if _, err := c.Encode(ctx, "silk scarf ", InputQuery); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("cache keys are exact text, got %d requests", n)
	}
}

func TestEncodeBatch_ServesCachedEntriesLocally(t *testing.T) {
	var calls atomic.Int64
	var lastBatch atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req encodeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		lastBatch.Store(int64(len(req.Texts)))

		resp := encodeResponse{}
		for range req.Texts {
			resp.Vectors = append(resp.Vectors, struct {
				Indices []uint32  `json:"indices"`
				Values  []float32 `json:"values"`
			}{Indices: []uint32{2}, Values: []float32{1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Encode(ctx, "b", InputPassage); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := c.EncodeBatch(ctx, []string{"a", "b", "c"}, InputPassage)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("want 3 vectors, got %d", len(out))
	}
	for i, sv := range out {
		if sv.IsEmpty() {
			t.Errorf("vector %d is empty", i)
		}
	}
	if n := lastBatch.Load(); n != 2 {
		t.Fatalf("cached entry must be excluded from the request, sent %d texts", n)
	}
}

var _ Encoder = (*Client)(nil)
