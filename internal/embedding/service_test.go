package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fetchr/discovery/internal/domain"
)

type fakeTextEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int64
}

func (f *fakeTextEmbedder) EmbedText(_ context.Context, _ string, _ int, _ InputType) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(f.vec))
	copy(out, f.vec)
	return out, nil
}

type fakeImageEmbedder struct {
	vec   []float32
	calls atomic.Int64
}

func (f *fakeImageEmbedder) EmbedImage(_ context.Context, _ []byte) ([]float32, error) {
	f.calls.Add(1)
	out := make([]float32, len(f.vec))
	copy(out, f.vec)
	return out, nil
}

type fakeMultimodalEmbedder struct {
	vec []float32
}

func (f *fakeMultimodalEmbedder) EmbedMultimodal(_ context.Context, _ string, _ []byte, _ int) ([]float32, error) {
	out := make([]float32, len(f.vec))
	copy(out, f.vec)
	return out, nil
}

func newTestService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestEmbedQuery_ConcatenatesInDeclaredOrder(t *testing.T) {
	voyage := &fakeTextEmbedder{vec: []float32{1, 2}}
	sig := &fakeTextEmbedder{vec: []float32{3}}
	svc := newTestService(t, &Config{Voyage: voyage, SiglipText: sig})

	specs := []ModelSpec{Spec(ModelVoyage3Large), Spec(ModelSiglip)}
	got, err := svc.EmbedQuery(context.Background(), "red dress", specs)
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}

	want := []float32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("dimension: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("component %d: want %v, got %v (order must follow the composite)", i, want[i], got[i])
		}
	}
}

func TestEmbedQuery_ZeroMultiplierMasksComponent(t *testing.T) {
	voyage := &fakeTextEmbedder{vec: []float32{1, 1}}
	svc := newTestService(t, &Config{Voyage: voyage})

	specs := []ModelSpec{
		Spec(ModelVoyage3Large),
		{Model: ModelVoyage3Large, Multiplier: 0},
	}
	got, err := svc.EmbedQuery(context.Background(), "blue jeans", specs)
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("masked component must keep its dimensions, got len %d", len(got))
	}
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("identity component altered: %v", got[:2])
	}
	if got[2] != 0 || got[3] != 0 {
		t.Errorf("masked component not zeroed: %v", got[2:])
	}
}

func TestEmbedQuery_CachesByTextAndSpec(t *testing.T) {
	voyage := &fakeTextEmbedder{vec: []float32{1}}
	svc := newTestService(t, &Config{Voyage: voyage})

	specs := []ModelSpec{Spec(ModelVoyage3Large)}
	ctx := context.Background()

	for range 3 {
		if _, err := svc.EmbedQuery(ctx, "linen shirt", specs); err != nil {
			t.Fatalf("EmbedQuery: %v", err)
		}
	}
	if n := voyage.calls.Load(); n != 1 {
		t.Fatalf("repeated identical query: want 1 backend call, got %d", n)
	}

	// A different composite must not reuse the cached vector.
	other := []ModelSpec{{Model: ModelVoyage3Large, OutputDim: 1024, Multiplier: 1}}
	if _, err := svc.EmbedQuery(ctx, "linen shirt", other); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if n := voyage.calls.Load(); n != 2 {
		t.Fatalf("changed spec: want 2 backend calls, got %d", n)
	}
}

func TestEmbedQuery_UnknownModel(t *testing.T) {
	svc := newTestService(t, &Config{})

	_, err := svc.EmbedQuery(context.Background(), "q", []ModelSpec{{Model: "bert", Multiplier: 1}})
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("want ErrUnknownModel, got %v", err)
	}
}

func TestEmbedQuery_ComponentFailureFailsComposite(t *testing.T) {
	voyage := &fakeTextEmbedder{vec: []float32{1}}
	sig := &fakeTextEmbedder{err: errors.New("siglip down")}
	svc := newTestService(t, &Config{Voyage: voyage, SiglipText: sig})

	specs := []ModelSpec{Spec(ModelVoyage3Large), Spec(ModelSiglip)}
	if _, err := svc.EmbedQuery(context.Background(), "q", specs); err == nil {
		t.Fatal("expected composite failure when a component fails")
	}
}

func TestBatchEmbedQueries_AlignsWithInput(t *testing.T) {
	voyage := &fakeTextEmbedder{vec: []float32{7}}
	svc := newTestService(t, &Config{Voyage: voyage, Concurrency: 2})

	texts := []string{"a", "b", "c", "d", "e"}
	got, err := svc.BatchEmbedQueries(context.Background(), texts, []ModelSpec{Spec(ModelVoyage3Large)})
	if err != nil {
		t.Fatalf("BatchEmbedQueries: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("want %d results, got %d", len(texts), len(got))
	}
	for i, v := range got {
		if len(v) != 1 || v[0] != 7 {
			t.Errorf("result %d: unexpected vector %v", i, v)
		}
	}
}

func TestEmbedImage_CachesByContent(t *testing.T) {
	img := &fakeImageEmbedder{vec: []float32{0.5}}
	svc := newTestService(t, &Config{SiglipImage: img})

	ctx := context.Background()
	payload := []byte("jpeg-bytes")

	if _, err := svc.EmbedImage(ctx, payload); err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if _, err := svc.EmbedImage(ctx, payload); err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if n := img.calls.Load(); n != 1 {
		t.Fatalf("identical image: want 1 backend call, got %d", n)
	}

	if _, err := svc.EmbedImage(ctx, []byte("other-bytes")); err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if n := img.calls.Load(); n != 2 {
		t.Fatalf("different image: want 2 backend calls, got %d", n)
	}
}
