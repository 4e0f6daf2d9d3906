package domain

import "testing"

func cand(id, query string) Candidate {
	return Candidate{Product: &Product{ID: id}, Query: query}
}

func TestInterleaveCandidates(t *testing.T) {
	a := []Candidate{cand("r1", "a"), cand("r2", "a"), cand("r3", "a")}
	b := []Candidate{cand("b1", "b"), cand("b2", "b"), cand("b3", "b")}

	got := InterleaveCandidates([][]Candidate{a, b})

	want := []string{"r1", "b1", "r2", "b2", "r3", "b3"}
	if len(got) != len(want) {
		t.Fatalf("want %d candidates, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].Product.ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].Product.ID)
		}
	}
}

func TestInterleaveCandidates_UnevenLists(t *testing.T) {
	a := []Candidate{cand("a1", "a")}
	b := []Candidate{cand("b1", "b"), cand("b2", "b"), cand("b3", "b")}

	got := InterleaveCandidates([][]Candidate{a, b})

	want := []string{"a1", "b1", "b2", "b3"}
	for i, id := range want {
		if got[i].Product.ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].Product.ID)
		}
	}
}

func TestDedupCandidates_KeepsFirst(t *testing.T) {
	in := []Candidate{cand("p1", "a"), cand("p2", "b"), cand("p1", "b")}

	got := DedupCandidates(in)

	if len(got) != 2 {
		t.Fatalf("want 2, got %d", len(got))
	}
	if got[0].Query != "a" {
		t.Fatalf("first occurrence must win, got query %q", got[0].Query)
	}
}

func TestDedupCandidates_DropsNilAndEmpty(t *testing.T) {
	in := []Candidate{{Product: nil}, cand("", "a"), cand("p1", "a")}

	got := DedupCandidates(in)
	if len(got) != 1 || got[0].Product.ID != "p1" {
		t.Fatalf("want only p1, got %v", got)
	}
}

func TestFilterRenderable(t *testing.T) {
	withImage := cand("with", "")
	withImage.Product.S3ImageURLs = []string{"s3://images/1.jpg"}
	without := cand("without", "")

	got := FilterRenderable([]Candidate{withImage, without})
	if len(got) != 1 || got[0].Product.ID != "with" {
		t.Fatalf("want only the renderable product, got %v", got)
	}
}

func TestFilterAdult(t *testing.T) {
	kid := cand("kid", "")
	kid.Product.IsKidProduct = true
	adult := cand("adult", "")

	got := FilterAdult([]Candidate{kid, adult})
	if len(got) != 1 || got[0].Product.ID != "adult" {
		t.Fatalf("want only the adult product, got %v", got)
	}
}
