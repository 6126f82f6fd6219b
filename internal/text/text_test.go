package text

import (
	"strings"
	"testing"
)

func TestNormalize_CollapsesWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	got := Normalize("  AcmeDrug\t Phase\n2  Trial ")
	if got != "acmedrug phase 2 trial" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	if got := Normalize("   \t\n"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestTokenize_SplitsOnPunctuation(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("FDA approves AcmeDrug-2, cites efficacy.")
	want := []string{"fda", "approves", "acmedrug", "2", "cites", "efficacy"}
	if len(tokens) != len(want) {
		t.Fatalf("unexpected token count: got %d want %d (%v)", len(tokens), len(want), tokens)
	}
	for i, token := range tokens {
		if token != want[i] {
			t.Fatalf("unexpected token at %d: got %q want %q", i, token, want[i])
		}
	}
}

func TestTokenJaccard_PartialOverlap(t *testing.T) {
	t.Parallel()

	score := TokenJaccard("Acme reports trial success", "Acme reports trial setback")
	if score <= 0 || score >= 1 {
		t.Fatalf("expected partial overlap score in (0,1), got %f", score)
	}
}

func TestTrigramJaccard_IdenticalAndDisjoint(t *testing.T) {
	t.Parallel()

	if score := TrigramJaccard("Phase 3 results", "Phase 3 results"); score != 1 {
		t.Fatalf("expected identical titles to score 1.0, got %f", score)
	}
	if score := TrigramJaccard("oncology", "zzzzqqqq"); score != 0 {
		t.Fatalf("expected disjoint titles to score 0.0, got %f", score)
	}
}

func TestTrigramJaccard_NearDuplicateHigh(t *testing.T) {
	t.Parallel()

	left := "Acme wins FDA approval for AcmeDrug in lung cancer"
	right := "Acme wins FDA approval for AcmeDrug in lung cancers"
	if score := TrigramJaccard(left, right); score < 0.9 {
		t.Fatalf("expected near-duplicate titles to score >= 0.9, got %f", score)
	}
}

func TestLevenshteinRatio_TypoScoresHigh(t *testing.T) {
	t.Parallel()

	if score := LevenshteinRatio("Pfzer Inc", "Pfizer Inc"); score != 0.9 {
		t.Fatalf("expected single-edit ratio 0.9, got %f", score)
	}
}

func TestLevenshteinRatio_IdenticalAndEmpty(t *testing.T) {
	t.Parallel()

	if score := LevenshteinRatio("Novartis", "novartis"); score != 1 {
		t.Fatalf("expected case-insensitive identity to score 1.0, got %f", score)
	}
	if score := LevenshteinRatio("", "Novartis"); score != 0 {
		t.Fatalf("expected empty input to score 0.0, got %f", score)
	}
}

func TestTruncateSentence_PrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	input := "First sentence here. Second sentence is much longer and will not fit."
	got := TruncateSentence(input, 30)
	if got != "First sentence here." {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestTruncateSentence_NoBoundaryAddsEllipsis(t *testing.T) {
	t.Parallel()

	got := TruncateSentence("a sentence without any terminator that keeps going", 20)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if len([]rune(got)) != 23 {
		t.Fatalf("unexpected truncated length: got %d want 23", len([]rune(got)))
	}
}

func TestTruncateSentence_ShortInputUnchanged(t *testing.T) {
	t.Parallel()

	if got := TruncateSentence("short text", 150); got != "short text" {
		t.Fatalf("unexpected result: %q", got)
	}
}
