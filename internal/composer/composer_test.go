package composer

import (
	"strings"
	"testing"

	"grimoire/internal/retrieval"
)

func TestAssembleContext_Empty(t *testing.T) {
	if got := AssembleContext(nil, 100); got != "" {
		t.Errorf("AssembleContext(nil) = %q, want empty", got)
	}
}

func TestAssembleContext_RankingOrder(t *testing.T) {
	results := []retrieval.Result{
		{Title: "Fireball", Text: "A spell dealing fire damage.", Score: 0.9},
		{Title: "Ice Lance", Text: "A spell dealing cold damage.", Score: 0.4},
	}

	got := AssembleContext(results, 1000)
	fire := strings.Index(got, "Fireball")
	ice := strings.Index(got, "Ice Lance")
	if fire < 0 || ice < 0 {
		t.Fatalf("missing entries in %q", got)
	}
	if fire > ice {
		t.Error("entries not in ranking order")
	}
	if !strings.Contains(got, "A spell dealing fire damage.") {
		t.Errorf("missing body text in %q", got)
	}
}

func TestAssembleContext_NeverExceedsBudget(t *testing.T) {
	results := []retrieval.Result{
		{Title: "One", Text: strings.Repeat("a", 50)},
		{Title: "Two", Text: strings.Repeat("b", 50)},
		{Title: "Three", Text: strings.Repeat("c", 50)},
	}

	for _, budget := range []int{10, 37, 60, 100, 500} {
		got := AssembleContext(results, budget)
		if len(got) > budget {
			t.Errorf("budget %d: context is %d bytes", budget, len(got))
		}
	}
}

func TestAssembleContext_TruncatesLastEntry(t *testing.T) {
	results := []retrieval.Result{
		{Title: "First", Text: "short"},
		{Title: "Second", Text: strings.Repeat("x", 200)},
	}

	first := "[First]\nshort\n\n"
	budget := len(first) + 20
	got := AssembleContext(results, budget)

	if !strings.HasPrefix(got, first) {
		t.Fatalf("first entry missing from %q", got)
	}
	// The second entry must be present but cut, not silently dropped.
	if !strings.Contains(got, "[Second]") {
		t.Errorf("second entry dropped instead of truncated: %q", got)
	}
	if len(got) != budget {
		t.Errorf("got %d bytes, want exactly %d", len(got), budget)
	}
}

func TestAssembleContext_TruncationKeepsValidUTF8(t *testing.T) {
	results := []retrieval.Result{
		{Title: "Runas", Text: strings.Repeat("é", 100)},
	}

	got := AssembleContext(results, 20)
	if len(got) > 20 {
		t.Fatalf("context is %d bytes", len(got))
	}
	if !strings.HasPrefix(got, "[Runas]") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation split a UTF-8 sequence")
		}
	}
}

func TestAssembleContext_DefaultBudget(t *testing.T) {
	results := []retrieval.Result{
		{Title: "Big", Text: strings.Repeat("z", 2*DefaultMaxContextChars)},
	}

	got := AssembleContext(results, 0)
	if len(got) > DefaultMaxContextChars {
		t.Errorf("context is %d bytes, want <= %d", len(got), DefaultMaxContextChars)
	}
}

func TestUserPrompt(t *testing.T) {
	got := UserPrompt("ctx", "how much damage?")
	want := "Context: ctx. Question: how much damage?"
	if got != want {
		t.Errorf("UserPrompt = %q, want %q", got, want)
	}
}
