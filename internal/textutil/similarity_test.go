package textutil_test

import (
	"testing"

	"loom/internal/textutil"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace only", "  \t\n ", ""},
		{"collapses runs", "Revenue   grew\t10%", "revenue grew 10%"},
		{"case folds", "REVENUE Grew 10%", "revenue grew 10%"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := textutil.Normalize(tc.input); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestRatioBounds(t *testing.T) {
	if got := textutil.Ratio("", ""); got != 1 {
		t.Fatalf("Ratio of two empties = %v, want 1", got)
	}
	if got := textutil.Ratio("abc", ""); got != 0 {
		t.Fatalf("Ratio against empty = %v, want 0", got)
	}
	if got := textutil.Ratio("revenue grew 10%", "revenue grew 10%"); got != 1 {
		t.Fatalf("identical Ratio = %v, want 1", got)
	}
	if got := textutil.Ratio("xyz", "abc"); got != 0 {
		t.Fatalf("disjoint Ratio = %v, want 0", got)
	}
}

func TestRatioNearMatch(t *testing.T) {
	got := textutil.NormalizedRatio(
		"Revenue increased 10% this quarter",
		"Revenue grew 10%",
	)
	if got < 0.5 || got >= 1 {
		t.Fatalf("near-match ratio = %v, want in [0.5, 1)", got)
	}

	far := textutil.NormalizedRatio("Revenue grew 10%", "Headcount doubled in Berlin")
	if far >= got {
		t.Fatalf("unrelated ratio %v should be below related ratio %v", far, got)
	}
}

func TestRatioSymmetry(t *testing.T) {
	a, b := "structured knowledge entity", "knowledge entity structure"
	if ab, ba := textutil.Ratio(a, b), textutil.Ratio(b, a); ab != ba {
		t.Fatalf("Ratio not symmetric: %v vs %v", ab, ba)
	}
}

func TestNormalizedRatioIgnoresFormatting(t *testing.T) {
	if got := textutil.NormalizedRatio("Revenue\tGREW  10%", "revenue grew 10%"); got != 1 {
		t.Fatalf("formatting-only differences should score 1, got %v", got)
	}
}
