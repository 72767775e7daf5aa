package tokens

import "testing"

func TestFallbackCount(t *testing.T) {
	var e *Estimator // nil estimator uses the char-based fallback

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello world, hello", 5},
	}
	for _, tt := range tests {
		if got := e.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateUsage(t *testing.T) {
	e := &Estimator{}
	u := e.EstimateUsage("abcdefgh", "abcd")
	if u.PromptTokens != 2 || u.CompletionTokens != 1 {
		t.Errorf("usage = %+v, want 2 prompt / 1 completion", u)
	}
	if u.Total() != 3 {
		t.Errorf("Total() = %d, want 3", u.Total())
	}
}
