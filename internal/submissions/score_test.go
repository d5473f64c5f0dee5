package submissions

import "testing"

func TestRoundScore(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
	}{
		{name: "integer", input: 100, want: 100},
		{name: "short-fraction", input: 97.5, want: 97.5},
		{name: "repeating-third", input: 100.0 / 3.0, want: 33.3333333333},
		{name: "eleven-digits-rounds-up", input: 0.99999999995, want: 1},
		{name: "ten-digits-kept", input: 0.0000000001, want: 0.0000000001},
		{name: "zero", input: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundScore(tt.input); got != tt.want {
				t.Fatalf("RoundScore(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoundScorePtrKeepsNil(t *testing.T) {
	if roundScorePtr(nil) != nil {
		t.Fatalf("nil score must stay nil")
	}
	rounded := roundScorePtr(floatPtr(100.0 / 3.0))
	if rounded == nil || *rounded != 33.3333333333 {
		t.Fatalf("unexpected rounding result %v", rounded)
	}
}

func TestParseSubmissionID(t *testing.T) {
	if _, err := ParseSubmissionID("5"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, raw := range []string{"", "0", "-1", "abc", "1.5"} {
		if _, err := ParseSubmissionID(raw); err == nil {
			t.Fatalf("expected rejection for %q", raw)
		}
	}
}
