package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 1},
		{"abcdefgh", 2},
		{"aaaaaaaaaaaaaaaaaaaa", 5}, // 20 chars
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "aaaaaaaa"},  // 2
		{Role: "assistant", Content: "bbbb"}, // 1
		{Role: "user", Content: ""},          // 0
	}
	if got := EstimateMessages(msgs); got != 3 {
		t.Fatalf("EstimateMessages = %d, want 3", got)
	}
}
