package llm

// CharsPerToken is the local approximation used when a backend does not
// report exact token counts.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text as len(text)/4,
// with a floor of 1 for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / CharsPerToken
	if n == 0 {
		return 1
	}
	return n
}

// EstimateMessages sums token estimates over a message list.
func EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
