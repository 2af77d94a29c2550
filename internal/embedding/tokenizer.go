package embedding

import "strings"

// Tokenize splits an utterance on whitespace and lowercases each token.
// Punctuation stays attached to its word, so "fish?" and "fish" are different
// tokens; lookups simply miss for the former.
func Tokenize(utterance string) []string {
	words := strings.Fields(utterance)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}
