package chunker

import "strings"

// CountTokens approximates token length as whitespace-delimited words.
// Retrieval bounds only need a stable, cheap estimate; the embedding
// provider does its own exact accounting.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

var sentenceTerminals = ".!?"

// SplitSentences splits text on sentence-terminal punctuation followed by
// whitespace, keeping closing quotes and brackets with their sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(sentenceTerminals, runes[i]) {
			continue
		}
		// Absorb trailing quotes/brackets after the terminal.
		j := i + 1
		for j < len(runes) && strings.ContainsRune(`"')]`, runes[j]) {
			j++
		}
		if j < len(runes) && !isSpace(runes[j]) {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start:j]))
		if sentence != "" {
			out = append(out, sentence)
		}
		for j < len(runes) && isSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		tail := strings.TrimSpace(string(runes[start:]))
		if tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

// EndsSentence reports whether text ends at a sentence boundary.
func EndsSentence(text string) bool {
	text = strings.TrimRight(strings.TrimSpace(text), `"')]`)
	if text == "" {
		return false
	}
	return strings.ContainsRune(sentenceTerminals, rune(text[len(text)-1]))
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
