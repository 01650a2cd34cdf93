// Package composer turns ranked retrieval results into the bounded context
// block and the fixed prompt pair sent to the generation backend.
package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"grimoire/internal/retrieval"
)

// SystemPrompt is the fixed instruction for the generation backend.
const SystemPrompt = "You are a helpful RPG assistant. " +
	"You are helping a user understand the rules of a game. " +
	"You can answer the question based on the context provided. " +
	"The Answer will be interpreted in markdown. " +
	"Answer in the question language."

// DefaultMaxContextChars bounds the assembled context when the caller
// passes no budget.
const DefaultMaxContextChars = 4000

// AssembleContext concatenates ranked results into a context block of at
// most maxChars bytes, in ranking order. When the next entry would exceed
// the budget it is truncated rather than dropped, so the model always
// receives as much relevant context as fits. Empty results yield an empty
// string; answering "nothing relevant found" is the model's concern.
func AssembleContext(results []retrieval.Result, maxChars int) string {
	if len(results) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	var sb strings.Builder
	for _, r := range results {
		entry := formatEntry(r)
		remaining := maxChars - sb.Len()
		if remaining <= 0 {
			break
		}
		if len(entry) > remaining {
			sb.WriteString(truncate(entry, remaining))
			break
		}
		sb.WriteString(entry)
	}
	return sb.String()
}

func formatEntry(r retrieval.Result) string {
	return fmt.Sprintf("[%s]\n%s\n\n", r.Title, r.Text)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// UserPrompt builds the single user turn for the generation backend.
func UserPrompt(context, question string) string {
	return fmt.Sprintf("Context: %s. Question: %s", context, question)
}
