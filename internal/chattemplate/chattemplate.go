// Package chattemplate resolves chat-template-derived stop strings and
// the tool-calling support predicate for a loaded model.
package chattemplate

import "strings"

// KnownStopStrings lists chat-template end-of-turn markers across the
// model families the orchestrator expects to see, plus a fixed
// safety-net list guarding against a model that drifts into imitating a
// multi-speaker transcript.
func KnownStopStrings() []string {
	return append(append([]string{}, templateStopStrings...), safetyNetStopStrings...)
}

var templateStopStrings = []string{
	"<end_of_turn>",
	"<|im_end|>",
	"<|eot_id|>",
	"<|end|>",
	"</s>",
	"<|END_OF_TURN_TOKEN|>",
}

var safetyNetStopStrings = []string{
	"\nUser:",
	"\nHuman:",
	"\n### User",
	"\n<|user|>",
}

// SupportsToolCalling reports whether the loaded model can be used for
// tool calling. The original source gates this on a specific model
// family in one code path and on "has any chat template at all" in
// another, newer one; this follows the newer, stated design and treats
// the architecture gate as a bug rather than a contract — any model
// exposing a non-empty chat template qualifies.
func SupportsToolCalling(chatTemplate string) bool {
	return strings.TrimSpace(chatTemplate) != ""
}

// FindStopString reports the first configured stop string present in
// text, if any, and its byte offset.
func FindStopString(text string, stopStrings []string) (string, int, bool) {
	bestIdx := -1
	var best string
	for _, s := range stopStrings {
		if s == "" {
			continue
		}
		idx := strings.Index(text, s)
		if idx < 0 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
			best = s
		}
	}
	if bestIdx == -1 {
		return "", 0, false
	}
	return best, bestIdx, true
}

// StripStopString removes the first occurrence of stop (and everything
// after it) from text, returning the text the caller should deliver.
func StripStopString(text, stop string) string {
	idx := strings.Index(text, stop)
	if idx < 0 {
		return text
	}
	return text[:idx]
}
