// Package adherence classifies patient speech transcripts into medication
// adherence verdicts.
//
// Classification is deterministic keyword matching, not a model call: the
// transcripts produced by the speech gather are short confirmations ("yes I
// took my pills this morning") and a small keyword table covers them with
// predictable behavior and no external dependency.
package adherence

import "strings"

// Status is the adherence verdict derived from a patient's spoken response.
type Status string

const (
	// StatusFull means the patient confirmed taking their medication.
	StatusFull Status = "full"
	// StatusPartial means the response contained both confirmation and denial
	// signals, e.g. "yes but I missed the evening dose".
	StatusPartial Status = "partial"
	// StatusNone means the patient denied taking their medication.
	StatusNone Status = "none"
	// StatusUnclear means the response carried no usable adherence signal.
	StatusUnclear Status = "unclear"
	// StatusUnknown is the pre-classification default on a call session.
	// Classify never returns it.
	StatusUnknown Status = "unknown"
)

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFull, StatusPartial, StatusNone, StatusUnclear, StatusUnknown:
		return true
	}
	return false
}

// Keyword sets are disjoint: a phrase appears in at most one set.
var (
	positiveKeywords = []string{
		"yes", "yeah", "yep", "yup", "taken", "took", "did", "done",
		"already", "completed", "i have", "of course", "sure",
	}

	negativeKeywords = []string{
		"no", "not", "haven't", "havent", "didn't", "didnt", "don't",
		"dont", "forgot", "missed", "skipped", "ran out",
	}

	medicationKeywords = []string{
		"medication", "medicine", "med", "pill", "tablet", "dose",
		"prescription", "drug",
	}
)

// Classify maps a raw transcript to an adherence verdict.
//
// Matching is substring-based, case-insensitive and order-independent.
// Precedence: a purely negative response is None, a purely positive one is
// Full, a mixed one is Partial, and anything without a clear signal is
// Unclear whether or not medication context is present. Empty transcripts
// must be filtered out by the caller before classification; they indicate
// "no speech detected", which is a retry condition, not a verdict.
func Classify(transcript string) Status {
	text := strings.ToLower(transcript)

	positive := containsAny(text, positiveKeywords)
	negative := containsAny(text, negativeKeywords)

	switch {
	case negative && !positive:
		return StatusNone
	case positive && !negative:
		return StatusFull
	case positive && negative:
		return StatusPartial
	case !containsAny(text, medicationKeywords):
		return StatusUnclear
	default:
		// Medication context without a yes/no signal, e.g. "the pills".
		return StatusUnclear
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
