// Package qti provides canonicalization helpers for QTI item documents.
//
// Documents arrive from several producers (the authoring PDF pipeline, the
// enrichment model, the delivery index) with different whitespace and
// line-ending conventions. Equality for sync purposes is defined over the
// normalized form, never the raw bytes.
package qti

import (
	"regexp"
	"strings"
)

var (
	interTagWS   = regexp.MustCompile(`>\s+<`)
	attributeWS  = regexp.MustCompile(`\s+(/?>)`)
	interiorRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize returns the canonical comparison form of a QTI document:
// line endings unified to \n, whitespace between adjacent tags collapsed,
// runs of spaces/tabs inside text collapsed to one space, and the whole
// string trimmed. Two documents that differ only in such whitespace
// normalize to identical strings.
func Normalize(doc string) string {
	s := strings.ReplaceAll(doc, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = interTagWS.ReplaceAllString(s, "><")
	s = attributeWS.ReplaceAllString(s, "$1")
	s = interiorRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Equal reports whether two documents are equal under Normalize.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// feedbackElements are the QTI elements that carry authored feedback.
// Enrichment adds these; their presence distinguishes "feedback newly
// added" from "feedback edited" in sync change summaries.
var feedbackElements = []string{
	"<modalFeedback",
	"<feedbackInline",
	"<feedbackBlock",
}

// HasFeedback reports whether the document contains any feedback element.
func HasFeedback(doc string) bool {
	for _, el := range feedbackElements {
		if strings.Contains(doc, el) {
			return true
		}
	}
	return false
}
