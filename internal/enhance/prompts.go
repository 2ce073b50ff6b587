package enhance

import (
	"fmt"
	"strings"
)

const enhanceSystemPrompt = `You are an assessment content editor working on QTI 2.x exam items.
Given an assessmentItem XML document, add high-quality feedback content:
a modalFeedback element explaining the correct answer, and per-choice
feedbackInline hints where the interaction type supports them. Preserve
every existing element, attribute, identifier and the response processing
exactly as given. Return only the complete XML document, no commentary.`

const semanticSystemPrompt = `You are an assessment quality reviewer for QTI 2.x exam items.
Evaluate the document on these checks and respond with JSON only, in the
shape {"checks": {"<name>": {"status": "...", "issues": ["..."]}}}.
Status must be one of "pass", "fail" or "not_applicable".

Checks:
- answer_key: the keyed correct response is actually correct.
- feedback_quality: feedback explains the answer without restating it verbatim; not_applicable if the item has no feedback.
- distractor_plausibility: wrong choices are plausible and unambiguously wrong; not_applicable for non-choice interactions.
- language_clarity: the stem and choices are unambiguous and free of cueing.

List concrete issues for every failing check.`

func enhanceUserPrompt(document string, correctiveFeedback []string) string {
	var b strings.Builder
	if len(correctiveFeedback) > 0 {
		b.WriteString("Your previous attempt failed schema validation with these violations:\n")
		for _, v := range correctiveFeedback {
			fmt.Fprintf(&b, "- %s\n", v)
		}
		b.WriteString("Produce a corrected document that fixes them.\n\n")
	}
	b.WriteString("Document:\n")
	b.WriteString(document)
	return b.String()
}

func semanticUserPrompt(document string) string {
	return "Document:\n" + document
}
