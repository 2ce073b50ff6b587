package qti

import "testing"

func TestNormalizeWhitespaceInsensitive(t *testing.T) {
	unix := "<assessmentItem identifier=\"q1\">\n  <itemBody>\n    <p>What is 2+2?</p>\n  </itemBody>\n</assessmentItem>\n"
	windows := "<assessmentItem identifier=\"q1\">\r\n\t<itemBody>\r\n\t\t<p>What is 2+2?</p>\r\n\t</itemBody>\r\n</assessmentItem>"
	compact := "<assessmentItem identifier=\"q1\"><itemBody><p>What is 2+2?</p></itemBody></assessmentItem>"

	if got := Normalize(unix); got != Normalize(windows) {
		t.Fatalf("unix and windows forms normalize differently:\n%q\n%q", got, Normalize(windows))
	}
	if got := Normalize(unix); got != compact {
		t.Fatalf("normalized form = %q, want %q", got, compact)
	}
	if !Equal(unix, windows) {
		t.Fatal("Equal(unix, windows) = false, want true")
	}
}

func TestNormalizePreservesTextDifferences(t *testing.T) {
	a := "<p>What is 2+2?</p>"
	b := "<p>What is 3+3?</p>"
	if Equal(a, b) {
		t.Fatal("documents with different text reported equal")
	}
}

func TestNormalizeCollapsesInteriorRuns(t *testing.T) {
	a := "<p>pick   the    best answer</p>"
	b := "<p>pick the best answer</p>"
	if !Equal(a, b) {
		t.Fatal("interior whitespace runs should not affect equality")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	doc := "<assessmentItem>\r\n  <itemBody>  <p>x</p>  </itemBody>\r\n</assessmentItem>"
	once := Normalize(doc)
	if twice := Normalize(once); twice != once {
		t.Fatalf("Normalize not idempotent: %q then %q", once, twice)
	}
}

func TestHasFeedback(t *testing.T) {
	bare := "<assessmentItem><itemBody><p>q</p></itemBody></assessmentItem>"
	enriched := "<assessmentItem><itemBody><p>q</p></itemBody><modalFeedback identifier=\"correct\">Right!</modalFeedback></assessmentItem>"

	if HasFeedback(bare) {
		t.Fatal("bare document reported as having feedback")
	}
	if !HasFeedback(enriched) {
		t.Fatal("enriched document reported as having no feedback")
	}
}
