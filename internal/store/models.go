package store

import "time"

// Stage is the pipeline lifecycle state of an item.
type Stage string

const (
	StageRaw                    Stage = "raw"
	StageEnriching              Stage = "enriching"
	StageStructurallyValidating Stage = "structurally_validating"
	StageSemanticallyValidating Stage = "semantically_validating"
	StageCanSync                Stage = "can_sync"
	StageBlocked                Stage = "blocked"
)

// ValidStage reports whether s is a known pipeline stage.
func ValidStage(s string) bool {
	switch Stage(s) {
	case StageRaw, StageEnriching, StageStructurallyValidating,
		StageSemanticallyValidating, StageCanSync, StageBlocked:
		return true
	default:
		return false
	}
}

// Item is one exam question: its current documents plus lifecycle state.
// EnrichedDocument is nil until enrichment has succeeded at least once.
type Item struct {
	ID               string
	TestID           string
	Title            string
	RawDocument      string
	EnrichedDocument *string
	Stage            Stage
	IsVariant        bool
	MediaPrefix      string
	UpdatedAt        time.Time
}

// CheckResult is one semantic check's outcome inside a validation record.
type CheckResult struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// ValidationRecord is the persisted outcome of one gate pass for one item.
// It is replaced wholesale on every completed pass, never patched.
type ValidationRecord struct {
	ItemID               string
	StructuralStatus     string
	StructuralViolations []string
	SemanticOverall      string
	SemanticChecks       map[string]CheckResult
	CanSync              bool
	CreatedAt            time.Time
}

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
