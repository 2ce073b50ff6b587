package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"itemforge/api/internal/store"
)

// DataStore defines the data access the report needs.
type DataStore interface {
	ListItemsByTest(ctx context.Context, testID string) ([]store.Item, error)
	GetValidationRecord(ctx context.Context, itemID string) (*store.ValidationRecord, error)
}

// Service renders per-test validation reports.
type Service struct {
	store DataStore
}

func NewService(dataStore DataStore) *Service {
	return &Service{store: dataStore}
}

// Report generates the PDF validation report for a test.
func (s *Service) Report(ctx context.Context, testID string) (*Result, error) {
	items, err := s.store.ListItemsByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	data := TemplateData{
		TestID:      testID,
		GeneratedAt: time.Now(),
	}

	for _, item := range items {
		row := TemplateItem{
			ID:        item.ID,
			Title:     item.Title,
			Stage:     string(item.Stage),
			IsVariant: item.IsVariant,
		}

		record, err := s.store.GetValidationRecord(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("validation record for %s: %w", item.ID, err)
		}
		if record != nil {
			row.Structural = record.StructuralStatus
			row.Violations = record.StructuralViolations
			names := make([]string, 0, len(record.SemanticChecks))
			for name := range record.SemanticChecks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				check := record.SemanticChecks[name]
				row.Checks = append(row.Checks, TemplateCheck{
					Name:   name,
					Status: check.Status,
					Issues: check.Issues,
				})
			}
		}

		data.Summary.Total++
		if item.IsVariant {
			data.Summary.Variants++
		}
		switch item.Stage {
		case store.StageCanSync:
			data.Summary.CanSync++
		case store.StageBlocked:
			data.Summary.Blocked++
		default:
			data.Summary.Pending++
		}
		data.Items = append(data.Items, row)
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, "validation-report-"+testID)
}
