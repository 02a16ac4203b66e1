// Package completeness turns matcher output into a per-listing assessment
// with seller questions for every missing field.
package completeness

import (
	"fmt"
	"math"

	"listingintel/internal/domain"
	"listingintel/internal/fields"
)

const fallbackQuestion = "Can you provide more details about %s?"

type Scorer struct {
	Catalog *fields.Catalog
}

// New returns a scorer over catalog, or the default catalog when nil.
func New(catalog *fields.Catalog) Scorer {
	if catalog == nil {
		catalog = fields.Default()
	}
	return Scorer{Catalog: catalog}
}

func (s Scorer) catalog() *fields.Catalog {
	if s.Catalog == nil {
		return fields.Default()
	}
	return s.Catalog
}

// Assess evaluates a listing against the catalog.
func (s Scorer) Assess(listing domain.ListingRecord) domain.CompletenessAssessment {
	return s.AssessContent(fields.Content(listing))
}

// AssessContent evaluates raw content. Missing fields keep catalog order.
func (s Scorer) AssessContent(content string) domain.CompletenessAssessment {
	catalog := s.catalog()
	present := catalog.Match(content)
	out := domain.CompletenessAssessment{
		Missing:     []domain.FieldRequirement{},
		Questions:   []string{},
		TotalFields: catalog.Len(),
	}
	for _, f := range catalog.Fields() {
		if present.Has(f.Tag) {
			continue
		}
		out.Missing = append(out.Missing, f.FieldRequirement)
		out.Questions = append(out.Questions, Question(f.FieldRequirement))
		if f.Criticality == domain.Critical {
			out.CriticalMissing++
		}
	}
	out.CompletenessPct = Percentage(out.TotalFields, len(out.Missing))
	return out
}

// Question returns the seller question for a requirement.
func Question(req domain.FieldRequirement) string {
	if req.Question != "" {
		return req.Question
	}
	label := req.Label
	if label == "" {
		label = req.Tag
	}
	return fmt.Sprintf(fallbackQuestion, label)
}

// Percentage is round((total-missing)/total*100); an empty catalog counts as complete.
func Percentage(total, missing int) int {
	if total <= 0 {
		return 100
	}
	if missing < 0 {
		missing = 0
	}
	if missing > total {
		missing = total
	}
	return int(math.Round(float64(total-missing) / float64(total) * 100))
}
