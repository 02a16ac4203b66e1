package domain

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

const (
	OriginManual    = "manual"
	OriginAutomated = "automated"
)

const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

const (
	Critical = "critical"
	Optional = "optional"
)

const (
	TrendDropping         = "dropping"
	TrendRising           = "rising"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient-data"
)

const (
	TierUrgent  = "urgent"
	TierMedium  = "medium"
	TierMonitor = "monitor"
	TierNone    = "none"
)

const (
	ChangeNew   = "new"
	ChangePrice = "price_change"
	ChangeSame  = "update"
)

// Submission is a captured listing URL moving through the pipeline.
type Submission struct {
	ID           string                  `json:"id"`
	Seq          int64                   `json:"seq"`
	URL          string                  `json:"url"`
	Origin       string                  `json:"origin" enum:"manual,automated"`
	Status       string                  `json:"status" enum:"pending,processing,processed,failed"`
	Priority     string                  `json:"priority" enum:"high,normal"`
	SubmittedAt  string                  `json:"submitted_at" format:"date-time"`
	ProcessedAt  *string                 `json:"processed_at,omitempty" format:"date-time"`
	ExportedAt   *string                 `json:"exported_at,omitempty" format:"date-time"`
	Attempts     int                     `json:"attempts"`
	Error        string                  `json:"error,omitempty"`
	Payload      *ProcessedPayload       `json:"payload,omitempty"`
	Completeness *CompletenessAssessment `json:"completeness,omitempty"`
}

// ListingRecord is the structured listing handed over by the extractor.
type ListingRecord struct {
	URL              string  `json:"url,omitempty"`
	Title            string  `json:"title,omitempty"`
	Description      string  `json:"description,omitempty"`
	Price            float64 `json:"price,omitempty"`
	Hours            string  `json:"hours,omitempty"`
	Year             string  `json:"year,omitempty"`
	Condition        string  `json:"condition,omitempty"`
	Maintenance      string  `json:"maintenance,omitempty"`
	Location         string  `json:"location,omitempty"`
	Trailer          string  `json:"trailer,omitempty"`
	TitleStatus      string  `json:"title_status,omitempty"`
	PriceHistoryHint string  `json:"price_history_hint,omitempty"`
}

type FieldRequirement struct {
	Tag         string `json:"tag"`
	Label       string `json:"label"`
	Criticality string `json:"criticality" enum:"critical,optional"`
	Pattern     string `json:"pattern"`
	Question    string `json:"question,omitempty"`
}

type CompletenessAssessment struct {
	Missing         []FieldRequirement `json:"missing"`
	Questions       []string           `json:"questions"`
	TotalFields     int                `json:"total_fields"`
	CompletenessPct int                `json:"completeness_pct"`
	CriticalMissing int                `json:"critical_missing"`
}

type PriceObservation struct {
	Seq           int64     `json:"seq"`
	URL           string    `json:"url"`
	Price         float64   `json:"price"`
	ObservedAt    time.Time `json:"observed_at"`
	ChangeType    string    `json:"change_type" enum:"new,price_change,update"`
	PreviousPrice *float64  `json:"previous_price,omitempty"`
	PriceChange   *float64  `json:"price_change,omitempty"`
	SubmissionID  string    `json:"submission_id,omitempty"`
}

// RecordResult reports how a ledger write relates to prior history.
type RecordResult struct {
	IsDuplicate bool              `json:"is_duplicate"`
	Previous    *PriceObservation `json:"previous,omitempty"`
	Observation PriceObservation  `json:"observation"`
}

type ListingSummary struct {
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	OriginalPrice float64   `json:"original_price"`
	CurrentPrice  float64   `json:"current_price"`
	LowestPrice   float64   `json:"lowest_price"`
	HighestPrice  float64   `json:"highest_price"`
	Observations  int       `json:"observations"`
	PriceChanges  int       `json:"price_changes"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	DaysTracked   int       `json:"days_tracked"`
	Trend         string    `json:"trend"`
}

type OpportunityAssessment struct {
	URL            string  `json:"url"`
	Score          float64 `json:"score"`
	Tier           string  `json:"tier" enum:"urgent,medium,monitor,none"`
	PercentDelta   float64 `json:"percent_delta"`
	PreviousPrice  float64 `json:"previous_price,omitempty"`
	LatestPrice    float64 `json:"latest_price,omitempty"`
	Trend          string  `json:"trend"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// Alert is the payload surfaced to downstream notifiers.
type Alert struct {
	SubmissionID  string  `json:"submission_id,omitempty"`
	URL           string  `json:"url"`
	Tier          string  `json:"tier"`
	Score         float64 `json:"score"`
	PercentDelta  float64 `json:"percent_delta"`
	PreviousPrice float64 `json:"previous_price"`
	LatestPrice   float64 `json:"latest_price"`
	EmittedAt     string  `json:"emitted_at,omitempty" format:"date-time"`
}

// ProcessedPayload is the combined result stored on a processed submission.
type ProcessedPayload struct {
	Listing     ListingRecord          `json:"listing"`
	Ledger      *RecordResult          `json:"ledger,omitempty"`
	Opportunity *OpportunityAssessment `json:"opportunity,omitempty"`
	Alert       *Alert                 `json:"alert,omitempty"`
	StepErrors  []string               `json:"step_errors,omitempty"`
}

type ExportSnapshot struct {
	Format      string       `json:"format"`
	ExportedAt  string       `json:"exported_at" format:"date-time"`
	Total       int          `json:"total"`
	Submissions []Submission `json:"submissions"`
}

type MarketInsights struct {
	GeneratedAt      string                  `json:"generated_at" format:"date-time"`
	TrackedListings  int                     `json:"tracked_listings"`
	Dropping         int                     `json:"dropping"`
	Rising           int                     `json:"rising"`
	Stable           int                     `json:"stable"`
	InsufficientData int                     `json:"insufficient_data"`
	TopOpportunities []OpportunityAssessment `json:"top_opportunities"`
	Notes            []string                `json:"notes,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind" enum:"submission,listing,alert"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
}
