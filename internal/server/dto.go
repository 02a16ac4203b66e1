package server

import (
	"encoding/json"

	"listingintel/internal/domain"
)

type CreateSubmissionRequest struct {
	URL    string `json:"url" minLength:"1" example:"https://www.facebook.com/marketplace/item/42"`
	Origin string `json:"origin,omitempty" enum:"manual,automated" default:"manual"`
}

type ExtractionRequest struct {
	Listing domain.ListingRecord `json:"listing"`
}

type FailureRequest struct {
	Reason string `json:"reason,omitempty" example:"page returned 404"`
}

type ExportRequest struct {
	Clear bool `json:"clear,omitempty" doc:"delete exported submissions after the snapshot"`
}

type AnalyzeRequest struct {
	Listing domain.ListingRecord `json:"listing"`
}

type StatusResponse struct {
	Submissions     map[string]int `json:"submissions"`
	TrackedListings int            `json:"tracked_listings"`
}

type ProcessedResponse struct {
	Submission domain.Submission `json:"submission"`
	// StepErrors lists pipeline steps that failed without blocking processing.
	StepErrors []string `json:"step_errors,omitempty"`
}

type SubmissionList struct {
	Items []domain.Submission `json:"items"`
}

type HistoryResponse struct {
	URL          string                    `json:"url"`
	Trend        string                    `json:"trend"`
	Observations []domain.PriceObservation `json:"observations"`
}

type ListingList struct {
	Items []domain.ListingSummary `json:"items"`
}

type AlertList struct {
	Items []domain.Alert `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
