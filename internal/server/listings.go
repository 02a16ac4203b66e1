package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"listingintel/internal/domain"
	"listingintel/internal/engine"
	"listingintel/internal/notify"
	"listingintel/internal/repo"
)

// Listings are keyed by URL, so they travel as a query parameter.
type listingQuery struct {
	URL string `query:"url" required:"true" example:"https://www.facebook.com/marketplace/item/42"`
}

func (q listingQuery) url() (string, huma.StatusError) {
	u := strings.TrimSpace(q.URL)
	if u == "" {
		return "", newAPIError(http.StatusBadRequest, "bad_request", "url is required", map[string]any{"field": "url"})
	}
	return u, nil
}

func registerListings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/listings",
		Summary:     "Summaries of every tracked listing",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListingList `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		urls, err := e.Ledger.Listings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ListingList{Items: make([]domain.ListingSummary, 0, len(urls))}
		for _, u := range urls {
			s, err := e.Summary(ctx, u)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Items = append(resp.Items, s)
		}
		return &struct {
			Body ListingList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listing-history",
		Method:      http.MethodGet,
		Path:        "/listings/history",
		Summary:     "Price observations for a listing, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *listingQuery) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		u, apiErr := input.url()
		if apiErr != nil {
			return nil, apiErr
		}
		history, err := e.History(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		trend, err := e.Ledger.Trend(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{URL: u, Trend: trend, Observations: history}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listing-summary",
		Method:      http.MethodGet,
		Path:        "/listings/summary",
		Summary:     "Price summary for a listing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *listingQuery) (*struct {
		Body domain.ListingSummary `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		u, apiErr := input.url()
		if apiErr != nil {
			return nil, apiErr
		}
		s, err := e.Summary(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ListingSummary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listing-opportunity",
		Method:      http.MethodGet,
		Path:        "/listings/opportunity",
		Summary:     "Opportunity assessment for the latest price move",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *listingQuery) (*struct {
		Body domain.OpportunityAssessment `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		u, apiErr := input.url()
		if apiErr != nil {
			return nil, apiErr
		}
		a, err := e.Score(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OpportunityAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "market-insights",
		Method:      http.MethodGet,
		Path:        "/insights",
		Summary:     "Trend counts and top opportunities",
	}, func(ctx context.Context, input *struct {
		Top int `query:"top" default:"10" minimum:"0"`
	}) (*struct {
		Body domain.MarketInsights `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		in, err := e.Insights(ctx, input.Top)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MarketInsights `json:"body"`
		}{Body: in}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine, recent *notify.Redis) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "Current price drops, best score first",
	}, func(ctx context.Context, input *struct {
		MinDrop float64 `query:"min_drop" minimum:"0" maximum:"1" doc:"minimum percent drop as a fraction"`
	}) (*struct {
		Body AlertList `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items, err := e.Alerts(ctx, input.MinDrop)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertList `json:"body"`
		}{Body: AlertList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts/recent",
		Summary:     "Alerts most recently delivered to Redis",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body AlertList `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		if recent == nil {
			return nil, newAPIError(http.StatusNotFound, "not_configured", "redis alert list is not configured", nil)
		}
		items, err := recent.Recent(ctx, int64(normalizeLimit(input.Limit)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertList `json:"body"`
		}{Body: AlertList{Items: items}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"submission,listing,alert"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.EventLog(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Before:     before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
