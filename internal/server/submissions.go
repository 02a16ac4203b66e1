package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"listingintel/internal/domain"
	"listingintel/internal/engine"
	"listingintel/internal/repo"
)

type submissionPath struct {
	ID string `path:"id"`
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Capture a listing URL",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		sub, err := e.Submit(ctx, input.Body.URL, input.Body.Origin)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: sub}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions in FIFO order",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,processing,processed,failed"`
		Priority string `query:"priority" enum:"high,normal"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body SubmissionList `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items, err := e.List(ctx, repo.SubmissionFilters{
			Status:   input.Status,
			Priority: input.Priority,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionList `json:"body"`
		}{Body: SubmissionList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Get a submission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *submissionPath) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		sub, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: sub}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-submission",
		Method:        http.MethodDelete,
		Path:          "/submissions/{id}",
		Summary:       "Remove a submission (idempotent)",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *submissionPath) (*struct{}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		if err := e.Remove(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-submissions",
		Method:      http.MethodPost,
		Path:        "/exports",
		Summary:     "Snapshot pending submissions for the enhancement batch job",
	}, func(ctx context.Context, input *struct {
		Body *ExportRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.ExportSnapshot `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		clearAfter := input.Body != nil && input.Body.Clear
		snap, err := e.Export(ctx, clearAfter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExportSnapshot `json:"body"`
		}{Body: snap}, nil
	})
}

// registerPipeline exposes the extraction collaborator's callbacks.
func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/extraction",
		Summary:     "Hand over an extracted listing and run the pipeline",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ExtractionRequest `json:"body"`
	}) (*struct {
		Body ProcessedResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		sub, err := e.Complete(ctx, input.ID, input.Body.Listing)
		if err != nil && !engine.Partial(err) {
			return nil, handleError(err)
		}
		resp := ProcessedResponse{Submission: sub}
		if sub.Payload != nil {
			resp.StepErrors = sub.Payload.StepErrors
		}
		return &struct {
			Body ProcessedResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/failure",
		Summary:     "Report an extraction failure",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body *FailureRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		sub, err := e.Fail(ctx, input.ID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: sub}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-listing",
		Method:      http.MethodPost,
		Path:        "/analyze",
		Summary:     "Assess completeness without storing anything",
	}, func(ctx context.Context, input *struct {
		Body AnalyzeRequest `json:"body"`
	}) (*struct {
		Body domain.CompletenessAssessment `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		return &struct {
			Body domain.CompletenessAssessment `json:"body"`
		}{Body: e.Analyze(input.Body.Listing)}, nil
	})
}
