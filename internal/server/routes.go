package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"auditflow/internal/agent"
	"auditflow/internal/domain"
	"auditflow/internal/events"
	"auditflow/internal/orchestrator"
	"auditflow/internal/repo"
)

func registerAgent(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-process",
		Method:      http.MethodPost,
		Path:        "/agent/process",
		Summary:     "Process a request through the agent pipeline",
	}, func(ctx context.Context, input *struct {
		Body ProcessRequest
	}) (*struct {
		Body agent.ProcessResult `json:"body"`
	}, error) {
		res, err := cfg.Agent.Process(ctx, input.Body.Request, input.Body.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "request.processed", "request", res.RequestID, actorIDFromContext(ctx), events.EventPayload{
			"type":         res.Analysis.Type,
			"priority":     res.Analysis.Priority,
			"actions":      len(res.Actions),
			"success_rate": res.SuccessRate,
			"source":       res.Analysis.Source,
		})
		return &struct {
			Body agent.ProcessResult `json:"body"`
		}{Body: *res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-status",
		Method:      http.MethodGet,
		Path:        "/agent/status",
		Summary:     "Agent status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body agent.Status `json:"body"`
	}, error) {
		return &struct {
			Body agent.Status `json:"body"`
		}{Body: cfg.Agent.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-set-mode",
		Method:      http.MethodPut,
		Path:        "/agent/mode",
		Summary:     "Switch agent mode",
	}, func(ctx context.Context, input *struct {
		Body SetModeRequest
	}) (*struct {
		Body agent.Status `json:"body"`
	}, error) {
		if err := cfg.Agent.SetMode(input.Body.Mode); err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "agent.mode_changed", "agent", "", actorIDFromContext(ctx), events.EventPayload{"mode": input.Body.Mode})
		return &struct {
			Body agent.Status `json:"body"`
		}{Body: cfg.Agent.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-set-threshold",
		Method:      http.MethodPut,
		Path:        "/agent/threshold",
		Summary:     "Set confidence threshold",
	}, func(ctx context.Context, input *struct {
		Body SetThresholdRequest
	}) (*struct {
		Body agent.Status `json:"body"`
	}, error) {
		if err := cfg.Agent.SetThreshold(input.Body.ConfidenceThreshold); err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "agent.threshold_changed", "agent", "", actorIDFromContext(ctx), events.EventPayload{"confidence_threshold": input.Body.ConfidenceThreshold})
		return &struct {
			Body agent.Status `json:"body"`
		}{Body: cfg.Agent.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-learning",
		Method:      http.MethodGet,
		Path:        "/agent/learning",
		Summary:     "Learning patterns and execution history",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body agent.Learning `json:"body"`
	}, error) {
		return &struct {
			Body agent.Learning `json:"body"`
		}{Body: cfg.Agent.Learning()}, nil
	})
}

func registerProjects(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "project-start",
		Method:      http.MethodPost,
		Path:        "/projects/start",
		Summary:     "Open a project (alpha workflow)",
	}, func(ctx context.Context, input *struct {
		Body StartProjectRequest
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := cfg.Orch.Start(ctx, orchestrator.StartRequest{
			Name:        input.Body.Name,
			Client:      input.Body.Client,
			Type:        input.Body.Type,
			Priority:    input.Body.Priority,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "project.started", "project", p.ID, actorIDFromContext(ctx), events.EventPayload{
			"name": p.Name, "type": p.Type, "priority": p.Priority,
		})
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: *p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-finish",
		Method:      http.MethodPost,
		Path:        "/projects/finish",
		Summary:     "Close a project (omega workflow)",
	}, func(ctx context.Context, input *struct {
		Body FinishProjectRequest
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := cfg.Orch.Finish(ctx, input.Body.Project, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "project.completed", "project", p.ID, actorIDFromContext(ctx), events.EventPayload{
			"name": p.Name, "forced": input.Body.Force,
		})
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: *p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-fail",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/fail",
		Summary:     "Mark a project failed",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body FailProjectRequest
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := cfg.Orch.Fail(input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "project.failed", "project", p.ID, actorIDFromContext(ctx), events.EventPayload{
			"name": p.Name, "reason": input.Body.Reason,
		})
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: *p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-list",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Archived bool `query:"archived" doc:"List archived projects instead of active ones"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		var projects []*domain.Project
		if input.Archived {
			projects = cfg.Orch.Archived()
		} else {
			projects = cfg.Orch.Active()
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Projects: projects, Count: len(projects)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-templates",
		Method:      http.MethodGet,
		Path:        "/projects/templates",
		Summary:     "Project task templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string][]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string][]string `json:"body"`
		}{Body: orchestrator.Templates()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-metrics",
		Method:      http.MethodGet,
		Path:        "/projects/metrics",
		Summary:     "Project lifecycle metrics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body orchestrator.Metrics `json:"body"`
	}, error) {
		return &struct {
			Body orchestrator.Metrics `json:"body"`
		}{Body: cfg.Orch.Metrics()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-get",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get a project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := cfg.Orch.Get(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: *p}, nil
	})
}

func registerReports(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "report-create",
		Method:      http.MethodPost,
		Path:        "/reports",
		Summary:     "Generate a report",
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		report, err := runReport(ctx, cfg, input.Body, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-list",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",pending,processing,completed,failed"`
		Type   string `query:"type" enum:",audit,consultancy,report"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body ReportListResponse `json:"body"`
	}, error) {
		reports, err := cfg.Repo.ListReports(ctx, repo.ReportFilters{
			Status: input.Status,
			Type:   input.Type,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportListResponse `json:"body"`
		}{Body: ReportListResponse{Reports: reports, Count: len(reports)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-get",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get a report",
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		report, err := cfg.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: report}, nil
	})
}

// runReport persists a report row, generates its content and records
// the lifecycle in the event log. A generation failure is persisted as
// a failed report, not surfaced as an API error.
func runReport(ctx context.Context, cfg Config, req CreateReportRequest, actorID string) (domain.Report, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	report := domain.Report{
		ID:          uuid.NewString(),
		Type:        req.Type,
		ClientName:  req.ClientName,
		ProjectName: req.ProjectName,
		Description: req.Description,
		Priority:    priority,
		Status:      domain.ReportProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := withTx(ctx, cfg, func(tx *sql.Tx) error {
		if err := cfg.Repo.CreateReportTx(ctx, tx, &report); err != nil {
			return err
		}
		return cfg.Events.Append(ctx, tx, "report.created", "report", report.ID, actorID, events.EventPayload{
			"type": report.Type, "client": report.ClientName,
		})
	})
	if err != nil {
		return domain.Report{}, err
	}

	content, model, genErr := generateReportContent(ctx, cfg, report)
	updatedAt := time.Now().UTC().Format(time.RFC3339)
	if genErr != nil {
		err := withTx(ctx, cfg, func(tx *sql.Tx) error {
			if err := cfg.Repo.UpdateReportStatusTx(ctx, tx, report.ID, domain.ReportFailed, "", "", updatedAt); err != nil {
				return err
			}
			return cfg.Events.Append(ctx, tx, "report.failed", "report", report.ID, actorID, events.EventPayload{"error": genErr.Error()})
		})
		if err != nil {
			return domain.Report{}, err
		}
		report.Status = domain.ReportFailed
		report.UpdatedAt = updatedAt
		return report, nil
	}
	err = withTx(ctx, cfg, func(tx *sql.Tx) error {
		if err := cfg.Repo.UpdateReportStatusTx(ctx, tx, report.ID, domain.ReportCompleted, content, model, updatedAt); err != nil {
			return err
		}
		return cfg.Events.Append(ctx, tx, "report.completed", "report", report.ID, actorID, nil)
	})
	if err != nil {
		return domain.Report{}, err
	}
	report.Status = domain.ReportCompleted
	report.Content = content
	report.Model = model
	report.UpdatedAt = updatedAt
	if cfg.Hooks != nil {
		_ = cfg.Hooks.NotifyReportGenerated(map[string]any{
			"report_id": report.ID,
			"type":      report.Type,
			"client":    report.ClientName,
		}, report.Priority)
	}
	return report, nil
}

// generateReportContent runs the configured generator for a report.
// Without a generator it produces templated content so report records
// stay usable on instances running without an AI key.
func generateReportContent(ctx context.Context, cfg Config, r domain.Report) (content, model string, err error) {
	if cfg.Gen == nil {
		return fallbackReportContent(r), "fallback", nil
	}
	content, err = cfg.Gen.GenerateReport(ctx, r.Type, r.ClientName, r.ProjectName, r.Description)
	if err != nil {
		return "", "", err
	}
	return content, cfg.Gen.ContentModel(), nil
}

func fallbackReportContent(r domain.Report) string {
	title := map[string]string{
		"audit":       "Forensic Audit",
		"consultancy": "Consultancy",
		"report":      "Report",
	}[r.Type]
	if title == "" {
		title = "Report"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", title, r.ProjectName)
	fmt.Fprintf(&b, "Client: %s\n\n", r.ClientName)
	b.WriteString("## Executive Summary\n\n")
	if r.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Description)
	}
	b.WriteString("Content generation was unavailable when this report was created. ")
	b.WriteString("This record captures the request; regenerate it once a generator is configured.\n")
	return b.String()
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "event-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := cfg.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: evts}}, nil
	})
}
