package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"auditflow/internal/clickup"
	"auditflow/internal/domain"
	"auditflow/internal/orchestrator"
	"auditflow/internal/webhook"
)

// ContentGenerator produces report prose. Implemented by aigen.
type ContentGenerator interface {
	GenerateReport(ctx context.Context, kind, clientName, projectName, description string) (string, error)
	ContentModel() string
}

// ReportWriter persists generated reports. Implemented by the repo.
type ReportWriter interface {
	CreateReport(ctx context.Context, r *domain.Report) error
}

// Executor dispatches validated actions to the adapters. Any adapter
// may be nil; its actions then fail with a configuration error rather
// than aborting the batch.
type Executor struct {
	Tracker *clickup.Client
	Hooks   *webhook.Sender
	Gen     ContentGenerator
	Orch    *orchestrator.Orchestrator
	Reports ReportWriter

	Now func() time.Time
}

var errAdapterMissing = errors.New("adapter not configured")

// syncActivity reports one pipeline run to the activity channel.
// Best effort: an unconfigured or saturated channel is not an error.
func (e *Executor) syncActivity(requestID string, results []domain.ExecutionResult) {
	if e == nil || e.Hooks == nil {
		return
	}
	summary := make([]map[string]any, 0, len(results))
	for _, r := range results {
		summary = append(summary, map[string]any{"action": r.Action, "status": r.Status})
	}
	err := e.Hooks.SyncActivity(map[string]any{
		"type":       "sync",
		"request_id": requestID,
		"results":    summary,
	})
	if err != nil && !errors.Is(err, webhook.ErrUnknownChannel) {
		log.Warn().Str("request_id", requestID).Err(err).Msg("activity sync failed")
	}
}

// Execute runs actions sequentially. Unvalidated actions are skipped
// unless auto-approved; one action failing never stops the rest.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action, analysis domain.Analysis, input string) []domain.ExecutionResult {
	results := make([]domain.ExecutionResult, 0, len(actions))
	for _, action := range actions {
		if !action.Validated && action.ValidationMethod != domain.ValidationAutoApproved {
			results = append(results, domain.ExecutionResult{
				Action: action.Kind,
				Status: domain.ResultSkipped,
				Detail: map[string]any{"reason": string(action.ValidationMethod)},
			})
			continue
		}
		detail, err := e.dispatch(ctx, action, analysis, input)
		if err != nil {
			log.Error().Str("action", string(action.Kind)).Err(err).Msg("action execution failed")
			results = append(results, domain.ExecutionResult{
				Action: action.Kind,
				Status: domain.ResultFailed,
				Error:  err.Error(),
			})
			continue
		}
		results = append(results, domain.ExecutionResult{
			Action: action.Kind,
			Status: domain.ResultCompleted,
			Detail: detail,
		})
	}
	return results
}

func (e *Executor) dispatch(ctx context.Context, action domain.Action, analysis domain.Analysis, input string) (map[string]any, error) {
	switch action.Kind {
	case domain.ActionClickUpTask:
		return e.createTask(ctx, action, analysis)
	case domain.ActionZapierTrigger:
		if e.Hooks == nil {
			return nil, fmt.Errorf("zapier trigger: %w", errAdapterMissing)
		}
		if err := e.Hooks.NotifyAuditResult(action.Payload, analysis.Priority); err != nil {
			return nil, err
		}
		return map[string]any{"channel": webhook.ChannelAuditResult}, nil
	case domain.ActionWorkflowAlpha:
		return e.startProject(ctx, action, analysis, input)
	case domain.ActionWorkflowOmega:
		return e.finishProject(ctx, action)
	case domain.ActionAIGeneration:
		return e.generateReport(ctx, action, analysis, input)
	case domain.ActionNotification:
		if e.Hooks == nil {
			return nil, fmt.Errorf("notification: %w", errAdapterMissing)
		}
		if err := e.Hooks.Notify(action.Payload, analysis.Priority); err != nil {
			return nil, err
		}
		return map[string]any{"channel": webhook.ChannelNotification}, nil
	case domain.ActionEscalation:
		if e.Hooks == nil {
			return nil, fmt.Errorf("escalation: %w", errAdapterMissing)
		}
		if err := e.Hooks.Escalate(action.Payload, analysis.Priority); err != nil {
			return nil, err
		}
		return map[string]any{"channel": webhook.ChannelEscalation, "level": action.Payload["level"]}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (e *Executor) createTask(ctx context.Context, action domain.Action, analysis domain.Analysis) (map[string]any, error) {
	if e.Tracker == nil {
		return nil, fmt.Errorf("tracker task: %w", errAdapterMissing)
	}
	title, _ := action.Payload["title"].(string)
	task, err := e.Tracker.CreateTask(ctx, clickup.TaskRequest{
		Name:        title,
		Description: analysis.Reasoning,
		Priority:    analysis.Priority,
		Urgency:     analysis.Urgency,
		Tags:        []string{"auditflow", analysis.Category},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": task.ID, "url": task.URL}, nil
}

func (e *Executor) startProject(ctx context.Context, action domain.Action, analysis domain.Analysis, input string) (map[string]any, error) {
	if e.Orch == nil {
		return nil, fmt.Errorf("workflow alpha: %w", errAdapterMissing)
	}
	name, _ := action.Payload["project"].(string)
	if name == "" {
		name = truncate(input, 80)
	}
	client, _ := action.Payload["client"].(string)
	p, err := e.Orch.Start(ctx, orchestrator.StartRequest{
		Name:        name,
		Client:      client,
		Type:        projectKind(analysis),
		Priority:    analysis.Priority,
		Description: truncate(input, 500),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"project_id": p.ID, "phase": p.Phase}, nil
}

func (e *Executor) finishProject(ctx context.Context, action domain.Action) (map[string]any, error) {
	if e.Orch == nil {
		return nil, fmt.Errorf("workflow omega: %w", errAdapterMissing)
	}
	name, _ := action.Payload["project"].(string)
	if name == "" {
		return nil, errors.New("workflow omega: no project reference in request")
	}
	p, err := e.Orch.Finish(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project_id": p.ID, "completed_at": p.CompletedAt}, nil
}

func (e *Executor) generateReport(ctx context.Context, action domain.Action, analysis domain.Analysis, input string) (map[string]any, error) {
	if e.Gen == nil {
		return nil, fmt.Errorf("report generation: %w", errAdapterMissing)
	}
	client, _ := action.Payload["client"].(string)
	project, _ := action.Payload["project"].(string)
	content, err := e.Gen.GenerateReport(ctx, analysis.Type, client, project, truncate(input, 500))
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"length": len(content)}
	if e.Reports != nil {
		now := e.now().UTC().Format(time.RFC3339)
		report := &domain.Report{
			ID:          uuid.NewString(),
			Type:        reportKind(analysis.Type),
			ClientName:  client,
			ProjectName: project,
			Description: truncate(input, 500),
			Priority:    analysis.Priority,
			Status:      domain.ReportCompleted,
			Content:     content,
			Model:       e.Gen.ContentModel(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Reports.CreateReport(ctx, report); err != nil {
			return nil, fmt.Errorf("persist report: %w", err)
		}
		detail["report_id"] = report.ID
	}
	return detail, nil
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func projectKind(analysis domain.Analysis) string {
	switch {
	case analysis.Type == "audit":
		return "audit_forensic"
	case analysis.Category == "compliance":
		return "compliance"
	case analysis.Category == "security":
		return "security"
	default:
		return "general"
	}
}

func reportKind(analysisType string) string {
	switch analysisType {
	case "audit":
		return "audit"
	case "consultation":
		return "consultancy"
	default:
		return "report"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
