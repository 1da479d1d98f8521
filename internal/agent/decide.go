package agent

import "auditflow/internal/domain"

var escalationCategories = map[string]bool{
	"compliance":      true,
	"legal":           true,
	"financial":       true,
	"security_breach": true,
	"fraud":           true,
}

func hasAction(analysis domain.Analysis, name string) bool {
	for _, a := range analysis.RequiredActions {
		if a == name {
			return true
		}
	}
	return false
}

// decideActions maps an analysis to concrete actions. Rules fire
// independently and in a fixed order; the executor runs the resulting
// list sequentially.
func decideActions(analysis domain.Analysis) []domain.Action {
	var actions []domain.Action

	if hasAction(analysis, "create_task") || analysis.Type == "task" || analysis.Type == "audit" {
		actions = append(actions, domain.Action{
			Kind: domain.ActionClickUpTask,
			Payload: map[string]any{
				"title":    taskTitle(analysis),
				"priority": analysis.Priority,
				"urgency":  analysis.Urgency,
				"category": analysis.Category,
			},
		})
	}

	if analysis.Type == "audit" {
		actions = append(actions, domain.Action{
			Kind: domain.ActionZapierTrigger,
			Payload: map[string]any{
				"channel":  "auditResult",
				"category": analysis.Category,
				"risk":     analysis.RiskLevel,
			},
		})
	}

	switch analysis.SuggestedWorkflow {
	case "alpha":
		actions = append(actions, domain.Action{
			Kind: domain.ActionWorkflowAlpha,
			Payload: map[string]any{
				"client":  analysis.Entities.Client,
				"project": analysis.Entities.Project,
				"type":    analysis.Type,
			},
		})
	case "omega":
		actions = append(actions, domain.Action{
			Kind: domain.ActionWorkflowOmega,
			Payload: map[string]any{
				"project": analysis.Entities.Project,
			},
		})
	}

	if analysis.Type == "report" || hasAction(analysis, "generate_content") {
		actions = append(actions, domain.Action{
			Kind: domain.ActionAIGeneration,
			Payload: map[string]any{
				"client":  analysis.Entities.Client,
				"project": analysis.Entities.Project,
				"type":    analysis.Type,
			},
		})
	}

	switch analysis.Priority {
	case domain.PriorityCritical, domain.PriorityUrgent, domain.PriorityHigh:
		actions = append(actions, domain.Action{
			Kind: domain.ActionNotification,
			Payload: map[string]any{
				"priority": analysis.Priority,
				"type":     analysis.Type,
				"summary":  analysis.Reasoning,
			},
		})
	}

	if escalationCategories[analysis.Category] || analysis.RiskLevel >= 8 {
		level := domain.PriorityHigh
		if analysis.RiskLevel >= 9 {
			level = domain.PriorityCritical
		}
		actions = append(actions, domain.Action{
			Kind: domain.ActionEscalation,
			Payload: map[string]any{
				"level":    level,
				"category": analysis.Category,
				"risk":     analysis.RiskLevel,
			},
		})
	}

	return actions
}

func taskTitle(analysis domain.Analysis) string {
	if analysis.Entities.Project != "" {
		return analysis.Type + ": " + analysis.Entities.Project
	}
	if analysis.Entities.Client != "" {
		return analysis.Type + " for " + analysis.Entities.Client
	}
	return "Process " + analysis.Type + " request"
}
