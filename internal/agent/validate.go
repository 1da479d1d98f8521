package agent

import "auditflow/internal/domain"

var approvalCategories = map[string]bool{
	"compliance": true,
	"legal":      true,
	"financial":  true,
}

var routinePriorities = map[string]bool{
	domain.PriorityLow: true,
	"routine":          true,
	"standard":         true,
}

// validateActions applies the validation gate to every action. Checks
// run in order and later checks override earlier ones: a low-priority
// simple request is auto-approved even when confidence fell short.
func validateActions(actions []domain.Action, analysis domain.Analysis, threshold float64) []domain.Action {
	out := make([]domain.Action, len(actions))
	for i, action := range actions {
		action.Validated = true
		action.ValidationMethod = domain.ValidationAutomatic

		if analysis.Confidence < threshold {
			action.Validated = false
			action.ValidationMethod = domain.ValidationManualReview
			action.Reason = "confidence below threshold"
		}
		if approvalCategories[analysis.Category] {
			action.ValidationMethod = domain.ValidationApproval
			action.ApprovalRequired = true
			action.Reason = "sensitive category requires approval"
		}
		if routinePriorities[analysis.Priority] && analysis.Complexity == "simple" {
			action.Validated = true
			action.ValidationMethod = domain.ValidationAutoApproved
			action.Reason = "routine simple request"
		}
		out[i] = action
	}
	return out
}
