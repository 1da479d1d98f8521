package webhook

import "auditflow/internal/domain"

// Channel names recognized in the endpoints config. Events for a
// channel without a URL fall back to the generic channel when one is
// configured.
const (
	ChannelTaskCreated     = "taskCreated"
	ChannelAuditResult     = "auditResult"
	ChannelReportGenerated = "reportGenerated"
	ChannelNotification    = "notification"
	ChannelEscalation      = "escalation"
	ChannelAlphaOmega      = "alphaOmega"
	ChannelAgentActivity   = "agentActivity"
	ChannelGeneric         = "generic"
)

// NotifyTaskCreated queues a task_created event for the tracker channel.
func (s *Sender) NotifyTaskCreated(data map[string]any, priority string) error {
	return s.Queue(ChannelTaskCreated, "task_created", data, priority)
}

// NotifyAuditResult queues an audit_result event.
func (s *Sender) NotifyAuditResult(data map[string]any, priority string) error {
	return s.Queue(ChannelAuditResult, "audit_result", data, priority)
}

// NotifyReportGenerated queues a report_generated event.
func (s *Sender) NotifyReportGenerated(data map[string]any, priority string) error {
	return s.Queue(ChannelReportGenerated, "report_generated", data, priority)
}

// Notify queues a notification event.
func (s *Sender) Notify(data map[string]any, priority string) error {
	return s.Queue(ChannelNotification, "notification", data, priority)
}

// Escalate queues an escalation event.
func (s *Sender) Escalate(data map[string]any, priority string) error {
	return s.Queue(ChannelEscalation, "escalation", data, priority)
}

// TriggerAlpha queues a project_started event on the workflow channel.
func (s *Sender) TriggerAlpha(project map[string]any) error {
	return s.Queue(ChannelAlphaOmega, "project_started", map[string]any{
		"workflow": "alpha",
		"action":   "project_start",
		"project":  project,
	}, domain.PriorityHigh)
}

// TriggerOmega queues a project_completed event on the workflow channel.
func (s *Sender) TriggerOmega(project map[string]any) error {
	return s.Queue(ChannelAlphaOmega, "project_completed", map[string]any{
		"workflow": "omega",
		"action":   "project_complete",
		"project":  project,
	}, domain.PriorityHigh)
}

// SyncActivity queues an agent_activity event summarizing one pipeline
// run for downstream sync.
func (s *Sender) SyncActivity(data map[string]any) error {
	return s.Queue(ChannelAgentActivity, "agent_activity", data, domain.PriorityMedium)
}
