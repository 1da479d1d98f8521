package domain

// Priority levels for analyses, actions and projects.
const (
	PriorityCritical = "critical"
	PriorityUrgent   = "urgent"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// ActionKind identifies the adapter a validated action targets. The
// executor switches exhaustively over these kinds.
type ActionKind string

const (
	ActionClickUpTask   ActionKind = "clickup_task"
	ActionZapierTrigger ActionKind = "zapier_trigger"
	ActionWorkflowAlpha ActionKind = "workflow_alpha"
	ActionWorkflowOmega ActionKind = "workflow_omega"
	ActionAIGeneration  ActionKind = "ai_generation"
	ActionNotification  ActionKind = "notification"
	ActionEscalation    ActionKind = "escalation"
)

// ValidationMethod records how the gate judged an action.
type ValidationMethod string

const (
	ValidationAutomatic    ValidationMethod = "automatic"
	ValidationManualReview ValidationMethod = "requires_manual_review"
	ValidationApproval     ValidationMethod = "requires_approval"
	ValidationAutoApproved ValidationMethod = "auto_approved"
)

// AnalysisSource distinguishes a model-produced analysis from the
// heuristic fallback.
type AnalysisSource string

const (
	SourceModel    AnalysisSource = "model"
	SourceFallback AnalysisSource = "fallback"
)

// Entities are names the analyzer extracted from the request text.
type Entities struct {
	Client   string `json:"client,omitempty"`
	Project  string `json:"project,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// Analysis is the structured classification of one inbound request.
// Immutable once produced. The heuristic fallback pins Confidence to
// 0.5 and RiskLevel to 5.
type Analysis struct {
	Type                     string         `json:"type" enum:"audit,report,task,consultation,alert"`
	Priority                 string         `json:"priority" enum:"critical,high,medium,low"`
	Category                 string         `json:"category"`
	Complexity               string         `json:"complexity" enum:"simple,moderate,complex"`
	Urgency                  string         `json:"urgency" enum:"immediate,within_hours,within_days,flexible"`
	RiskLevel                int            `json:"risk_level" minimum:"1" maximum:"10"`
	RequiredActions          []string       `json:"required_actions"`
	SuggestedWorkflow        string         `json:"suggested_workflow" enum:"alpha,omega,standard,express"`
	EstimatedDurationMinutes int            `json:"estimated_duration_minutes"`
	Confidence               float64        `json:"confidence" minimum:"0" maximum:"1"`
	Keywords                 []string       `json:"keywords,omitempty"`
	Entities                 Entities       `json:"entities"`
	Reasoning                string         `json:"reasoning,omitempty"`
	Source                   AnalysisSource `json:"source" enum:"model,fallback"`
}

// Action is one unit of work derived from an Analysis. An unvalidated
// action is skipped by the executor unless its method is auto_approved.
type Action struct {
	Kind             ActionKind       `json:"kind"`
	Payload          map[string]any   `json:"payload,omitempty"`
	Validated        bool             `json:"validated"`
	ValidationMethod ValidationMethod `json:"validation_method"`
	ApprovalRequired bool             `json:"approval_required,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

// Execution result statuses.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// ExecutionResult is the per-action outcome of one executor pass.
type ExecutionResult struct {
	Action ActionKind     `json:"action"`
	Status string         `json:"status" enum:"completed,failed,skipped"`
	Detail map[string]any `json:"detail,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Project lifecycle states and phases.
const (
	ProjectInitialized = "initialized"
	ProjectActive      = "active"
	ProjectCompleted   = "completed"
	ProjectFailed      = "failed"

	PhaseAlpha = "alpha"
	PhaseOmega = "omega"
)

// TimelineEntry is one append-only audit record on a project.
type TimelineEntry struct {
	Action  string `json:"action"`
	TS      string `json:"ts" format:"date-time"`
	Details string `json:"details,omitempty"`
}

// Project is owned by the orchestrator and mutated only through its
// transitions. Projects are archived on completion, never deleted.
type Project struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Client          string          `json:"client"`
	Type            string          `json:"type"`
	Priority        string          `json:"priority"`
	Description     string          `json:"description,omitempty"`
	Status          string          `json:"status" enum:"initialized,active,completed,failed"`
	Phase           string          `json:"phase" enum:"alpha,omega"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	CompletedAt     string          `json:"completed_at,omitempty" format:"date-time"`
	ExternalTaskRef string          `json:"external_task_ref,omitempty"`
	Reports         []string        `json:"reports,omitempty"`
	Timeline        []TimelineEntry `json:"timeline"`
	Error           string          `json:"error,omitempty"`
}

// EnvelopeMetadata carries delivery bookkeeping. RetryCount increments
// across redeliveries of the same logical event.
type EnvelopeMetadata struct {
	RequestID  string `json:"request_id"`
	Priority   string `json:"priority"`
	RetryCount int    `json:"retry_count"`
}

// Envelope is the versioned wrapper around outbound event data. The
// HMAC signature travels in the delivery headers, not the body.
type Envelope struct {
	Event     string           `json:"event"`
	Timestamp string           `json:"timestamp" format:"date-time"`
	Source    string           `json:"source"`
	Version   string           `json:"version"`
	Data      map[string]any   `json:"data"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

// Report statuses.
const (
	ReportPending    = "pending"
	ReportProcessing = "processing"
	ReportCompleted  = "completed"
	ReportFailed     = "failed"
)

// Report is a persisted generation record.
type Report struct {
	ID          string `json:"id"`
	Type        string `json:"type" enum:"audit,consultancy,report"`
	ClientName  string `json:"client_name"`
	ProjectName string `json:"project_name"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Status      string `json:"status" enum:"pending,processing,completed,failed"`
	Content     string `json:"content,omitempty"`
	Model       string `json:"model,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Event is one row of the append-only event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey identifies a caller of the management API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Pattern holds per-(type,priority) outcome statistics.
type Pattern struct {
	Count      int     `json:"count"`
	AvgSuccess float64 `json:"avg_success"`
}

// ExecutionRecord is one entry of the bounded execution history that
// feeds the pattern store.
type ExecutionRecord struct {
	RequestID   string  `json:"request_id"`
	TS          string  `json:"ts" format:"date-time"`
	Input       string  `json:"input"`
	Type        string  `json:"type"`
	Priority    string  `json:"priority"`
	ActionCount int     `json:"action_count"`
	SuccessRate float64 `json:"success_rate"`
	Confidence  float64 `json:"confidence"`
}

// TaskPriority maps a named priority onto the tracker's 1..4 scale.
func TaskPriority(priority string) int {
	switch priority {
	case PriorityCritical, PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 3
	}
}
