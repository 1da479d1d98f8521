package server

import "auditflow/internal/domain"

// Request payloads

type ProcessRequest struct {
	Request   string `json:"request" minLength:"1" maxLength:"10000"`
	RequestID string `json:"request_id,omitempty"`
}

type SetModeRequest struct {
	Mode string `json:"mode" enum:"autonomous,supervised,manual"`
}

type SetThresholdRequest struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" minimum:"0" maximum:"1"`
}

type StartProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Client      string `json:"client,omitempty"`
	Type        string `json:"type,omitempty" enum:",audit_forensic,compliance,security,general"`
	Priority    string `json:"priority,omitempty" enum:",critical,urgent,high,medium,low"`
	Description string `json:"description,omitempty"`
}

type FinishProjectRequest struct {
	Project string `json:"project" minLength:"1"`
	Force   bool   `json:"force,omitempty"`
}

type FailProjectRequest struct {
	Reason string `json:"reason" minLength:"1"`
}

type CreateReportRequest struct {
	Type        string `json:"type" enum:"audit,consultancy,report"`
	ClientName  string `json:"client_name" minLength:"1"`
	ProjectName string `json:"project_name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" enum:",critical,urgent,high,medium,low"`
}

type InboundWebhookRequest struct {
	Event string         `json:"event" minLength:"1"`
	Data  map[string]any `json:"data,omitempty"`
}

// Response payloads

type ProjectListResponse struct {
	Projects []*domain.Project `json:"projects"`
	Count    int               `json:"count"`
}

type ReportListResponse struct {
	Reports []domain.Report `json:"reports"`
	Count   int             `json:"count"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type InboundWebhookResponse struct {
	Event     string         `json:"event"`
	Handled   bool           `json:"handled"`
	RequestID string         `json:"request_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}
