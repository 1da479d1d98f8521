package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"auditflow/internal/events"
)

// Inbound webhook event types.
const (
	eventAuditRequest  = "audit_request"
	eventTaskUpdate    = "task_update"
	eventReportRequest = "report_request"
	eventSyncRequest   = "sync_request"
	eventAgentCommand  = "agent_command"
)

func registerWebhooks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "webhook-inbound",
		Method:      http.MethodPost,
		Path:        "/webhooks/inbound",
		Summary:     "Inbound webhook",
		Description: "Signature-verified entry point for external systems. Unknown event types are recorded and acknowledged.",
	}, func(ctx context.Context, input *struct {
		Signature string `header:"X-Auditflow-Signature"`
		RawBody   []byte
	}) (*struct {
		Body InboundWebhookResponse `json:"body"`
	}, error) {
		if !cfg.Codec.Verify(input.RawBody, input.Signature) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_signature", "payload signature verification failed", nil)
		}
		var req InboundWebhookRequest
		if err := json.Unmarshal(input.RawBody, &req); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid JSON payload", nil)
		}
		if strings.TrimSpace(req.Event) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "event is required", nil)
		}
		resp, err := handleInbound(ctx, cfg, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InboundWebhookResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "webhook-test",
		Method:      http.MethodGet,
		Path:        "/webhooks/test",
		Summary:     "Ping outbound webhook channels",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		results := map[string]string{}
		if cfg.Hooks != nil {
			results = cfg.Hooks.Test(ctx)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: results}, nil
	})
}

func handleInbound(ctx context.Context, cfg Config, req InboundWebhookRequest) (InboundWebhookResponse, error) {
	recordEvent(ctx, cfg, "webhook.received", "webhook", "", "external", events.EventPayload{"event": req.Event})

	switch req.Event {
	case eventAuditRequest:
		request := stringField(req.Data, "description", "request")
		if request == "" {
			return InboundWebhookResponse{}, fmt.Errorf("audit_request: missing description")
		}
		res, err := cfg.Agent.Process(ctx, request, stringField(req.Data, "request_id"))
		if err != nil {
			return InboundWebhookResponse{}, err
		}
		return InboundWebhookResponse{
			Event:     req.Event,
			Handled:   true,
			RequestID: res.RequestID,
			Result: map[string]any{
				"type":         res.Analysis.Type,
				"actions":      len(res.Actions),
				"success_rate": res.SuccessRate,
			},
		}, nil

	case eventTaskUpdate:
		taskID := stringField(req.Data, "task_id")
		status := stringField(req.Data, "status")
		if taskID == "" || status == "" {
			return InboundWebhookResponse{}, fmt.Errorf("task_update: task_id and status are required")
		}
		if cfg.Tracker != nil && cfg.Tracker.Configured() {
			if err := cfg.Tracker.UpdateTaskStatus(ctx, taskID, status); err != nil {
				log.Warn().Str("task", taskID).Err(err).Msg("tracker status sync failed")
			}
		}
		recordEvent(ctx, cfg, "task.updated", "task", taskID, "external", events.EventPayload{"status": status})
		return InboundWebhookResponse{Event: req.Event, Handled: true}, nil

	case eventReportRequest:
		report, err := runReport(ctx, cfg, CreateReportRequest{
			Type:        reportType(stringField(req.Data, "type")),
			ClientName:  stringField(req.Data, "client", "client_name"),
			ProjectName: stringField(req.Data, "project", "project_name"),
			Description: stringField(req.Data, "description"),
			Priority:    stringField(req.Data, "priority"),
		}, "external")
		if err != nil {
			return InboundWebhookResponse{}, err
		}
		return InboundWebhookResponse{
			Event:   req.Event,
			Handled: true,
			Result:  map[string]any{"report_id": report.ID, "status": report.Status},
		}, nil

	case eventSyncRequest:
		if cfg.Tracker != nil {
			cfg.Tracker.ClearCache()
		}
		return InboundWebhookResponse{Event: req.Event, Handled: true, Result: map[string]any{"cache": "cleared"}}, nil

	case eventAgentCommand:
		cmd := stringField(req.Data, "command")
		result, err := cfg.Agent.Command(cmd)
		if err != nil {
			return InboundWebhookResponse{}, err
		}
		recordEvent(ctx, cfg, "agent.command", "agent", "", "external", events.EventPayload{"command": cmd})
		return InboundWebhookResponse{Event: req.Event, Handled: true, Result: result}, nil

	default:
		return InboundWebhookResponse{Event: req.Event, Handled: false}, nil
	}
}

func stringField(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func reportType(v string) string {
	switch v {
	case "audit", "consultancy", "report":
		return v
	default:
		return "report"
	}
}
