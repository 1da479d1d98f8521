package main

import (
	"testing"

	"auditflow/internal/agent"
	"auditflow/internal/domain"
)

func TestResultRows(t *testing.T) {
	result := &agent.ProcessResult{
		Actions: []domain.Action{
			{Kind: domain.ActionClickUpTask, ValidationMethod: domain.ValidationAutomatic},
			{Kind: domain.ActionNotification, ValidationMethod: domain.ValidationManualReview},
		},
		Results: []domain.ExecutionResult{
			{Action: domain.ActionClickUpTask, Status: domain.ResultCompleted},
			{Action: domain.ActionNotification, Status: domain.ResultSkipped},
		},
	}
	rows := resultRows(result)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != domain.ActionClickUpTask || rows[0][1] != domain.ResultCompleted {
		t.Fatalf("unexpected row: %v", rows[0])
	}
	if rows[1][2] != string(domain.ValidationManualReview) {
		t.Fatalf("unexpected validation column: %v", rows[1])
	}
}

func TestRedact(t *testing.T) {
	if redact("") != "" || redact("secret") != "***" {
		t.Fatal("unexpected redaction")
	}
}
