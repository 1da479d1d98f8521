package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"auditflow/internal/domain"
)

// rawAnalysis matches the JSON shape the model is prompted for.
type rawAnalysis struct {
	Type              string   `json:"type"`
	Priority          string   `json:"priority"`
	Category          string   `json:"category"`
	Complexity        string   `json:"complexity"`
	Urgency           string   `json:"urgency"`
	RiskLevel         int      `json:"riskLevel"`
	RequiredActions   []string `json:"requiredActions"`
	SuggestedWorkflow string   `json:"suggestedWorkflow"`
	EstimatedDuration int      `json:"estimatedDuration"`
	Confidence        float64  `json:"confidence"`
	Keywords          []string `json:"keywords"`
	Entities          struct {
		Client   string `json:"client"`
		Project  string `json:"project"`
		Deadline string `json:"deadline"`
	} `json:"entities"`
	Reasoning string `json:"reasoning"`
}

// parseAnalysis extracts the JSON object from a model response. Models
// sometimes wrap the object in prose or fences, so everything outside
// the outermost braces is discarded.
func parseAnalysis(text string) (domain.Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.Analysis{}, fmt.Errorf("no JSON object in model response")
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return domain.Analysis{}, fmt.Errorf("parse model response: %w", err)
	}
	a := domain.Analysis{
		Type:                     normalize(raw.Type, "task"),
		Priority:                 normalize(raw.Priority, domain.PriorityMedium),
		Category:                 normalize(raw.Category, "general"),
		Complexity:               normalize(raw.Complexity, "moderate"),
		Urgency:                  normalize(raw.Urgency, "within_days"),
		RiskLevel:                clampInt(raw.RiskLevel, 1, 10),
		RequiredActions:          raw.RequiredActions,
		SuggestedWorkflow:        normalize(raw.SuggestedWorkflow, "standard"),
		EstimatedDurationMinutes: raw.EstimatedDuration,
		Confidence:               clampFloat(raw.Confidence, 0, 1),
		Keywords:                 raw.Keywords,
		Reasoning:                raw.Reasoning,
		Source:                   domain.SourceModel,
	}
	a.Entities.Client = raw.Entities.Client
	a.Entities.Project = raw.Entities.Project
	a.Entities.Deadline = raw.Entities.Deadline
	if a.EstimatedDurationMinutes <= 0 {
		a.EstimatedDurationMinutes = 60
	}
	if len(a.RequiredActions) == 0 {
		a.RequiredActions = []string{"create_task"}
	}
	return a, nil
}

func normalize(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var urgentWords = []string{"urgent", "critical", "emergency", "immediately", "asap"}

var categoryWords = []struct {
	category string
	words    []string
}{
	{"fraud", []string{"fraud", "embezzle", "forgery", "launder"}},
	{"compliance", []string{"compliance", "regulatory", "regulation", "gdpr"}},
	{"legal", []string{"legal", "lawsuit", "litigation", "dispute"}},
	{"financial", []string{"financial", "finance", "accounting", "balance", "invoice"}},
	{"security", []string{"security", "breach", "intrusion", "vulnerability"}},
}

// fallbackAnalysis classifies a request with keyword heuristics when
// no model is available. Confidence is pinned at 0.5 so the validation
// gate routes the result to manual review under the default threshold.
func fallbackAnalysis(input string) domain.Analysis {
	lower := strings.ToLower(input)

	kind := "task"
	switch {
	case strings.Contains(lower, "audit"):
		kind = "audit"
	case strings.Contains(lower, "report"):
		kind = "report"
	case strings.Contains(lower, "consult"):
		kind = "consultation"
	case strings.Contains(lower, "alert"):
		kind = "alert"
	}

	priority := domain.PriorityMedium
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			priority = domain.PriorityHigh
			break
		}
	}

	category := "general"
	var keywords []string
	for _, entry := range categoryWords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				if category == "general" {
					category = entry.category
				}
				keywords = append(keywords, w)
			}
		}
	}

	return domain.Analysis{
		Type:                     kind,
		Priority:                 priority,
		Category:                 category,
		Complexity:               "moderate",
		Urgency:                  "within_days",
		RiskLevel:                5,
		RequiredActions:          []string{"create_task", "notify_team"},
		SuggestedWorkflow:        "standard",
		EstimatedDurationMinutes: 60,
		Confidence:               0.5,
		Keywords:                 keywords,
		Reasoning:                "keyword heuristics, no model available",
		Source:                   domain.SourceFallback,
	}
}
