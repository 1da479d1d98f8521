package aigen

import "fmt"

func analysisPrompt(input string) string {
	return fmt.Sprintf(`You are the triage analyst of a forensic audit and consultancy firm.
Classify the following request and respond with a single JSON object only, no prose, no markdown fences.

Request:
%s

Respond with exactly these fields:
{
  "type": "audit" | "report" | "task" | "consultation" | "alert",
  "priority": "critical" | "high" | "medium" | "low",
  "category": string,
  "complexity": "simple" | "moderate" | "complex",
  "urgency": "immediate" | "within_hours" | "within_days" | "flexible",
  "riskLevel": integer 1-10,
  "requiredActions": [string],
  "suggestedWorkflow": "alpha" | "omega" | "standard" | "express",
  "estimatedDuration": integer minutes,
  "confidence": number 0-1,
  "keywords": [string],
  "entities": {"client": string, "project": string, "deadline": string},
  "reasoning": string
}`, input)
}

func reportPrompt(kind, clientName, projectName, description string) string {
	if kind == "closing_summary" {
		return closingPrompt(clientName, projectName, description)
	}
	return fmt.Sprintf(`You are a senior forensic auditor writing a professional %s report.

Client: %s
Project: %s
Scope: %s

Write the full report in markdown with these sections: Executive Summary,
Scope and Methodology, Findings, Risk Assessment, Recommendations, Conclusion.
Be specific and factual; where information is missing, state the assumption made.`,
		kind, clientName, projectName, description)
}

func closingPrompt(clientName, projectName, description string) string {
	return fmt.Sprintf(`You are a senior consultant writing the executive close-out summary for a finished engagement.

Client: %s
Project: %s
Summary provided: %s

Write a concise markdown summary with these sections: Executive Summary,
Objectives Achieved, Key Findings, Recommendations, Suggested Next Steps.
Keep it short and professional.`, clientName, projectName, description)
}
