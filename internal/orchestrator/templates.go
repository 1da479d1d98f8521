package orchestrator

// Templates maps project types to their planned task lists.
func Templates() map[string][]string {
	return map[string][]string{
		"audit_forensic": {
			"Initial evidence collection",
			"Chain of custody documentation",
			"Financial records analysis",
			"Digital forensics examination",
			"Interview key personnel",
			"Draft findings report",
			"Final report review and sign-off",
		},
		"compliance": {
			"Regulatory framework mapping",
			"Gap analysis",
			"Control testing",
			"Remediation plan",
			"Compliance report",
		},
		"security": {
			"Scope and threat model",
			"Vulnerability assessment",
			"Incident timeline reconstruction",
			"Containment recommendations",
			"Security report",
		},
		"general": {
			"Scope definition",
			"Information gathering",
			"Analysis and findings",
			"Deliverable preparation",
		},
	}
}
