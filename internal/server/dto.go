package server

import (
	"encoding/json"

	"claimcheck/internal/domain"
)

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type RuleResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Weight   int    `json:"weight"`
	Enabled  bool   `json:"enabled"`
}

type RulesResponse struct {
	Rules []RuleResponse `json:"rules"`
}

type RunResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RulesEvaluated int    `json:"rules_evaluated"`
	RecordsScanned int    `json:"records_scanned"`
	NewFailures    int    `json:"new_failures"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type FailureResponse struct {
	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	RecordID   string `json:"record_id"`
	Reason     string `json:"reason"`
	DetectedAt string `json:"detected_at"`
}

type FailuresResponse struct {
	Failures []FailureResponse `json:"failures"`
}

type RuleSummariesResponse struct {
	Rules []domain.RuleSummary `json:"rules"`
}

type CategoryRisksResponse struct {
	Categories []domain.CategoryRisk `json:"categories"`
}

type SeverityDistributionResponse struct {
	Severities []domain.SeverityCount `json:"severities"`
}

type ScorecardResponse struct {
	TotalRecords       int     `json:"total_records"`
	RecordsWithIssues  int     `json:"records_with_issues"`
	HighSeverityIssues int     `json:"high_severity_issues"`
	QualityScore       float64 `json:"quality_score"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Status:         r.Status,
		RulesEvaluated: r.RulesEvaluated,
		RecordsScanned: r.RecordsScanned,
		NewFailures:    r.NewFailures,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

func eventResponse(ev domain.Event) EventResponse {
	var payload map[string]any
	if ev.Payload != "" {
		_ = json.Unmarshal([]byte(ev.Payload), &payload)
	}
	return EventResponse{
		ID:         ev.ID,
		TS:         ev.TS,
		Type:       ev.Type,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    payload,
	}
}
