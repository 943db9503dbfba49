package domain

// Claim is one transactional record under validation. The engine only reads
// claims; how they arrive (import, seed, upstream feed) is external to it.
type Claim struct {
	ID            string   `json:"id"`
	PatientID     string   `json:"patient_id,omitempty"`
	ProviderID    *string  `json:"provider_id,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	ServiceDate   *string  `json:"service_date,omitempty" format:"date"`
	AdmissionDate *string  `json:"admission_date,omitempty" format:"date"`
	DischargeDate *string  `json:"discharge_date,omitempty" format:"date"`
	Status        string   `json:"status,omitempty"`
	ImportedAt    string   `json:"imported_at" format:"date-time"`
}

// Provider is the reference entity claims point at via ProviderID.
type Provider struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidationFailure records that one rule flagged one claim. At most one row
// exists per (rule_id, record_id); DetectedAt is set at first insertion and
// never updated by re-runs.
type ValidationFailure struct {
	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	RecordID   string `json:"record_id"`
	Reason     string `json:"reason"`
	DetectedAt string `json:"detected_at" format:"date-time"`
}

// Run is one full evaluation pass of the rule set over the claim snapshot.
type Run struct {
	ID             string `json:"id"`
	Status         string `json:"status" enum:"completed,canceled"`
	RulesEvaluated int    `json:"rules_evaluated"`
	RecordsScanned int    `json:"records_scanned"`
	NewFailures    int    `json:"new_failures"`
	StartedAt      string `json:"started_at" format:"date-time"`
	FinishedAt     string `json:"finished_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Report rows produced by the aggregator.

type RuleSummary struct {
	RuleID         string `json:"rule_id"`
	RuleName       string `json:"rule_name"`
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	FailureCount   int    `json:"failure_count"`
	WeightedImpact int    `json:"weighted_impact"`
}

type CategoryRisk struct {
	Category  string `json:"category"`
	RiskScore int    `json:"risk_score"`
}

type SeverityCount struct {
	Severity     string `json:"severity"`
	FailureCount int    `json:"failure_count"`
}

type Scorecard struct {
	TotalRecords       int     `json:"total_records"`
	RecordsWithIssues  int     `json:"records_with_issues"`
	HighSeverityIssues int     `json:"high_severity_issues"`
	QualityScore       float64 `json:"quality_score"`
}
