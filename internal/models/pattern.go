package models

import "time"

// AlertPattern is a recurring (model, rule) breach mined from alert history.
type AlertPattern struct {
	ID          string      `json:"id"`
	ModelID     string      `json:"model_id"`
	ModelName   string      `json:"model_name"`
	Rule        string      `json:"rule"`
	Severity    Severity    `json:"severity"`
	Occurrences int         `json:"occurrences"`
	Prevalence  float64     `json:"prevalence"`
	OpenCount   int         `json:"open_count"`
	LastSeen    time.Time   `json:"last_seen"`
	MeanMTTR    float64     `json:"mean_mttr_minutes"`
	ByStatus    []RuleCount `json:"by_status,omitempty"`
}

// RuleCount pairs a label with an occurrence count.
type RuleCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
