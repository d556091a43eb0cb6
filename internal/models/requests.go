package models

import "time"

// IngestRequest is an inbound metric observation. Value is required; nil means the caller
// sent no value.
type IngestRequest struct {
	ModelID      string    `json:"model_id"`
	MetricType   string    `json:"metric_type"`
	Value        *float64  `json:"value"`
	Environment  string    `json:"environment,omitempty"`
	SourceSystem string    `json:"source_system,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Float64 returns a pointer to v, for building requests with optional numbers.
func Float64(v float64) *float64 {
	return &v
}

// IngestResult reports what an ingestion produced.
type IngestResult struct {
	Point               MetricPoint `json:"point"`
	Alert               *Alert      `json:"alert,omitempty"`
	AlertCreated        bool        `json:"alert_created"`
	DuplicateSuppressed bool        `json:"duplicate_suppressed"`
}

// TransitionRequest asks to move an alert to its next state.
type TransitionRequest struct {
	AlertID string      `json:"alert_id"`
	Target  AlertStatus `json:"status"`
	Comment string      `json:"comment"`
}

// ModelFilter narrows catalog listings.
type ModelFilter struct {
	Type        ModelType
	Environment string
	Status      string
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	ModelID  string
	Status   AlertStatus
	Severity Severity
	Since    time.Time
}

// Matches reports whether a satisfies every set field of f.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.ModelID != "" && a.ModelID != f.ModelID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	Status   IncidentStatus
	Severity Severity
}

// Matches reports whether i satisfies every set field of f.
func (f IncidentFilter) Matches(i *Incident) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	return true
}

// SLOFilter narrows SLO listings. Status is derived, so it is applied after load.
type SLOFilter struct {
	ServiceID string
	Status    SLOStatus
}

// Matches reports whether s satisfies every set field of f.
func (f SLOFilter) Matches(s *SLO) bool {
	if f.ServiceID != "" && s.ServiceID != f.ServiceID {
		return false
	}
	if f.Status != "" && s.Status() != f.Status {
		return false
	}
	return true
}

// PageRequest selects one page of a listing. Page is 1-based.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request to [1, max] with def applied when Limit is unset.
func (p PageRequest) Normalize(def, max int) PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = def
	}
	if max > 0 && p.Limit > max {
		p.Limit = max
	}
	return p
}

// Page is a paginated listing.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// Paginate slices items according to a normalized request.
func Paginate[T any](items []T, req PageRequest) Page[T] {
	total := len(items)
	pages := 0
	if req.Limit > 0 {
		pages = (total + req.Limit - 1) / req.Limit
	}
	start := (req.Page - 1) * req.Limit
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	data := make([]T, 0, end-start)
	data = append(data, items[start:end]...)
	return Page[T]{Data: data, Total: total, Page: req.Page, Limit: req.Limit, Pages: pages}
}
