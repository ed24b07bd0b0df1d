package models

import "time"

type DisputeType string

const (
	DisputePayment  DisputeType = "payment"
	DisputeQuality  DisputeType = "quality"
	DisputeDelivery DisputeType = "delivery"
	DisputeBehavior DisputeType = "behavior"
)

func (t DisputeType) Valid() bool {
	switch t {
	case DisputePayment, DisputeQuality, DisputeDelivery, DisputeBehavior:
		return true
	}
	return false
}

type DisputePriority string

const (
	PriorityLow      DisputePriority = "low"
	PriorityMedium   DisputePriority = "medium"
	PriorityHigh     DisputePriority = "high"
	PriorityCritical DisputePriority = "critical"
)

func (p DisputePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "open"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeResolved      DisputeStatus = "resolved"
	DisputeClosed        DisputeStatus = "closed"
)

func (s DisputeStatus) String() string { return string(s) }

// Active reports whether the dispute still freezes escrow.
func (s DisputeStatus) Active() bool {
	return s == DisputeOpen || s == DisputeInvestigating
}

type Resolution string

const (
	FavorComplainant Resolution = "favor_complainant"
	FavorRespondent  Resolution = "favor_respondent"
	Mediation        Resolution = "mediation"
)

func (r Resolution) Valid() bool {
	return r == FavorComplainant || r == FavorRespondent || r == Mediation
}

type Dispute struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	ComplainantID string          `json:"complainant_id"`
	RespondentID  string          `json:"respondent_id"`
	Type          DisputeType     `json:"type"`
	Priority      DisputePriority `json:"priority"`
	Status        DisputeStatus   `json:"status"`
	Amount        Amount          `json:"amount,omitempty"`
	Description   string          `json:"description"`
	Resolution    Resolution      `json:"resolution,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// DisputeFilter narrows dispute listings.
type DisputeFilter struct {
	Status DisputeStatus
	TaskID string
	Limit  int
}
