package models

import "time"

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
)

func (s OfferStatus) String() string { return string(s) }

// Offer is a helper's proposal to perform a posted task.
type Offer struct {
	ID             string      `json:"id"`
	TaskID         string      `json:"task_id"`
	HelperID       string      `json:"helper_id"`
	ProposedAmount Amount      `json:"proposed_amount"`
	Message        string      `json:"message,omitempty"`
	Status         OfferStatus `json:"status"`
	ProposedAt     time.Time   `json:"proposed_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
