package models

import (
	"time"
)

type EventType string

const (
	EventTaskCreated         EventType = "TaskCreated"
	EventTaskPosted          EventType = "TaskPosted"
	EventTaskMatched         EventType = "TaskMatched"
	EventTaskStarted         EventType = "TaskStarted"
	EventTaskCompleted       EventType = "TaskCompleted"
	EventTaskCancelled       EventType = "TaskCancelled"
	EventTaskRated           EventType = "TaskRated"
	EventOfferSubmitted      EventType = "OfferSubmitted"
	EventOfferWithdrawn      EventType = "OfferWithdrawn"
	EventLedgerEntryRecorded EventType = "LedgerEntryRecorded"
	EventPaymentReleased     EventType = "PaymentReleased"
	EventPaymentRefunded     EventType = "PaymentRefunded"
	EventPayoutFailed        EventType = "PayoutFailed"
	EventDisputeOpened       EventType = "DisputeOpened"
	EventDisputeResolved     EventType = "DisputeResolved"
	EventDisputeClosed       EventType = "DisputeClosed"
)

// Event is a domain notification handed to the event sink after a commit.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	TaskID     string                 `json:"task_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}
