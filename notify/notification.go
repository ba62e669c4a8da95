// Package notify stores operator notifications. The dispatch sweep uses the
// metadata payload as a dedup key so repeated sweeps alert once.
package notify

import (
	"time"
)

// Priority of a notification
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status of a notification
type Status string

const (
	StatusPending      Status = "pending"
	StatusDelivered    Status = "delivered"
	StatusAcknowledged Status = "acknowledged"
	StatusDismissed    Status = "dismissed"
)

// Open reports whether the notification still needs operator attention
func (s Status) Open() bool {
	return s == StatusPending || s == StatusDelivered
}

// Well-known categories. Category is free text; these are the ones the sweep writes.
const (
	CategoryAlert = "alert"
	CategoryInfo  = "info"
)

// Metadata keys used for dedup
const (
	MetaJobID      = "job_id"
	MetaAgentID    = "agent_id"
	MetaResearchID = "research_id"
	MetaRule       = "rule"
)

// Notification surfaces an event to a human operator
type Notification struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Category       string                 `json:"category"`
	Priority       Priority               `json:"priority"`
	Status         Status                 `json:"status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
}
