package db

import (
	"time"

	"github.com/google/uuid"
)

// Run represents a monitor run record
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Kind        string         `json:"kind"`
	Status      string         `json:"status"`
	Counts      map[string]int `json:"counts,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Run kinds
const (
	RunKindDiscovery = "discovery"
	RunKindReconcile = "reconcile"
)

// Run status values
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
