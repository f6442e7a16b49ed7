package state

import (
	"context"
	"time"
)

// Snapshot is the published view of one client's session lifecycle.
type Snapshot struct {
	ClientID  string    `json:"client_id"`
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	Errors    int64     `json:"errors"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store abstracts where lifecycle snapshots are published so a fleet of
// clients can be observed from one place.
type Store interface {
	Record(ctx context.Context, s Snapshot) error
	Close() error
}
