package model

import "time"

// Phase is a state of the live-update connection.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
	PhaseFailed       Phase = "failed"
)

// ConnectionState is a read-only snapshot of the live-update connection.
type ConnectionState struct {
	Phase        Phase     `json:"phase"`
	AttemptCount int       `json:"attemptCount"`
	LastError    string    `json:"lastError,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Since        time.Time `json:"since"`
}

// Transition records one state change of the connection for diagnostics.
type Transition struct {
	From  Phase     `json:"from"`
	To    Phase     `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Err   string    `json:"error,omitempty"`
}
