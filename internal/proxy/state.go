package proxy

import "time"

// State is the connection state of one proxy endpoint. It is reported by
// the status API and never used for control flow.
type State string

// Connection states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRetrying     State = "retrying"
)

// EndpointStatus is a point-in-time snapshot of one ingestion loop.
type EndpointStatus struct {
	Name           string     `json:"name"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	Transport      string     `json:"transport"`
	State          State      `json:"state"`
	Connected      bool       `json:"connected"`
	LastError      string     `json:"last_error,omitempty"`
	LastConnected  *time.Time `json:"last_connected,omitempty"`
	Attempts       uint64     `json:"attempts"`
	Advertisements uint64     `json:"advertisements"`
}
