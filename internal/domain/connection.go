package domain

import "fmt"

// ConnectionPhase is the coarse state of a feed connection.
type ConnectionPhase int

const (
	PhaseIdle ConnectionPhase = iota
	PhaseConnecting
	PhaseSubscribed
	PhaseClosed
	PhaseReconnecting
)

var phaseNames = [...]string{
	PhaseIdle:         "idle",
	PhaseConnecting:   "connecting",
	PhaseSubscribed:   "subscribed",
	PhaseClosed:       "closed",
	PhaseReconnecting: "reconnecting",
}

func (p ConnectionPhase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p ConnectionPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConnectionState is the state of a feed connection. Attempt is only
// meaningful in PhaseReconnecting.
type ConnectionState struct {
	Phase   ConnectionPhase `json:"phase"`
	Attempt int             `json:"attempt,omitempty"`
}

func (s ConnectionState) String() string {
	if s.Phase == PhaseReconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.Phase.String()
}

// FeedStatus is published whenever a feed changes state.
type FeedStatus struct {
	Target    SubscriptionTarget `json:"target"`
	State     ConnectionState    `json:"state"`
	Connected bool               `json:"connected"`
	Exhausted bool               `json:"exhausted"`
	Error     string             `json:"error,omitempty"`
}
