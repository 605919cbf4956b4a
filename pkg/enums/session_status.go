package enums

import "fmt"

// SessionStatus tracks the lifecycle of a pooled-purchase session.
type SessionStatus string

const (
	SessionStatusForming    SessionStatus = "forming"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusMOQReached SessionStatus = "moq_reached"
	SessionStatusSuccess    SessionStatus = "success"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusForming,
	SessionStatusActive,
	SessionStatusMOQReached,
	SessionStatusSuccess,
	SessionStatusFailed,
	SessionStatusCancelled,
}

// allowedSessionTransitions encodes the forward-only state machine. The
// moq_reached→active edge exists only for the leave-below-target revert.
var allowedSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusForming:    {SessionStatusActive, SessionStatusMOQReached, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusActive:     {SessionStatusMOQReached, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusMOQReached: {SessionStatusSuccess, SessionStatusActive},
}

// String implements fmt.Stringer.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SessionStatus.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session can no longer accept mutations.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusSuccess, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// IsJoinable reports whether participants may still join.
func (s SessionStatus) IsJoinable() bool {
	return s == SessionStatusForming || s == SessionStatusActive
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, candidate := range allowedSessionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseSessionStatus converts raw input into a SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}
