package enums

import "fmt"

// ParticipantStatus tracks the lifecycle of a single commitment.
type ParticipantStatus string

const (
	ParticipantStatusActive   ParticipantStatus = "active"
	ParticipantStatusLeft     ParticipantStatus = "left"
	ParticipantStatusRefunded ParticipantStatus = "refunded"
)

var validParticipantStatuses = []ParticipantStatus{
	ParticipantStatusActive,
	ParticipantStatusLeft,
	ParticipantStatusRefunded,
}

// String implements fmt.Stringer.
func (p ParticipantStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ParticipantStatus.
func (p ParticipantStatus) IsValid() bool {
	for _, candidate := range validParticipantStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseParticipantStatus converts raw input into a ParticipantStatus.
func ParseParticipantStatus(value string) (ParticipantStatus, error) {
	for _, candidate := range validParticipantStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid participant status %q", value)
}
