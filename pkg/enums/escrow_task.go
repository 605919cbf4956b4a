package enums

import "fmt"

// EscrowTaskType identifies the outbound side effect an escrow task performs.
type EscrowTaskType string

const (
	EscrowTaskRelease       EscrowTaskType = "release_escrow"
	EscrowTaskRefundSession EscrowTaskType = "refund_session"
	EscrowTaskRefundCredit  EscrowTaskType = "refund_credit"
	EscrowTaskCreateOrders  EscrowTaskType = "create_orders"
)

var validEscrowTaskTypes = []EscrowTaskType{
	EscrowTaskRelease,
	EscrowTaskRefundSession,
	EscrowTaskRefundCredit,
	EscrowTaskCreateOrders,
}

// String implements fmt.Stringer.
func (t EscrowTaskType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known EscrowTaskType.
func (t EscrowTaskType) IsValid() bool {
	for _, candidate := range validEscrowTaskTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEscrowTaskType converts raw input into an EscrowTaskType.
func ParseEscrowTaskType(value string) (EscrowTaskType, error) {
	for _, candidate := range validEscrowTaskTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow task type %q", value)
}

// EscrowTaskStatus tracks durable escrow task execution.
type EscrowTaskStatus string

const (
	EscrowTaskStatusPending   EscrowTaskStatus = "pending"
	EscrowTaskStatusSucceeded EscrowTaskStatus = "succeeded"
	EscrowTaskStatusTerminal  EscrowTaskStatus = "failed_terminal"
)

// String implements fmt.Stringer.
func (s EscrowTaskStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EscrowTaskStatus.
func (s EscrowTaskStatus) IsValid() bool {
	switch s {
	case EscrowTaskStatusPending, EscrowTaskStatusSucceeded, EscrowTaskStatusTerminal:
		return true
	}
	return false
}
