package enums

// OutboxEventType names a domain event queued for publication.
type OutboxEventType string

const (
	EventSessionActivated    OutboxEventType = "session.activated"
	EventSessionMOQReached   OutboxEventType = "session.moq_reached"
	EventSessionSucceeded    OutboxEventType = "session.succeeded"
	EventSessionFailed       OutboxEventType = "session.failed"
	EventSessionCancelled    OutboxEventType = "session.cancelled"
	EventSessionReverted     OutboxEventType = "session.reverted"
	EventParticipantJoined   OutboxEventType = "session.participant_joined"
	EventParticipantLeft     OutboxEventType = "session.participant_left"
	EventTierShifted         OutboxEventType = "session.tier_shifted"
	EventBotInjected         OutboxEventType = "session.bot_injected"
	EventProductionStarted   OutboxEventType = "session.production_started"
	EventProductionCompleted OutboxEventType = "session.production_completed"
)

// OutboxAggregateType names the aggregate an event belongs to.
type OutboxAggregateType string

const (
	AggregateGroupSession OutboxAggregateType = "group_session"
)

// OutboxDLQErrorReason classifies why an event was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)
