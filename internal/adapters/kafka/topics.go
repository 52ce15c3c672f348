package kafka

// Topic definitions for Kafka event streaming
const (
	// Hedge lifecycle events
	TopicHedgeOpened = "hedges.opened"
	TopicHedgeClosed = "hedges.closed"
	TopicHedgeFailed = "hedges.failed"

	// Step-level progress for in-flight operations
	TopicHedgeProgress = "hedges.progress"

	// Operator alerts (rollback failures, stuck positions)
	TopicManualIntervention = "hedges.manual_intervention"
)
