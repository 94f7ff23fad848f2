// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the background consumer.
package queue

// AnalysisQueueName is the durable queue carrying AnalysisCompletedEvent.
const AnalysisQueueName = "analysis.completed"

// AnalysisCompletedEvent is published after a history entry has been stored.
// It contains enough information for downstream consumers to log or trigger
// analytics without querying the primary store.
type AnalysisCompletedEvent struct {
    EntryID                string `json:"entry_id"`
    UserID                 string `json:"user_id"`
    PlantType              string `json:"plant_type"`
    Status                 string `json:"status"`
    RecommendationDegraded bool   `json:"recommendation_degraded"`
    ImageURL               string `json:"image_url"`
    AnalyzedAt             string `json:"analyzed_at"`
}
