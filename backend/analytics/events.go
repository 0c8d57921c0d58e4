package analytics

import (
	"github.com/posthog/posthog-go"
)

func EmitConversationCreated(client posthog.Client, userID string, conversationID string) {
	enqueue(client, posthog.Capture{
		DistinctId: userID,
		Event:      "conversation_created",
		Properties: map[string]interface{}{
			"conversation_id": conversationID,
		},
	})
}

func EmitTurnCompleted(client posthog.Client, userID string, conversationID string, modelID string, fallback bool, roundTrips int) {
	enqueue(client, posthog.Capture{
		DistinctId: userID,
		Event:      "turn_completed",
		Properties: map[string]interface{}{
			"conversation_id": conversationID,
			"model":           modelID,
			"fallback":        fallback,
			"round_trips":     roundTrips,
		},
	})
}

func EmitTurnFailed(client posthog.Client, userID string, conversationID string, reason string) {
	enqueue(client, posthog.Capture{
		DistinctId: userID,
		Event:      "turn_failed",
		Properties: map[string]interface{}{
			"conversation_id": conversationID,
			"reason":          reason,
		},
	})
}

// Analytics are optional, a nil client drops every event.
func enqueue(client posthog.Client, capture posthog.Capture) {
	if client == nil {
		return
	}
	_ = client.Enqueue(capture)
}
