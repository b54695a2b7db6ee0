package usecase

import (
	"tradelink/internal/domain/entity"
)

// recomputeUnread derives each party's unread counter from message read
// state. Counters are never incremented or decremented as independent
// updates: recomputing from ReadBy keeps an interleaved append and
// mark-read from losing each other's effect.
func recomputeUnread(conversation *entity.Conversation, messages []*entity.Message) {
	counts := make(map[string]int)
	for _, participantID := range conversation.Participants() {
		counts[participantID] = 0
	}

	for _, message := range messages {
		for _, participantID := range conversation.Participants() {
			if message.SenderID != participantID && !message.IsReadBy(participantID) {
				counts[participantID]++
			}
		}
	}

	conversation.UnreadCount = counts
}
