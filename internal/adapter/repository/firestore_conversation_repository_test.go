package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradelink/internal/domain/entity"
)

func TestConversationDocID(t *testing.T) {
	id := conversationDocID("buyer-1", "supplier-1", "P123")
	assert.Equal(t, id, conversationDocID("buyer-1", "supplier-1", "P123"))
	assert.Len(t, id, 64)

	// A product-scoped thread and a general inquiry are distinct documents.
	assert.NotEqual(t, id, conversationDocID("buyer-1", "supplier-1", ""))

	// The separator keeps adjacent fields from colliding.
	assert.NotEqual(t,
		conversationDocID("buyer-1x", "supplier-1", ""),
		conversationDocID("buyer-1", "xsupplier-1", ""))

	assert.NotEqual(t, id, conversationDocID("supplier-1", "buyer-1", "P123"))
}

func TestSortConversationsByActivity(t *testing.T) {
	at := func(offset time.Duration) *time.Time {
		ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(offset)
		return &ts
	}

	conversations := []*entity.Conversation{
		{ID: "never-messaged-a"},
		{ID: "older", LastMessageAt: at(0)},
		{ID: "never-messaged-b"},
		{ID: "newest", LastMessageAt: at(2 * time.Minute)},
		{ID: "newer", LastMessageAt: at(time.Minute)},
	}

	sortConversationsByActivity(conversations)

	ids := make([]string, len(conversations))
	for i, conversation := range conversations {
		ids[i] = conversation.ID
	}
	assert.Equal(t, []string{"newest", "newer", "older", "never-messaged-a", "never-messaged-b"}, ids)
}
