package repository

import (
	"context"

	"tradelink/internal/domain/entity"
)

type ConversationRepository interface {
	// Create persists a new conversation. It fails with a CONFLICT error
	// when a conversation for the same (buyer, counterpart, product)
	// triple already exists, so concurrent creators can detect the race
	// and re-resolve instead of producing a duplicate thread.
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	FindByParties(ctx context.Context, buyerID, counterpartID, productID string) (*entity.Conversation, error)
	ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error)
	Update(ctx context.Context, conversation *entity.Conversation) error

	// Message methods
	CreateMessage(ctx context.Context, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	// MarkMessagesRead adds readerID to ReadBy on every message in the
	// conversation not sent by readerID, and returns the conversation's
	// full message list after the update.
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]*entity.Message, error)
}
