// Package chatsync is the client side of the conversation messaging
// engine: a polling session that keeps a conversation list, one active
// thread and an aggregate unread badge consistent with the server
// without a push transport.
package chatsync

import (
	"context"

	"tradelink/internal/domain/entity"
)

// Store is the request/response surface the session polls against. The
// server's conversation endpoints implement it over HTTP (see
// HTTPStore); tests substitute an in-memory fake.
type Store interface {
	ListConversations(ctx context.Context, participantID string) ([]*entity.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error)
	ResolveConversation(ctx context.Context, buyerID, counterpartID, productID, subject string) (*entity.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*entity.Message, error)
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*entity.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (*entity.Conversation, error)
	UnreadTotal(ctx context.Context, participantID string) (int, error)
}
