package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradelink/internal/domain/entity"
	"tradelink/internal/domain/repository"
	"tradelink/pkg/errors"
	"tradelink/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

// conversationDocID derives the document ID from the conversation's
// identity triple. Two concurrent creators of the same triple target the
// same document, so the second Create fails with AlreadyExists instead
// of producing a duplicate thread. An empty productID (general inquiry)
// hashes distinctly from any product-scoped inquiry.
func conversationDocID(buyerID, counterpartID, productID string) string {
	h := sha256.New()
	h.Write([]byte(buyerID))
	h.Write([]byte{0})
	h.Write([]byte(counterpartID))
	h.Write([]byte{0})
	h.Write([]byte(productID))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = conversationDocID(conversation.BuyerID, conversation.CounterpartID, conversation.ProductID)
	}

	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	if conversation.UnreadCount == nil {
		conversation.UnreadCount = make(map[string]int)
	}

	_, err := r.client.Collection("conversations").Doc(conversation.ID).Create(ctx, conversationDoc(conversation))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists for these parties")
		}
		return errors.StoreUnavailable("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection("conversations").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.StoreUnavailable("Failed to get conversation", err)
	}

	return docToConversation(doc)
}

func (r *firestoreConversationRepository) FindByParties(ctx context.Context, buyerID, counterpartID, productID string) (*entity.Conversation, error) {
	// The deterministic document ID turns the lookup into a direct Get.
	return r.GetByID(ctx, conversationDocID(buyerID, counterpartID, productID))
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.client.Collection("conversations").Where("participants", "array-contains", participantID)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for %s: %v", participantID, err)
		return nil, 0, errors.StoreUnavailable("Failed to fetch conversations", err)
	}

	var conversations []*entity.Conversation
	for _, doc := range allDocs {
		conversation, err := docToConversation(doc)
		if err != nil {
			logger.Warn("Skipping malformed conversation document %s: %v", doc.Ref.ID, err)
			continue
		}
		conversations = append(conversations, conversation)
	}

	sortConversationsByActivity(conversations)

	total := int64(len(conversations))

	start := offset
	if start > len(conversations) {
		start = len(conversations)
	}
	end := len(conversations)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return conversations[start:end], total, nil
}

func (r *firestoreConversationRepository) Update(ctx context.Context, conversation *entity.Conversation) error {
	conversation.UpdatedAt = time.Now()

	_, err := r.client.Collection("conversations").Doc(conversation.ID).Set(ctx, conversationDoc(conversation))
	if err != nil {
		return errors.StoreUnavailable("Failed to update conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if message.ReadBy == nil {
		message.ReadBy = []string{message.SenderID}
	}

	_, err := r.client.Collection("conversations").Doc(message.ConversationID).Collection("messages").Doc(message.ID).Set(ctx, message)
	if err != nil {
		return errors.StoreUnavailable("Failed to create message", err)
	}

	return nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	iter := r.client.Collection("conversations").Doc(conversationID).Collection("messages").OrderBy("createdAt", firestore.Asc).Documents(ctx)

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, 0, errors.StoreUnavailable("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Warn("Skipping malformed message document %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, &message)
	}

	// Equal timestamps fall back to the message ID so every client
	// renders the same order.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})

	total := int64(len(messages))

	start := offset
	if start > len(messages) {
		start = len(messages)
	}
	end := len(messages)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return messages[start:end], total, nil
}

func (r *firestoreConversationRepository) MarkMessagesRead(ctx context.Context, conversationID, readerID string) ([]*entity.Message, error) {
	messages, _, err := r.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}

	for _, message := range messages {
		if message.SenderID == readerID || message.IsReadBy(readerID) {
			continue
		}

		message.ReadBy = append(message.ReadBy, readerID)
		docRef := r.client.Collection("conversations").Doc(conversationID).Collection("messages").Doc(message.ID)
		if _, err := docRef.Set(ctx, message); err != nil {
			return nil, errors.StoreUnavailable("Failed to update message read status", err)
		}
	}

	return messages, nil
}

// sortConversationsByActivity orders a conversation list for display:
// lastMessageAt descending, conversations that never held a message last.
func sortConversationsByActivity(conversations []*entity.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i].LastMessageAt, conversations[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// conversationDoc adds the denormalized participants array the
// array-contains listing query depends on.
func conversationDoc(conversation *entity.Conversation) map[string]interface{} {
	return map[string]interface{}{
		"id":              conversation.ID,
		"buyerId":         conversation.BuyerID,
		"counterpartId":   conversation.CounterpartID,
		"counterpartRole": conversation.CounterpartRole,
		"productId":       conversation.ProductID,
		"subject":         conversation.Subject,
		"lastMessage":     conversation.LastMessage,
		"lastMessageAt":   conversation.LastMessageAt,
		"unreadCount":     conversation.UnreadCount,
		"participants":    conversation.Participants(),
		"createdAt":       conversation.CreatedAt,
		"updatedAt":       conversation.UpdatedAt,
	}
}

func docToConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conversation.ID = doc.Ref.ID
	return &conversation, nil
}
