package usecase

import (
	"context"
	"log"
	"time"

	"tradelink/internal/domain/entity"
	"tradelink/internal/domain/repository"
	"tradelink/internal/infrastructure/ratelimit"
	"tradelink/pkg/errors"
)

type ChatUseCase struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
	productRepo      repository.ProductRepository
	rateLimiter      *ratelimit.RateLimiter
}

func NewChatUseCase(
	conversationRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		productRepo:      productRepo,
		rateLimiter:      rateLimiter,
	}
}

type ResolveConversationInput struct {
	CounterpartID  string
	ProductID      string
	Subject        string
	InitialMessage string
}

type SendMessageInput struct {
	ConversationID string
	Content        string
}

type ConversationResponse struct {
	*entity.Conversation
	Product   *entity.Product `json:"product,omitempty"`
	OtherUser *entity.User    `json:"other_user,omitempty"`
}

type MessageResponse struct {
	*entity.Message
	Sender *entity.User `json:"sender,omitempty"`
}

// ResolveConversation finds or creates the single conversation for a
// (buyer, counterpart, product) triple. Creation is idempotent under
// races: when two callers both miss the lookup and race to create, the
// loser observes the store's uniqueness conflict and re-resolves to the
// winner's record.
func (uc *ChatUseCase) ResolveConversation(ctx context.Context, buyerID string, input ResolveConversationInput) (*ConversationResponse, error) {
	if buyerID == "" {
		return nil, errors.IdentityMissing("Authentication required to open a conversation")
	}

	allowed, waitTime := uc.rateLimiter.Allow(buyerID, "resolve_conversation")
	if !allowed {
		log.Printf("ResolveConversation Rate Limited: User %s must wait %v", buyerID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before opening another conversation")
	}

	if buyerID == input.CounterpartID {
		return nil, errors.BadRequest("You cannot open a conversation with yourself", nil)
	}

	counterpart, err := uc.userRepo.GetByID(ctx, input.CounterpartID)
	if err != nil {
		log.Printf("ResolveConversation Error: Counterpart %s not found: %v", input.CounterpartID, err)
		return nil, errors.NotFound("Counterpart", err)
	}
	if counterpart.Role != entity.RoleSupplier && counterpart.Role != entity.RoleAdmin {
		return nil, errors.BadRequest("Conversations can only be opened with a supplier or an admin", nil)
	}

	var product *entity.Product
	if input.ProductID != "" {
		product, err = uc.productRepo.GetByID(ctx, input.ProductID)
		if err != nil {
			log.Printf("ResolveConversation Error: Product %s not found: %v", input.ProductID, err)
			return nil, errors.NotFound("Product", err)
		}
	}

	conversation, err := uc.conversationRepo.FindByParties(ctx, buyerID, input.CounterpartID, input.ProductID)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}

		conversation = &entity.Conversation{
			BuyerID:         buyerID,
			CounterpartID:   input.CounterpartID,
			CounterpartRole: counterpart.Role,
			ProductID:       input.ProductID,
			Subject:         input.Subject,
			UnreadCount:     make(map[string]int),
		}

		if createErr := uc.conversationRepo.Create(ctx, conversation); createErr != nil {
			if !errors.Is(createErr, "CONFLICT") {
				log.Printf("ResolveConversation Error: Failed to create conversation: %v", createErr)
				return nil, createErr
			}
			// Lost the creation race; converge on the winner's record.
			conversation, err = uc.conversationRepo.FindByParties(ctx, buyerID, input.CounterpartID, input.ProductID)
			if err != nil {
				return nil, err
			}
		}
	}

	if input.InitialMessage != "" {
		if _, err := uc.SendMessage(ctx, buyerID, SendMessageInput{
			ConversationID: conversation.ID,
			Content:        input.InitialMessage,
		}); err != nil {
			log.Printf("ResolveConversation Error: Failed to send initial message for conversation %s: %v", conversation.ID, err)
			return nil, err
		}
		conversation, err = uc.conversationRepo.GetByID(ctx, conversation.ID)
		if err != nil {
			return nil, err
		}
	}

	return &ConversationResponse{
		Conversation: conversation,
		Product:      product,
		OtherUser:    counterpart,
	}, nil
}

func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*MessageResponse, error) {
	if senderID == "" {
		return nil, errors.IdentityMissing("Authentication required to send a message")
	}

	allowed, waitTime := uc.rateLimiter.Allow(senderID, "send_message")
	if !allowed {
		log.Printf("SendMessage Rate Limited: User %s must wait %v", senderID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message")
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		log.Printf("SendMessage Error: Conversation %s not found: %v", input.ConversationID, err)
		return nil, err
	}

	if !conversation.HasParticipant(senderID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	sender, err := uc.userRepo.GetByID(ctx, senderID)
	if err != nil {
		log.Printf("SendMessage Error: Sender %s not found: %v", senderID, err)
		return nil, errors.NotFound("Sender", err)
	}

	senderRole := entity.RoleBuyer
	if senderID == conversation.CounterpartID {
		senderRole = conversation.CounterpartRole
	}

	message := &entity.Message{
		ConversationID: input.ConversationID,
		SenderID:       senderID,
		SenderRole:     senderRole,
		Content:        input.Content,
		ReadBy:         []string{senderID},
		CreatedAt:      time.Now(),
	}

	if err := uc.conversationRepo.CreateMessage(ctx, message); err != nil {
		log.Printf("SendMessage Error: Failed to create message for conversation %s: %v", input.ConversationID, err)
		return nil, err
	}

	messages, _, err := uc.conversationRepo.ListMessages(ctx, conversation.ID, 0, 0)
	if err != nil {
		log.Printf("SendMessage Error: Failed to reload messages for conversation %s: %v", conversation.ID, err)
		return nil, err
	}

	conversation.LastMessage = message.Content
	lastMessageAt := message.CreatedAt
	conversation.LastMessageAt = &lastMessageAt
	recomputeUnread(conversation, messages)

	if err := uc.conversationRepo.Update(ctx, conversation); err != nil {
		log.Printf("SendMessage Error: Failed to update conversation %s after append: %v", conversation.ID, err)
		return nil, err
	}

	return &MessageResponse{
		Message: message,
		Sender:  sender,
	}, nil
}

// MarkConversationAsRead stamps readerID into every unread other-party
// message and recomputes the reader's counter from message state. Absent
// a concurrent append the counter lands on zero; a concurrent append is
// picked up by the next reconciliation cycle.
func (uc *ChatUseCase) MarkConversationAsRead(ctx context.Context, readerID, conversationID string) (*entity.Conversation, error) {
	if readerID == "" {
		return nil, errors.IdentityMissing("Authentication required to mark a conversation read")
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		log.Printf("MarkConversationAsRead Error: Conversation %s not found: %v", conversationID, err)
		return nil, err
	}

	if !conversation.HasParticipant(readerID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	messages, err := uc.conversationRepo.MarkMessagesRead(ctx, conversationID, readerID)
	if err != nil {
		log.Printf("MarkConversationAsRead Error: Failed to update read state for conversation %s: %v", conversationID, err)
		return nil, err
	}

	recomputeUnread(conversation, messages)

	if err := uc.conversationRepo.Update(ctx, conversation); err != nil {
		log.Printf("MarkConversationAsRead Error: Failed to update conversation %s: %v", conversationID, err)
		return nil, err
	}

	return conversation, nil
}

func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationResponse, int64, error) {
	if userID == "" {
		return nil, 0, errors.IdentityMissing("Authentication required to list conversations")
	}

	conversations, total, err := uc.conversationRepo.ListByParticipant(ctx, userID, limit, offset)
	if err != nil {
		log.Printf("ListConversations Error: Failed to list conversations for %s: %v", userID, err)
		return nil, 0, err
	}

	var responses []*ConversationResponse
	for _, conversation := range conversations {
		response := &ConversationResponse{Conversation: conversation}

		if conversation.ProductID != "" {
			product, err := uc.productRepo.GetByID(ctx, conversation.ProductID)
			if err == nil {
				response.Product = product
			} else {
				log.Printf("ListConversations Warning: Product %s not found for conversation %s: %v", conversation.ProductID, conversation.ID, err)
			}
		}

		otherUser, err := uc.userRepo.GetByID(ctx, conversation.OtherParty(userID))
		if err == nil {
			response.OtherUser = otherUser
		} else {
			log.Printf("ListConversations Warning: Other party not found for conversation %s: %v", conversation.ID, err)
		}

		responses = append(responses, response)
	}

	return responses, total, nil
}

func (uc *ChatUseCase) GetConversationByID(ctx context.Context, userID, conversationID string) (*ConversationResponse, error) {
	if userID == "" {
		return nil, errors.IdentityMissing("Authentication required")
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	response := &ConversationResponse{Conversation: conversation}

	if conversation.ProductID != "" {
		if product, err := uc.productRepo.GetByID(ctx, conversation.ProductID); err == nil {
			response.Product = product
		}
	}
	if otherUser, err := uc.userRepo.GetByID(ctx, conversation.OtherParty(userID)); err == nil {
		response.OtherUser = otherUser
	}

	return response, nil
}

func (uc *ChatUseCase) GetConversationMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*MessageResponse, int64, error) {
	if userID == "" {
		return nil, 0, errors.IdentityMissing("Authentication required")
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		log.Printf("GetConversationMessages Error: Conversation %s not found: %v", conversationID, err)
		return nil, 0, err
	}

	if !conversation.HasParticipant(userID) {
		return nil, 0, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	messages, total, err := uc.conversationRepo.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var responses []*MessageResponse
	for _, message := range messages {
		response := &MessageResponse{Message: message}

		sender, err := uc.userRepo.GetByID(ctx, message.SenderID)
		if err == nil {
			response.Sender = sender
		} else {
			log.Printf("GetConversationMessages Warning: Sender %s not found for message %s: %v", message.SenderID, message.ID, err)
		}

		responses = append(responses, response)
	}

	return responses, total, nil
}

// UnreadTotal sums the participant's unread counters across all of their
// conversations, for the badge shown independently of any open thread.
func (uc *ChatUseCase) UnreadTotal(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, errors.IdentityMissing("Authentication required")
	}

	conversations, _, err := uc.conversationRepo.ListByParticipant(ctx, userID, 0, 0)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, conversation := range conversations {
		total += conversation.UnreadCount[userID]
	}

	return total, nil
}
