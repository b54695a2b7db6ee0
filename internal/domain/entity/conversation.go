package entity

import "time"

// Participant roles.
const (
	RoleBuyer    = "buyer"
	RoleSupplier = "supplier"
	RoleAdmin    = "admin"
)

type Conversation struct {
	ID              string         `json:"id" firestore:"id"`
	BuyerID         string         `json:"buyer_id" firestore:"buyerId"`
	CounterpartID   string         `json:"counterpart_id" firestore:"counterpartId"`
	CounterpartRole string         `json:"counterpart_role" firestore:"counterpartRole"` // "supplier" or "admin"
	ProductID       string         `json:"product_id,omitempty" firestore:"productId,omitempty"`
	Subject         string         `json:"subject,omitempty" firestore:"subject,omitempty"`
	LastMessage     string         `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt   *time.Time     `json:"last_message_at,omitempty" firestore:"lastMessageAt,omitempty"`
	UnreadCount     map[string]int `json:"unread_count" firestore:"unreadCount"` // participant ID -> unread count
	CreatedAt       time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt       time.Time      `json:"updated_at" firestore:"updatedAt"`
}

// Participants returns the two parties of the conversation.
func (c *Conversation) Participants() []string {
	return []string{c.BuyerID, c.CounterpartID}
}

// HasParticipant reports whether userID is a party to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.BuyerID || userID == c.CounterpartID
}

// OtherParty returns the participant that is not userID.
func (c *Conversation) OtherParty(userID string) string {
	if userID == c.BuyerID {
		return c.CounterpartID
	}
	return c.BuyerID
}
