package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tradelink/internal/domain/entity"
	"tradelink/pkg/errors"
)

// HTTPStore implements Store against the server's /v1/conversations
// surface. Identity travels as a bearer token; the participantID
// arguments exist for the Store contract and are implied by the token
// on the wire.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type paginatedItems struct {
	Items json.RawMessage `json:"items"`
}

func (s *HTTPStore) ListConversations(ctx context.Context, participantID string) ([]*entity.Conversation, error) {
	data, err := s.do(ctx, http.MethodGet, "/v1/conversations?limit=100", nil)
	if err != nil {
		return nil, err
	}

	var page paginatedItems
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errors.Internal("Failed to decode conversation list", err)
	}

	var conversations []*entity.Conversation
	if len(page.Items) > 0 {
		if err := json.Unmarshal(page.Items, &conversations); err != nil {
			return nil, errors.Internal("Failed to decode conversation list", err)
		}
	}
	return conversations, nil
}

func (s *HTTPStore) GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	data, err := s.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}

	var conversation entity.Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, errors.Internal("Failed to decode conversation", err)
	}
	return &conversation, nil
}

func (s *HTTPStore) ResolveConversation(ctx context.Context, buyerID, counterpartID, productID, subject string) (*entity.Conversation, error) {
	body := map[string]string{
		"counterpart_id": counterpartID,
		"product_id":     productID,
		"subject":        subject,
	}

	data, err := s.do(ctx, http.MethodPost, "/v1/conversations", body)
	if err != nil {
		return nil, err
	}

	var conversation entity.Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, errors.Internal("Failed to decode conversation", err)
	}
	return &conversation, nil
}

func (s *HTTPStore) ListMessages(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	// Ask for more than the server's default message page so the merge
	// sees the whole thread, not whatever the server would cap at.
	data, err := s.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages?limit=500", nil)
	if err != nil {
		return nil, err
	}

	var page paginatedItems
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errors.Internal("Failed to decode message list", err)
	}

	var messages []*entity.Message
	if len(page.Items) > 0 {
		if err := json.Unmarshal(page.Items, &messages); err != nil {
			return nil, errors.Internal("Failed to decode message list", err)
		}
	}
	return messages, nil
}

func (s *HTTPStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*entity.Message, error) {
	body := map[string]string{"content": content}

	data, err := s.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", body)
	if err != nil {
		return nil, err
	}

	var message entity.Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, errors.Internal("Failed to decode message", err)
	}
	return &message, nil
}

func (s *HTTPStore) MarkRead(ctx context.Context, conversationID, readerID string) (*entity.Conversation, error) {
	data, err := s.do(ctx, http.MethodPut, "/v1/conversations/"+url.PathEscape(conversationID)+"/read", nil)
	if err != nil {
		return nil, err
	}

	var conversation entity.Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, errors.Internal("Failed to decode conversation", err)
	}
	return &conversation, nil
}

func (s *HTTPStore) UnreadTotal(ctx context.Context, participantID string) (int, error) {
	data, err := s.do(ctx, http.MethodGet, "/v1/conversations/unread-total", nil)
	if err != nil {
		return 0, err
	}

	var payload struct {
		UnreadTotal int `json:"unread_total"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, errors.Internal("Failed to decode unread total", err)
	}
	return payload.UnreadTotal, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Internal("Failed to encode request body", err)
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Internal("Failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.StoreUnavailable("Request failed", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 500 {
			return nil, errors.StoreUnavailable(fmt.Sprintf("Server error (%d)", resp.StatusCode), err)
		}
		return nil, errors.Internal("Failed to decode response", err)
	}

	if env.Success {
		return env.Data, nil
	}

	code := "INTERNAL_ERROR"
	message := "Request failed"
	if env.Error != nil {
		code = env.Error.Code
		message = env.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.IdentityMissing(message)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New("NOT_FOUND", message, resp.StatusCode, nil)
	case resp.StatusCode >= 500:
		return nil, errors.StoreUnavailable(message, nil)
	default:
		return nil, errors.New(code, message, resp.StatusCode, nil)
	}
}
