package chatsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/errors"
)

func TestHTTPStoreListMessagesDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": {
				"items": [
					{"id": "m1", "conversation_id": "c1", "sender_id": "buyer-1", "content": "hello", "created_at": "2026-03-14T09:00:00Z"},
					{"id": "m2", "conversation_id": "c1", "sender_id": "supplier-1", "content": "hi", "created_at": "2026-03-14T09:00:05Z"}
				],
				"total": 2
			},
			"timestamp": "2026-03-14T09:00:10Z"
		}`))
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "token-1")
	messages, err := store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "supplier-1", messages[1].SenderID)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), messages[0].CreatedAt)
}

func TestHTTPStoreMapsErrorEnvelopes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/conversations/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success": false, "error": {"code": "NOT_FOUND", "message": "Conversation not found"}, "timestamp": "2026-03-14T09:00:00Z"}`))
		case "/v1/conversations/unread-total":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success": false, "error": {"code": "IDENTITY_MISSING", "message": "Authentication required"}, "timestamp": "2026-03-14T09:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"success": false, "error": {"code": "CONFLICT", "message": "A send is already in flight"}, "timestamp": "2026-03-14T09:00:00Z"}`))
		}
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "token-1")
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))

	_, err = store.UnreadTotal(ctx, "buyer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "IDENTITY_MISSING"))

	_, err = store.AppendMessage(ctx, "c1", "buyer-1", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "CONFLICT"))
}

func TestHTTPStoreServerErrorsMapToStoreUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Proxies answer outages with non-JSON bodies.
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timed out"))
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "token-1")
	_, err := store.ListConversations(context.Background(), "buyer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "STORE_UNAVAILABLE"))
}

func TestHTTPStoreUnreachableServerMapsToStoreUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	store := NewHTTPStore(server.URL, "token-1")
	_, err := store.ListConversations(context.Background(), "buyer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "STORE_UNAVAILABLE"))
}
