package chatsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/internal/domain/entity"
	"tradelink/pkg/errors"
)

// fakeStore is an in-memory Store with injectable failures and
// latency, standing in for the HTTP surface.
type fakeStore struct {
	mu            sync.Mutex
	conversations []*entity.Conversation
	messages      map[string][]*entity.Message
	nextMessageID int

	listErr      error
	messagesErr  error
	unreadErr    error
	appendErr    error
	appendGate   chan struct{}
	messageDelay time.Duration

	listCalls      int
	messageCalls   int
	appendStarted  int
	appendInFlight int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]*entity.Message)}
}

func (f *fakeStore) ListConversations(ctx context.Context, participantID string) ([]*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]*entity.Conversation, len(f.conversations))
	for i, conversation := range f.conversations {
		clone := *conversation
		result[i] = &clone
	}
	return result, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conversation := range f.conversations {
		if conversation.ID == conversationID {
			clone := *conversation
			return &clone, nil
		}
	}
	return nil, errors.NotFound("Conversation", nil)
}

func (f *fakeStore) ResolveConversation(ctx context.Context, buyerID, counterpartID, productID, subject string) (*entity.Conversation, error) {
	return nil, errors.BadRequest("not used in these tests", nil)
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	f.mu.Lock()
	delay := f.messageDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.messageCalls++
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	result := make([]*entity.Message, len(f.messages[conversationID]))
	for i, message := range f.messages[conversationID] {
		clone := *message
		result[i] = &clone
	}
	return result, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*entity.Message, error) {
	f.mu.Lock()
	f.appendStarted++
	f.appendInFlight++
	gate := f.appendGate
	appendErr := f.appendErr
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.appendInFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if appendErr != nil {
		return nil, appendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextMessageID++
	message := &entity.Message{
		ID:             fmt.Sprintf("m%04d", f.nextMessageID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ReadBy:         []string{senderID},
		CreatedAt:      time.Now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], message)
	clone := *message
	return &clone, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, conversationID, readerID string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conversation := range f.conversations {
		if conversation.ID == conversationID {
			conversation.UnreadCount[readerID] = 0
			clone := *conversation
			return &clone, nil
		}
	}
	return nil, errors.NotFound("Conversation", nil)
}

func (f *fakeStore) UnreadTotal(ctx context.Context, participantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	total := 0
	for _, conversation := range f.conversations {
		total += conversation.UnreadCount[participantID]
	}
	return total, nil
}

func (f *fakeStore) seedConversation(id string, unread map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, &entity.Conversation{
		ID:          id,
		BuyerID:     "buyer-1",
		UnreadCount: unread,
	})
}

func (f *fakeStore) seedMessage(conversationID, id, senderID, content string, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = append(f.messages[conversationID], &entity.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	})
}

func fastOptions() Options {
	return Options{
		ListInterval:   5 * time.Millisecond,
		ThreadInterval: 5 * time.Millisecond,
		UnreadInterval: 5 * time.Millisecond,
		SendTimeout:    time.Second,
	}
}

func TestSessionPollsListAndBadge(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{"buyer-1": 2})
	store.seedConversation("c2", map[string]int{"buyer-1": 3})

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return len(snap.Conversations) == 2 && snap.UnreadTotal == 5
	}, time.Second, 5*time.Millisecond)
}

func TestSessionDegradesOnlyAfterRepeatedListFailures(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{"buyer-1": 1})
	store.mu.Lock()
	store.listErr = errors.StoreUnavailable("conversation list offline", nil)
	store.mu.Unlock()

	opts := fastOptions()
	opts.FailureThreshold = 3

	session := NewSession(store, "buyer-1", opts, nil)
	session.Start(context.Background())
	defer session.Stop()

	require.Eventually(t, func() bool {
		return session.Snapshot().Degraded
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, session.Snapshot().Conversations)

	// One successful fetch clears the condition.
	store.mu.Lock()
	store.listErr = nil
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return !snap.Degraded && len(snap.Conversations) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestThreadFailedFetchRetainsRenderedMessages(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	base := time.Now().Add(-time.Minute)
	store.seedMessage("c1", "m1", "buyer-1", "hello", base)
	store.seedMessage("c1", "m2", "supplier-1", "hi", base.Add(time.Second))

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()
	require.NoError(t, session.OpenConversation("c1"))

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Thread.Messages) == 2
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.messagesErr = errors.StoreUnavailable("thread fetch offline", nil)
	failedAt := store.messageCalls
	store.mu.Unlock()

	// Let several failing polls elapse, then confirm the view is intact.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.messageCalls >= failedAt+3
	}, time.Second, 5*time.Millisecond)

	snap := session.Snapshot()
	assert.Equal(t, "c1", snap.Thread.ConversationID)
	assert.Equal(t, []string{"m1", "m2"}, messageIDs(snap.Thread.Messages))
}

func TestOptimisticSendConfirmsWithoutDuplicates(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()
	require.NoError(t, session.OpenConversation("c1"))

	gate := make(chan struct{})
	store.mu.Lock()
	store.appendGate = gate
	store.mu.Unlock()

	require.NoError(t, session.Send("need 2000 units"))

	snap := session.Snapshot()
	require.NotNil(t, snap.Thread.Pending)
	assert.Equal(t, PendingSending, snap.Thread.Pending.State)
	assert.Equal(t, "need 2000 units", snap.Thread.Pending.Content)

	close(gate)

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return snap.Thread.Pending == nil && len(snap.Thread.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	// Subsequent polls keep exactly one rendered copy.
	time.Sleep(30 * time.Millisecond)
	snap = session.Snapshot()
	require.Len(t, snap.Thread.Messages, 1)
	assert.Equal(t, "need 2000 units", snap.Thread.Messages[0].Content)
}

func TestSendRequiresOpenThreadAndSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()

	err := session.Send("no thread open")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	require.NoError(t, session.OpenConversation("c1"))

	store.mu.Lock()
	store.appendGate = make(chan struct{})
	store.mu.Unlock()

	require.NoError(t, session.Send("first"))
	err = session.Send("second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "CONFLICT"))
}

func TestSendTimeoutThenRetrySucceeds(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	store.mu.Lock()
	store.appendGate = make(chan struct{})
	store.mu.Unlock()

	opts := fastOptions()
	opts.SendTimeout = 20 * time.Millisecond

	session := NewSession(store, "buyer-1", opts, nil)
	session.Start(context.Background())
	defer session.Stop()
	require.NoError(t, session.OpenConversation("c1"))

	require.NoError(t, session.Send("are you there?"))

	require.Eventually(t, func() bool {
		pending := session.Snapshot().Thread.Pending
		return pending != nil && pending.State == PendingFailed
	}, time.Second, 5*time.Millisecond)

	pending := session.Snapshot().Thread.Pending
	require.NotNil(t, pending.Err)
	assert.True(t, errors.Is(pending.Err, "SEND_TIMEOUT"))

	store.mu.Lock()
	store.appendGate = nil
	store.mu.Unlock()

	require.NoError(t, session.RetrySend())

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return snap.Thread.Pending == nil && len(snap.Thread.Messages) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "are you there?", session.Snapshot().Thread.Messages[0].Content)
}

func TestSwitchingThreadsDiscardsStaleFetch(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	store.seedConversation("c2", map[string]int{})
	base := time.Now().Add(-time.Minute)
	store.seedMessage("c1", "old-1", "buyer-1", "earlier thread", base)
	store.seedMessage("c2", "new-1", "buyer-1", "current thread", base)

	store.mu.Lock()
	store.messageDelay = 20 * time.Millisecond
	store.mu.Unlock()

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()

	require.NoError(t, session.OpenConversation("c1"))
	require.NoError(t, session.OpenConversation("c2"))

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return snap.Thread.ConversationID == "c2" && len(snap.Thread.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	// The in-flight fetch for the first thread never lands in the view.
	time.Sleep(50 * time.Millisecond)
	for _, message := range session.Snapshot().Thread.Messages {
		assert.Equal(t, "c2", message.ConversationID)
	}
}

func TestCloseConversationClearsThread(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	store.seedMessage("c1", "m1", "buyer-1", "hello", time.Now().Add(-time.Minute))

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()
	require.NoError(t, session.OpenConversation("c1"))

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Thread.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	session.CloseConversation()

	snap := session.Snapshot()
	assert.Empty(t, snap.Thread.ConversationID)
	assert.Empty(t, snap.Thread.Messages)

	store.mu.Lock()
	closedAt := store.messageCalls
	store.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	assert.Equal(t, closedAt, store.messageCalls)
	store.mu.Unlock()
}

func TestRepeatedOpenCloseNeverFetchesAfterTeardown(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	store.seedMessage("c1", "m1", "buyer-1", "hello", time.Now().Add(-time.Minute))

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	defer session.Stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, session.OpenConversation("c1"))
		session.CloseConversation()

		// Give any fetch that was already past the teardown check time
		// to land, then the count must hold still.
		time.Sleep(5 * time.Millisecond)
		store.mu.Lock()
		settled := store.messageCalls
		store.mu.Unlock()

		time.Sleep(15 * time.Millisecond)
		store.mu.Lock()
		assert.Equal(t, settled, store.messageCalls)
		store.mu.Unlock()
	}
}

func TestStopWaitsForInFlightSend(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{})
	store.mu.Lock()
	store.appendGate = make(chan struct{})
	store.mu.Unlock()

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())
	require.NoError(t, session.OpenConversation("c1"))
	require.NoError(t, session.Send("parting words"))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.appendStarted == 1
	}, time.Second, time.Millisecond)

	session.Stop()

	// Stop returns only after the confirmation goroutine has finished;
	// the store never hears from the session again.
	store.mu.Lock()
	assert.Equal(t, 0, store.appendInFlight)
	started := store.appendStarted
	store.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	assert.Equal(t, started, store.appendStarted)
	store.mu.Unlock()

	assert.True(t, errors.Is(session.Send("after stop"), "BAD_REQUEST"))
	assert.True(t, errors.Is(session.RetrySend(), "BAD_REQUEST"))
}

func TestStopHaltsAllPolling(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{"buyer-1": 1})

	session := NewSession(store, "buyer-1", fastOptions(), nil)
	session.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Conversations) == 1
	}, time.Second, 5*time.Millisecond)

	session.Stop()

	store.mu.Lock()
	stoppedAt := store.listCalls
	store.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	assert.Equal(t, stoppedAt, store.listCalls)
	store.mu.Unlock()
}

func TestMarkAsReadUpdatesBadgeImmediately(t *testing.T) {
	store := newFakeStore()
	store.seedConversation("c1", map[string]int{"buyer-1": 4})
	store.seedConversation("c2", map[string]int{"buyer-1": 1})

	// Slow cadences: only the initial tick runs, so the badge change
	// below comes from the mark-read path rather than a poll.
	opts := Options{
		ListInterval:   time.Hour,
		ThreadInterval: time.Hour,
		UnreadInterval: time.Hour,
	}

	session := NewSession(store, "buyer-1", opts, nil)
	session.Start(context.Background())
	defer session.Stop()

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		return len(snap.Conversations) == 2 && snap.UnreadTotal == 5
	}, time.Second, 5*time.Millisecond)

	session.MarkAsRead("c1")

	snap := session.Snapshot()
	assert.Equal(t, 1, snap.UnreadTotal)

	session.MarkAsRead("missing")
	assert.Equal(t, 1, session.Snapshot().UnreadTotal)
}
