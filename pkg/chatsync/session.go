package chatsync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tradelink/internal/domain/entity"
	"tradelink/pkg/errors"
	"tradelink/pkg/logger"
)

// Options controls the session's polling cadences and send handling.
// The thread loop runs much faster than the list and badge loops: an
// open thread's messages change far more often than the conversation
// list or the aggregate count, and only the thread needs a
// near-real-time feel.
type Options struct {
	ListInterval   time.Duration // conversation list, default 30s
	ThreadInterval time.Duration // active thread, default 3s
	UnreadInterval time.Duration // unread badge, default 30s
	SendTimeout    time.Duration // confirmation window, default 12s
	MatchWindow    time.Duration // optimistic match tolerance, default DefaultMatchWindow

	// FailureThreshold is how many consecutive conversation-list fetch
	// failures raise the Degraded flag. A single transient blip never
	// surfaces to the user.
	FailureThreshold int
}

func (o *Options) applyDefaults() {
	if o.ListInterval <= 0 {
		o.ListInterval = 30 * time.Second
	}
	if o.ThreadInterval <= 0 {
		o.ThreadInterval = 3 * time.Second
	}
	if o.UnreadInterval <= 0 {
		o.UnreadInterval = 30 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 12 * time.Second
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = DefaultMatchWindow
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
}

// Thread is the rendered state of the open conversation: confirmed
// messages in canonical order, followed by the pending optimistic send
// if one exists.
type Thread struct {
	ConversationID string
	Messages       []*entity.Message
	Pending        *PendingSend
}

// Snapshot is an immutable copy of the session's observable state.
type Snapshot struct {
	Conversations []*entity.Conversation
	Thread        Thread
	UnreadTotal   int
	Degraded      bool
}

// Session runs the per-participant polling loops and owns the Local
// Client View State for one open tab. Conversations and messages held
// here are read-mostly caches; the server is the source of truth and
// every fetched result overwrites or merges into the cache, never the
// other way around.
type Session struct {
	store    Store
	userID   string
	opts     Options
	onUpdate func(Snapshot)

	mu             sync.Mutex
	started        bool
	conversations  []*entity.Conversation
	unreadTotal    int
	listFailures   int
	threadID       string
	threadMessages []*entity.Message
	pending        *PendingSend
	threadCancel   context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession builds a session for userID against the given store.
// onUpdate, when non-nil, is invoked with a fresh snapshot after every
// state change; it must not call back into the session.
func NewSession(s Store, userID string, opts Options, onUpdate func(Snapshot)) *Session {
	opts.applyDefaults()
	return &Session{
		store:    s,
		userID:   userID,
		opts:     opts,
		onUpdate: onUpdate,
	}
}

// Start launches the conversation-list and unread-badge loops. The
// active-thread loop starts only when a conversation is opened.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	sessionCtx := s.ctx
	s.wg.Add(2)
	s.mu.Unlock()

	go s.pollLoop(sessionCtx, s.opts.ListInterval, s.refreshConversations)
	go s.pollLoop(sessionCtx, s.opts.UnreadInterval, s.refreshUnread)
}

// Stop tears down every loop. No fetch is issued past this point and
// in-flight results arriving afterwards are discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.threadID = ""
	s.threadCancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// OpenConversation switches the active thread and starts its loop,
// stopping the previous thread's loop first.
func (s *Session) OpenConversation(conversationID string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.BadRequest("Session is not started", nil)
	}
	if s.threadCancel != nil {
		s.threadCancel()
	}

	threadCtx, threadCancel := context.WithCancel(s.ctx)
	s.threadID = conversationID
	s.threadMessages = nil
	s.pending = nil
	s.threadCancel = threadCancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.pollLoop(threadCtx, s.opts.ThreadInterval, func(ctx context.Context) {
		s.refreshThread(ctx, conversationID)
	})
	return nil
}

// CloseConversation stops the active-thread loop and clears the thread
// slice of the view state.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	if s.threadCancel != nil {
		s.threadCancel()
		s.threadCancel = nil
	}
	s.threadID = ""
	s.threadMessages = nil
	s.pending = nil
	s.mu.Unlock()

	s.notify()
}

// Send renders content optimistically in the open thread and confirms
// it against the store in the background. At most one send may be in
// flight per open conversation; a send that outlives the confirmation
// window is marked failed, never silently retried.
func (s *Session) Send(content string) error {
	s.mu.Lock()
	if !s.started || s.threadID == "" {
		s.mu.Unlock()
		return errors.BadRequest("No open conversation to send to", nil)
	}
	if s.pending != nil && s.pending.State == PendingSending {
		s.mu.Unlock()
		return errors.Conflict("A send is already in flight for this conversation")
	}

	pending := &PendingSend{
		State:          PendingSending,
		ConversationID: s.threadID,
		SenderID:       s.userID,
		Content:        content,
		SentAt:         time.Now(),
	}
	s.pending = pending
	sessionCtx := s.ctx
	// Registered before the mutex is released so a racing Stop waits
	// for the confirmation goroutine instead of returning past it.
	s.wg.Add(1)
	s.mu.Unlock()

	go s.confirmSend(sessionCtx, pending)
	s.notify()
	return nil
}

// RetrySend re-issues a failed send as a new send with the same content.
func (s *Session) RetrySend() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.BadRequest("Session is not started", nil)
	}
	if s.pending == nil || s.pending.State != PendingFailed {
		s.mu.Unlock()
		return errors.BadRequest("No failed send to retry", nil)
	}
	pending := s.pending
	pending.State = PendingSending
	pending.SentAt = time.Now()
	pending.Err = nil
	sessionCtx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go s.confirmSend(sessionCtx, pending)
	s.notify()
	return nil
}

// MarkAsRead issues a read-receipt for the conversation. A NOT_FOUND
// from the store is non-fatal: the badge stays as-is until the next
// poll corrects it.
func (s *Session) MarkAsRead(conversationID string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	updated, err := s.store.MarkRead(ctx, conversationID, s.userID)
	if err != nil {
		logger.Warn("chatsync: mark-read failed for conversation %s: %v", conversationID, err)
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	total := 0
	for i, conversation := range s.conversations {
		if conversation.ID == updated.ID {
			s.conversations[i] = updated
		}
		total += s.conversations[i].UnreadCount[s.userID]
	}
	s.unreadTotal = total
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a copy of the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Conversations: append([]*entity.Conversation{}, s.conversations...),
		UnreadTotal:   s.unreadTotal,
		Degraded:      s.listFailures >= s.opts.FailureThreshold,
		Thread: Thread{
			ConversationID: s.threadID,
			Messages:       append([]*entity.Message{}, s.threadMessages...),
		},
	}
	if s.pending != nil {
		pendingCopy := *s.pending
		snap.Thread.Pending = &pendingCopy
	}
	return snap
}

func (s *Session) notify() {
	if s.onUpdate == nil {
		return
	}
	s.onUpdate(s.Snapshot())
}

// pollLoop runs tick immediately and then on every interval until ctx
// is cancelled. Errors never escape a tick: each loop swallows its own
// failures and retries on the next interval.
func (s *Session) pollLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Both channels may be ready at once; never run a tick on a
			// cancelled context.
			if ctx.Err() != nil {
				return
			}
			tick(ctx)
		}
	}
}

func (s *Session) refreshConversations(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	conversations, err := s.store.ListConversations(ctx, s.userID)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.listFailures++
		failures := s.listFailures
		degraded := failures >= s.opts.FailureThreshold
		s.mu.Unlock()
		logger.Warn("chatsync: conversation-list fetch failed (%d consecutive): %v", failures, err)
		if degraded {
			s.notify()
		}
		return
	}
	s.listFailures = 0
	s.conversations = conversations
	s.mu.Unlock()

	s.notify()
}

func (s *Session) refreshUnread(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	total, err := s.store.UnreadTotal(ctx, s.userID)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		logger.Warn("chatsync: unread-total fetch failed: %v", err)
		return
	}
	s.unreadTotal = total
	s.mu.Unlock()

	s.notify()
}

func (s *Session) refreshThread(ctx context.Context, conversationID string) {
	s.mu.Lock()
	if ctx.Err() != nil || s.threadID != conversationID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	messages, err := s.store.ListMessages(ctx, conversationID)

	s.mu.Lock()
	// Discard results that arrive after the thread was closed or
	// switched; merging them would write into torn-down view state.
	if ctx.Err() != nil || s.threadID != conversationID {
		s.mu.Unlock()
		return
	}
	if err != nil {
		// Retain the previously rendered sequence; never blank the view
		// on a failed fetch.
		s.mu.Unlock()
		logger.Warn("chatsync: thread fetch failed for conversation %s: %v", conversationID, err)
		return
	}

	ordered, matched := Merge(messages, s.pending, s.opts.MatchWindow)
	s.threadMessages = ordered
	if matched {
		s.pending = nil
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) confirmSend(sessionCtx context.Context, pending *PendingSend) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(sessionCtx, s.opts.SendTimeout)
	defer cancel()

	message, err := s.store.AppendMessage(ctx, pending.ConversationID, s.userID, pending.Content)

	s.mu.Lock()
	if s.pending != pending {
		// Superseded: a poll already confirmed it or the thread closed.
		s.mu.Unlock()
		return
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.New("SEND_TIMEOUT", "Message send confirmation window elapsed", http.StatusGatewayTimeout, err)
		}
		pending.State = PendingFailed
		pending.Err = err
		s.mu.Unlock()
		logger.Warn("chatsync: send failed for conversation %s: %v", pending.ConversationID, err)
		s.notify()
		return
	}

	if s.threadID == pending.ConversationID {
		s.threadMessages = insertMessage(s.threadMessages, message)
	}
	s.pending = nil
	s.mu.Unlock()

	s.notify()
}
