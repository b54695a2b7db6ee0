package chatsync

import (
	"sort"
	"time"

	"tradelink/internal/domain/entity"
)

// DefaultMatchWindow bounds the clock skew tolerated when matching an
// optimistic send against its server-confirmed counterpart. Wider
// windows risk falsely merging two genuinely distinct sends of the same
// text in quick succession.
const DefaultMatchWindow = 30 * time.Second

// PendingState tags the optimistic-send slot.
type PendingState int

const (
	PendingNone PendingState = iota
	PendingSending
	PendingFailed
)

// PendingSend is the single optimistic message a session may hold per
// open conversation: rendered locally before the store confirms it.
type PendingSend struct {
	State          PendingState
	ConversationID string
	SenderID       string
	Content        string
	SentAt         time.Time
	Err            error
}

// Merge reconciles a freshly fetched confirmed sequence against the
// local optimistic send. The returned sequence is ordered by
// (createdAt, id) ascending regardless of fetch arrival order. matched
// reports whether a confirmed entry supersedes the pending send: same
// conversation, sender and content within the tolerance window around
// the optimistic timestamp. Merge is idempotent: repeated calls with
// the same inputs yield the same output.
func Merge(confirmed []*entity.Message, pending *PendingSend, window time.Duration) (ordered []*entity.Message, matched bool) {
	ordered = make([]*entity.Message, len(confirmed))
	copy(ordered, confirmed)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	if pending == nil || pending.State == PendingNone {
		return ordered, false
	}

	for _, message := range ordered {
		if message.ConversationID == pending.ConversationID &&
			message.SenderID == pending.SenderID &&
			message.Content == pending.Content &&
			absDuration(message.CreatedAt.Sub(pending.SentAt)) <= window {
			return ordered, true
		}
	}

	return ordered, false
}

// insertMessage splices a confirmed message into an already ordered
// sequence, dropping it if the ID is already present.
func insertMessage(ordered []*entity.Message, message *entity.Message) []*entity.Message {
	for _, existing := range ordered {
		if existing.ID == message.ID {
			return ordered
		}
	}

	out := append(append([]*entity.Message{}, ordered...), message)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
