package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/logging"
)

// ThreadState is the per-peer lifecycle of the message thread.
type ThreadState int

const (
	ThreadIdle ThreadState = iota
	ThreadResolving
	ThreadSubscribed
)

// ErrSuperseded is returned when an Open call lost to a newer peer
// selection while it was still resolving.
var ErrSuperseded = errors.New("selection superseded")

// Notifier plays the incoming-message notification. Failures are
// swallowed by the caller; playback is best-effort.
type Notifier interface {
	Notify(m models.Message) error
}

// ThreadService drives the message thread for the currently selected
// peer: resolve the conversation id, load history, then follow the
// change-feed. Switching peers always tears the previous subscription
// down before the new conversation is resolved, so an event for the old
// peer can never land in the new thread.
type ThreadService struct {
	client   backend.Client
	feed     backend.Subscriber
	notifier Notifier
	log      logging.Logger
	userID   string

	mu          sync.Mutex
	state       ThreadState
	epoch       int
	convID      string
	peerID      string
	messages    []models.Message
	seen        map[string]struct{}
	buffering   bool
	buffer      []models.Message
	unsubscribe func()
	onAppend    func(models.Message)
}

func NewThreadService(client backend.Client, feed backend.Subscriber, notifier Notifier, log logging.Logger, userID string) *ThreadService {
	if log == nil {
		log = logging.Nop()
	}
	return &ThreadService{
		client:   client,
		feed:     feed,
		notifier: notifier,
		log:      log,
		userID:   userID,
		seen:     map[string]struct{}{},
	}
}

// OnAppend registers the callback invoked for every message added to the
// thread, in order. The UI uses it to render and keep the view scrolled
// to the latest message.
func (t *ThreadService) OnAppend(fn func(models.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAppend = fn
}

// Open switches the thread to the given peer: it cancels any previous
// subscription, resolves the conversation id through the idempotent
// resolver, opens the change-feed subscription, and loads history.
// Events that arrive while history is still loading are buffered and
// merged in order instead of being dropped.
func (t *ThreadService) Open(ctx context.Context, peer *models.Profile) (string, []models.Message, error) {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.epoch++
	epoch := t.epoch
	t.state = ThreadResolving
	t.convID = ""
	t.peerID = peer.ID
	t.messages = nil
	t.seen = map[string]struct{}{}
	t.buffering = false
	t.buffer = nil
	t.mu.Unlock()

	convID, err := t.client.GetOrCreateConversation(ctx, t.userID, peer.ID)
	if err != nil {
		t.mu.Lock()
		if t.epoch == epoch {
			t.state = ThreadIdle
		}
		t.mu.Unlock()
		return "", nil, fmt.Errorf("resolve conversation: %w", err)
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return "", nil, ErrSuperseded
	}
	t.convID = convID
	t.buffering = true
	t.mu.Unlock()

	unsub, err := t.feed.SubscribeInserts(ctx, convID, func(m models.Message) {
		t.onInsert(epoch, m)
	})
	if err != nil {
		t.mu.Lock()
		if t.epoch == epoch {
			t.state = ThreadIdle
			t.buffering = false
		}
		t.mu.Unlock()
		return "", nil, fmt.Errorf("subscribe: %w", err)
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		unsub()
		return "", nil, ErrSuperseded
	}
	t.unsubscribe = unsub
	t.mu.Unlock()

	history, err := t.client.ListMessages(ctx, convID)
	if err != nil {
		// History degrades to empty; live events still flow.
		t.log.Warn(ctx, "history load failed", "conversation_id", convID, "err", err)
		history = nil
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return "", nil, ErrSuperseded
	}
	for _, m := range history {
		t.appendLocked(m)
	}
	// Merge events that raced ahead of the history load. Peer messages
	// that were only buffered still owe a notification.
	var notify []models.Message
	for _, m := range t.buffer {
		if t.appendLocked(m) && m.SenderID != t.userID {
			notify = append(notify, m)
		}
	}
	t.buffer = nil
	t.buffering = false
	t.state = ThreadSubscribed
	snapshot := make([]models.Message, len(t.messages))
	copy(snapshot, t.messages)
	t.mu.Unlock()

	if t.notifier != nil {
		for _, m := range notify {
			if err := t.notifier.Notify(m); err != nil {
				t.log.Debug(ctx, "notification failed", "err", err)
			}
		}
	}

	return convID, snapshot, nil
}

// onInsert handles one change-feed event. Events from a superseded epoch
// are dropped: they belong to a previously selected peer.
func (t *ThreadService) onInsert(epoch int, m models.Message) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	if t.buffering {
		t.buffer = append(t.buffer, m)
		t.mu.Unlock()
		return
	}
	added := t.appendLocked(m)
	t.mu.Unlock()

	if !added {
		return
	}
	if m.SenderID != t.userID && t.notifier != nil {
		if err := t.notifier.Notify(m); err != nil {
			t.log.Debug(context.Background(), "notification failed", "err", err)
		}
	}
}

// appendLocked adds m to the ordered list unless it was already seen.
// Returns whether the message was added. Caller holds t.mu.
func (t *ThreadService) appendLocked(m models.Message) bool {
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	if t.onAppend != nil {
		// Called under the lock to preserve append order; handlers must
		// be cheap and must not call back into the service.
		t.onAppend(m)
	}
	return true
}

// AppendLocal echoes a message the composer just sent. The change-feed
// will deliver the same insert later; the id dedupe drops it then.
func (t *ThreadService) AppendLocal(m models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ConversationID != t.convID {
		return
	}
	t.appendLocked(m)
}

// Messages returns a copy of the ordered thread.
func (t *ThreadService) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// State returns the current lifecycle state.
func (t *ThreadService) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ConversationID returns the resolved conversation id, empty while idle
// or resolving.
func (t *ThreadService) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.convID
}

// Close cancels the subscription and resets the thread. Safe to call at
// any time; later events from the old subscription are discarded.
func (t *ThreadService) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.epoch++
	t.state = ThreadIdle
	t.convID = ""
	t.peerID = ""
	t.messages = nil
	t.buffer = nil
	t.buffering = false
	t.seen = map[string]struct{}{}
}
