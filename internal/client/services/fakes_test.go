package services

import (
	"context"
	"sync"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
)

// fakeClient implements backend.Client with per-method hooks and call
// recording. Hooks left nil make the call succeed with zero values.
type fakeClient struct {
	mu sync.Mutex

	signUpFn        func(ctx context.Context, email, password string, seed models.ProfileSeed) error
	signInFn        func(ctx context.Context, email, password string) (*models.Session, error)
	signOutFn       func(ctx context.Context) error
	sessionFn       func(ctx context.Context) (*models.Session, error)
	profileFn       func(ctx context.Context, id string) (*models.Profile, error)
	listProfilesFn  func(ctx context.Context, id string) ([]models.Profile, error)
	listConvsFn     func(ctx context.Context, userID string) ([]models.ConversationWithMessages, error)
	listMessagesFn  func(ctx context.Context, conversationID string) ([]models.Message, error)
	insertMessageFn func(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)
	updateProfileFn func(ctx context.Context, id string, patch models.ProfilePatch) error
	unreadCountsFn  func(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
	getOrCreateFn   func(ctx context.Context, user1, user2 string) (string, error)
	updateOnlineFn  func(ctx context.Context, userID string, online bool) error

	sessionHandler backend.SessionHandler

	statusCalls  []statusCall
	beaconCalls  []string
	signOutCalls int
	resolveCalls int
	insertCalls  int
}

type statusCall struct {
	userID string
	online bool
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) error {
	if f.signUpFn != nil {
		return f.signUpFn(ctx, email, password, seed)
	}
	return nil
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, email, password)
	}
	return &models.Session{AccessToken: "t", UserID: "u1"}, nil
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.mu.Unlock()
	if f.signOutFn != nil {
		return f.signOutFn(ctx)
	}
	return nil
}

func (f *fakeClient) Session(ctx context.Context) (*models.Session, error) {
	if f.sessionFn != nil {
		return f.sessionFn(ctx)
	}
	return nil, nil
}

func (f *fakeClient) OnSessionChange(handler backend.SessionHandler) func() {
	f.mu.Lock()
	f.sessionHandler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.sessionHandler = nil
		f.mu.Unlock()
	}
}

// emitSessionChange drives the registered handler like the transport would.
func (f *fakeClient) emitSessionChange(event backend.SessionEvent, s *models.Session) {
	f.mu.Lock()
	h := f.sessionHandler
	f.mu.Unlock()
	if h != nil {
		h(event, s)
	}
}

func (f *fakeClient) Profile(ctx context.Context, id string) (*models.Profile, error) {
	if f.profileFn != nil {
		return f.profileFn(ctx, id)
	}
	return &models.Profile{ID: id, Username: "someone"}, nil
}

func (f *fakeClient) ListProfilesExcept(ctx context.Context, id string) ([]models.Profile, error) {
	if f.listProfilesFn != nil {
		return f.listProfilesFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeClient) ListConversations(ctx context.Context, userID string) ([]models.ConversationWithMessages, error) {
	if f.listConvsFn != nil {
		return f.listConvsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, conversationID)
	}
	return nil, nil
}

func (f *fakeClient) InsertMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	f.mu.Lock()
	f.insertCalls++
	f.mu.Unlock()
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, conversationID, senderID, content)
	}
	return &models.Message{ID: "m1", ConversationID: conversationID, SenderID: senderID, Content: content}, nil
}

func (f *fakeClient) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	if f.updateProfileFn != nil {
		return f.updateProfileFn(ctx, id, patch)
	}
	return nil
}

func (f *fakeClient) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	if f.unreadCountsFn != nil {
		return f.unreadCountsFn(ctx, userID, conversationIDs)
	}
	return map[string]int{}, nil
}

func (f *fakeClient) GetOrCreateConversation(ctx context.Context, user1, user2 string) (string, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(ctx, user1, user2)
	}
	return "conv-" + user1 + "-" + user2, nil
}

func (f *fakeClient) UpdateOnlineStatus(ctx context.Context, userID string, online bool) error {
	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, statusCall{userID: userID, online: online})
	f.mu.Unlock()
	if f.updateOnlineFn != nil {
		return f.updateOnlineFn(ctx, userID, online)
	}
	return nil
}

func (f *fakeClient) SendOfflineBeacon(userID string) {
	f.mu.Lock()
	f.beaconCalls = append(f.beaconCalls, userID)
	f.mu.Unlock()
}

func (f *fakeClient) recordedStatusCalls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusCall, len(f.statusCalls))
	copy(out, f.statusCalls)
	return out
}

// fakeSubscriber hands the registered insert handler back to the test so
// it can inject change-feed events.
type fakeSubscriber struct {
	mu          sync.Mutex
	subscribeFn func(ctx context.Context, conversationID string) error

	handlers   map[string][]func(models.Message)
	active     map[string]int
	subscribes []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		handlers: map[string][]func(models.Message){},
		active:   map[string]int{},
	}
}

func (f *fakeSubscriber) SubscribeInserts(ctx context.Context, conversationID string, handler func(models.Message)) (func(), error) {
	if f.subscribeFn != nil {
		if err := f.subscribeFn(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.handlers[conversationID] = append(f.handlers[conversationID], handler)
	f.active[conversationID]++
	f.subscribes = append(f.subscribes, conversationID)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.active[conversationID]--
			f.mu.Unlock()
		})
	}, nil
}

// deliver injects an event on the given conversation's feed. Handlers
// stay reachable after unsubscribe so tests can prove late events are
// dropped by the consumer, like a racing frame on a closing socket.
func (f *fakeSubscriber) deliver(conversationID string, m models.Message) {
	f.mu.Lock()
	hs := make([]func(models.Message), len(f.handlers[conversationID]))
	copy(hs, f.handlers[conversationID])
	f.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}

func (f *fakeSubscriber) isActive(conversationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[conversationID] > 0
}

type fakeAvatarStore struct {
	uploadFn func(ctx context.Context, userID, ext string, data []byte) (string, error)

	lastUserID string
	lastExt    string
	lastData   []byte
}

func (f *fakeAvatarStore) UploadAvatar(ctx context.Context, userID, ext string, data []byte) (string, error) {
	f.lastUserID, f.lastExt, f.lastData = userID, ext, data
	if f.uploadFn != nil {
		return f.uploadFn(ctx, userID, ext, data)
	}
	return "https://storage.example/avatars/" + userID + "/avatar." + ext, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []models.Message
	err      error
}

func (f *fakeNotifier) Notify(m models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, m)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}
