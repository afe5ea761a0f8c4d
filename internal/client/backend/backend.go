package backend

import (
	"context"

	"github.com/saytro/saytro/internal/client/models"
)

// SessionEvent identifies a change in the authenticated session.
type SessionEvent string

const (
	SessionSignedIn  SessionEvent = "SIGNED_IN"
	SessionRefreshed SessionEvent = "TOKEN_REFRESHED"
	SessionSignedOut SessionEvent = "SIGNED_OUT"
)

// SessionHandler receives session-change notifications. The session is nil
// for SessionSignedOut.
type SessionHandler func(event SessionEvent, session *models.Session)

// Client is the hosted backend facade: auth, row-level record access, and
// the two named remote procedures. The backend owns every invariant; the
// client only issues calls.
//
// Contract:
//   - Session returns the current session, refreshing it when the access
//     token is close to expiry; (nil, nil) means signed out.
//   - GetOrCreateConversation is idempotent for an unordered user pair and
//     safe under concurrent calls from both participants.
//   - SendOfflineBeacon is synchronous, best-effort, and never blocks for
//     longer than its hard timeout; it exists because in-flight async
//     calls are not guaranteed to complete during teardown.
//
// All methods must honor context cancellation/timeouts.
type Client interface {
	Close() error

	SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) error
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	Session(ctx context.Context) (*models.Session, error)
	OnSessionChange(handler SessionHandler) (unsubscribe func())

	Profile(ctx context.Context, id string) (*models.Profile, error)
	ListProfilesExcept(ctx context.Context, id string) ([]models.Profile, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationWithMessages, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error
	UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)

	GetOrCreateConversation(ctx context.Context, user1, user2 string) (string, error)
	UpdateOnlineStatus(ctx context.Context, userID string, online bool) error

	SendOfflineBeacon(userID string)
}

// Subscriber opens change-feed subscriptions on the realtime endpoint.
type Subscriber interface {
	// SubscribeInserts delivers every message-insert event matching the
	// conversation filter to handler until unsubscribe is called or ctx is
	// done. The connection is re-established with backoff on failure.
	SubscribeInserts(ctx context.Context, conversationID string, handler func(models.Message)) (unsubscribe func(), err error)
}

// AvatarStore uploads avatar binaries to object storage.
type AvatarStore interface {
	// UploadAvatar writes data to the fixed per-user avatar key,
	// overwriting any prior object, and returns the public URL.
	UploadAvatar(ctx context.Context, userID, ext string, data []byte) (string, error)
}
