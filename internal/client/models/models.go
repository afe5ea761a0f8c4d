// Package models defines the records the client exchanges with the hosted
// backend. Field names and JSON tags mirror the backend's column names;
// the authoritative copies of all of these live remotely.
package models

import "time"

// Profile is a registered user as stored in the profiles table. The owning
// user mutates it through the profile editor; the presence controller
// toggles IsOnline; everything else reads it.
type Profile struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FullName  string     `json:"full_name"`
	AvatarURL string     `json:"avatar_url"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  time.Time  `json:"last_seen"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// DisplayName returns the full name when set, the username otherwise.
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// ProfilePatch carries the editable profile fields for an update call.
type ProfilePatch struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileSeed is the metadata attached to a sign-up request. The backend
// creates the Profile record from it out-of-band.
type ProfileSeed struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Conversation is the two-party relation between users. It is only ever
// created by the backend's get_or_create_conversation resolver; the pair
// is conceptually unordered even though it is stored as two fields.
type Conversation struct {
	ID            string    `json:"id"`
	User1ID       string    `json:"user1_id"`
	User2ID       string    `json:"user2_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// PeerID returns the participant that is not selfID.
func (c *Conversation) PeerID(selfID string) string {
	if c.User1ID == selfID {
		return c.User2ID
	}
	return c.User1ID
}

// ConversationWithMessages is a conversation row with its messages
// embedded, as returned by the directory query.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"direct_messages"`
}

// Message is a single direct message. Append-only from the client's
// perspective; ReadAt is set by the backend when the peer reads it.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// UnreadFrom reports whether the message is an unread message authored by
// senderID.
func (m *Message) UnreadFrom(senderID string) bool {
	return m.SenderID == senderID && m.ReadAt == nil
}

// Session is the authenticated state handed out by the auth service.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// Expired reports whether the access token has passed its expiry, with a
// small slack so callers refresh slightly early.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Add(-30*time.Second))
}
