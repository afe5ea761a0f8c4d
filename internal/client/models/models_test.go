package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfile_DisplayName(t *testing.T) {
	p := &Profile{Username: "neo", FullName: "Thomas Anderson"}
	require.Equal(t, "Thomas Anderson", p.DisplayName())

	p.FullName = ""
	require.Equal(t, "neo", p.DisplayName())
}

func TestConversation_PeerID(t *testing.T) {
	c := &Conversation{User1ID: "a", User2ID: "b"}
	require.Equal(t, "b", c.PeerID("a"))
	require.Equal(t, "a", c.PeerID("b"))
}

func TestMessage_UnreadFrom(t *testing.T) {
	now := time.Now()
	m := &Message{SenderID: "peer"}
	require.True(t, m.UnreadFrom("peer"))
	require.False(t, m.UnreadFrom("me"))

	m.ReadAt = &now
	require.False(t, m.UnreadFrom("peer"))
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()

	s := &Session{ExpiresAt: now.Add(time.Hour)}
	require.False(t, s.Expired(now))

	s.ExpiresAt = now.Add(10 * time.Second)
	require.True(t, s.Expired(now), "should refresh inside the slack window")

	s.ExpiresAt = time.Time{}
	require.False(t, s.Expired(now), "zero expiry never counts as expired")
}
