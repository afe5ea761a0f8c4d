package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/client/services"
)

var errNotLoggedIn = errors.New("log in first")

// Chats prints the conversation directory: peer, preview, unread count.
func (a *App) Chats(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}

	snap, err := a.directory.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	if len(snap.Conversations) == 0 {
		printlnFn("No conversations yet. Use 'users' to find someone to chat with.")
		return nil
	}

	for _, e := range snap.Conversations {
		line := fmt.Sprintf("%-16s %s", e.Peer.DisplayName(), e.Preview)
		if e.Unread > 0 {
			line += fmt.Sprintf("  [%d unread]", e.Unread)
		}
		printlnFn(line)
	}
	return nil
}

// Users prints every other registered user with their presence.
func (a *App) Users(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}

	snap, err := a.directory.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh users: %w", err)
	}
	if len(snap.AllUsers) == 0 {
		printlnFn("No other users yet.")
		return nil
	}
	for _, u := range snap.AllUsers {
		printlnFn(renderUser(u))
	}
	return nil
}

// Online prints the users currently online.
func (a *App) Online(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}

	snap := a.directory.Latest()
	if len(snap.OnlineUsers) == 0 {
		printlnFn("Nobody is online right now.")
		return nil
	}
	for _, u := range snap.OnlineUsers {
		printlnFn(renderUser(u))
	}
	return nil
}

// Find filters users by a case-insensitive name match.
func (a *App) Find(ctx context.Context, term string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if term == "" {
		return fmt.Errorf("usage: find <term>")
	}

	matches := a.directory.Latest().FilterUsers(term)
	if len(matches) == 0 {
		printlnFn("No users found")
		return nil
	}
	for _, u := range matches {
		printlnFn(renderUser(u))
	}
	return nil
}

// OpenChat opens the thread with the named user: it resolves the
// conversation, prints the history, and keeps printing live messages
// until the chat is closed or another one is opened.
func (a *App) OpenChat(ctx context.Context, username string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if username == "" {
		return fmt.Errorf("usage: open <user>")
	}

	peer, err := a.findPeer(ctx, username)
	if err != nil {
		return err
	}

	_, history, err := a.thread.Open(ctx, peer)
	if err != nil {
		if errors.Is(err, services.ErrSuperseded) {
			return nil
		}
		return fmt.Errorf("open chat with %s: %w", peer.DisplayName(), err)
	}
	a.setPeer(peer)

	printlnFn(fmt.Sprintf("--- Chat with %s (%s) ---", peer.DisplayName(), renderPresence(peer)))
	if len(history) == 0 {
		printlnFn("No messages yet. Say hi!")
	}
	return nil
}

// CloseChat leaves the open thread and stops its change-feed.
func (a *App) CloseChat(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if a.currentPeer() == nil {
		printlnFn("No open chat.")
		return nil
	}
	a.thread.Close()
	a.setPeer(nil)
	return nil
}

// SendMessage sends text to the open chat and echoes it immediately.
func (a *App) SendMessage(ctx context.Context, text string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	peer := a.currentPeer()
	if peer == nil {
		return fmt.Errorf("open a chat first")
	}

	m, err := a.composer.Send(ctx, peer.ID, text)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			return fmt.Errorf("nothing to send")
		}
		return fmt.Errorf("send: %w", err)
	}
	a.thread.AppendLocal(*m)
	return nil
}

// Away flips the user's presence to offline through the debounced path.
func (a *App) Away(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	a.presence.HandleBlur(a.currentProfile().ID)
	return nil
}

// Back flips the user's presence to online through the debounced path.
func (a *App) Back(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	a.presence.HandleFocus(a.currentProfile().ID)
	return nil
}

// findPeer resolves a username to a profile from the latest directory
// snapshot, refreshing once when the name is unknown.
func (a *App) findPeer(ctx context.Context, username string) (*models.Profile, error) {
	if p := matchUser(a.directory.Latest().AllUsers, username); p != nil {
		return p, nil
	}

	snap, err := a.directory.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", username, err)
	}
	if p := matchUser(snap.AllUsers, username); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("no user named %q", username)
}

func matchUser(users []models.Profile, username string) *models.Profile {
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			return &users[i]
		}
	}
	return nil
}
