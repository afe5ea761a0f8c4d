package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/logging"
)

// ConversationEntry is one row of the "conversations so far" view: the
// peer profile merged with the last message and the unread count.
type ConversationEntry struct {
	Peer          models.Profile
	Preview       string
	LastMessageAt time.Time
	Unread        int
}

// Snapshot is one consistent view of the directory: both view modes plus
// the online subset of all users.
type Snapshot struct {
	Conversations []ConversationEntry
	AllUsers      []models.Profile
	OnlineUsers   []models.Profile
	RefreshedAt   time.Time
}

// FilterConversations returns the conversation entries whose peer matches
// term with a case-insensitive substring check on username or full name.
func (s Snapshot) FilterConversations(term string) []ConversationEntry {
	if term == "" {
		return s.Conversations
	}
	var out []ConversationEntry
	for _, e := range s.Conversations {
		if matchesProfile(&e.Peer, term) {
			out = append(out, e)
		}
	}
	return out
}

// FilterUsers is FilterConversations for the "all known users" view.
func (s Snapshot) FilterUsers(term string) []models.Profile {
	if term == "" {
		return s.AllUsers
	}
	var out []models.Profile
	for _, p := range s.AllUsers {
		if matchesProfile(&p, term) {
			out = append(out, p)
		}
	}
	return out
}

func matchesProfile(p *models.Profile, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(p.Username), term) ||
		strings.Contains(strings.ToLower(p.FullName), term)
}

// DirectoryService lists the current user's conversations (merged with
// last message and unread count) and all other registered users,
// refreshing on mount and on a fixed polling interval.
type DirectoryService struct {
	client backend.Client
	log    logging.Logger
	clock  clock.Clock
	userID string

	mu       sync.Mutex
	snapshot Snapshot
}

func NewDirectoryService(client backend.Client, log logging.Logger, clk clock.Clock, userID string) *DirectoryService {
	if log == nil {
		log = logging.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DirectoryService{client: client, log: log, clock: clk, userID: userID}
}

// Refresh fetches conversations and profiles and rebuilds the snapshot.
// Fetch errors are non-fatal: they are logged and the previous snapshot
// stays in place.
func (d *DirectoryService) Refresh(ctx context.Context) (Snapshot, error) {
	users, err := d.client.ListProfilesExcept(ctx, d.userID)
	if err != nil {
		d.log.Warn(ctx, "user list fetch failed", "err", err)
		return d.Latest(), err
	}

	convs, err := d.client.ListConversations(ctx, d.userID)
	if err != nil {
		// Conversations degrade to empty; the user list is still fresh.
		d.log.Warn(ctx, "conversation fetch failed", "err", err)
		convs = nil
	}

	usersByID := make(map[string]models.Profile, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	convIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
	}
	unread, err := d.client.UnreadCounts(ctx, d.userID, convIDs)
	if err != nil {
		d.log.Warn(ctx, "unread count fetch failed", "err", err)
		unread = map[string]int{}
	}

	entries := make([]ConversationEntry, 0, len(convs))
	for _, c := range convs {
		peer, ok := usersByID[c.PeerID(d.userID)]
		if !ok {
			continue
		}
		entry := ConversationEntry{Peer: peer, Unread: unread[c.ID]}
		if last := newestMessage(c.Messages); last != nil {
			entry.LastMessageAt = last.CreatedAt
			entry.Preview = last.Content
			if last.SenderID == d.userID {
				entry.Preview = "You: " + last.Content
			}
		} else {
			entry.Preview = "No messages yet"
		}
		entries = append(entries, entry)
	}

	var online []models.Profile
	for _, u := range users {
		if u.IsOnline {
			online = append(online, u)
		}
	}

	snap := Snapshot{
		Conversations: entries,
		AllUsers:      users,
		OnlineUsers:   online,
		RefreshedAt:   d.clock.Now(),
	}

	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()
	return snap, nil
}

func newestMessage(msgs []models.Message) *models.Message {
	if len(msgs) == 0 {
		return nil
	}
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return &sorted[0]
}

// Latest returns the most recent snapshot without fetching.
func (d *DirectoryService) Latest() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Start refreshes immediately and then on every tick of interval until
// ctx is done. Each successful refresh is pushed to handler.
func (d *DirectoryService) Start(ctx context.Context, interval time.Duration, handler func(Snapshot)) {
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	if snap, err := d.Refresh(ctx); err == nil && handler != nil {
		handler(snap)
	}

	for {
		select {
		case <-ticker.C:
			if snap, err := d.Refresh(ctx); err == nil && handler != nil {
				handler(snap)
			}
		case <-ctx.Done():
			return
		}
	}
}
