package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/logging"
)

// PresenceService maintains the online flag for user profiles against the
// page-lifecycle triggers: visibility change, focus, blur, and unload.
//
// Visibility-visible and focus mean online; visibility-hidden and blur
// mean offline. All of those route through a debounced sender so a burst
// within the quiet window transmits only the last value. Unload bypasses
// the debounce with a synchronous best-effort beacon, because an async
// call is not guaranteed to complete during teardown.
//
// Debounce state is keyed per user id. A shared timer would let an online
// update for one user coalesce with an offline update for another during
// rapid profile switching.
type PresenceService struct {
	client   backend.Client
	log      logging.Logger
	clock    clock.Clock
	debounce time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	timers  map[string]*clock.Timer
	pending map[string]bool
	closed  bool
}

func NewPresenceService(client backend.Client, log logging.Logger, clk clock.Clock, debounce time.Duration) *PresenceService {
	if log == nil {
		log = logging.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PresenceService{
		client:   client,
		log:      log,
		clock:    clk,
		debounce: debounce,
		timeout:  5 * time.Second,
		timers:   map[string]*clock.Timer{},
		pending:  map[string]bool{},
	}
}

// HandleVisibility reacts to the tab being hidden or shown.
func (p *PresenceService) HandleVisibility(userID string, visible bool) {
	p.set(userID, visible)
}

// HandleFocus reacts to the window gaining focus.
func (p *PresenceService) HandleFocus(userID string) { p.set(userID, true) }

// HandleBlur reacts to the window losing focus.
func (p *PresenceService) HandleBlur(userID string) { p.set(userID, false) }

// HandleUnload flushes an offline signal over the synchronous beacon path.
// It does not touch the debounce state: the page is going away.
func (p *PresenceService) HandleUnload(userID string) {
	p.client.SendOfflineBeacon(userID)
}

// set records the desired value and (re)arms the user's debounce timer;
// only the value present when the quiet window elapses is transmitted.
func (p *PresenceService) set(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.pending[userID] = online

	if t, ok := p.timers[userID]; ok {
		t.Reset(p.debounce)
		return
	}
	p.timers[userID] = p.clock.AfterFunc(p.debounce, func() {
		p.fire(userID)
	})
}

func (p *PresenceService) fire(userID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	online := p.pending[userID]
	delete(p.pending, userID)
	delete(p.timers, userID)
	p.mu.Unlock()

	p.send(userID, online)
}

func (p *PresenceService) send(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.UpdateOnlineStatus(ctx, userID, online); err != nil {
		// Presence is best-effort; the next trigger self-heals.
		p.log.Warn(ctx, "online status update failed", "user_id", userID, "online", online, "err", err)
		return
	}
	p.log.Debug(ctx, "online status updated", "user_id", userID, "online", online)
}

// Close cancels all pending timers and issues one final offline update for
// userID, bypassing the debounce.
func (p *PresenceService) Close(userID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = map[string]*clock.Timer{}
	p.pending = map[string]bool{}
	p.mu.Unlock()

	if userID != "" {
		p.send(userID, false)
	}
}
