package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/config"
	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/client/services"
	"github.com/saytro/saytro/internal/logging"
)

// App wires the backend transports and the chat services behind the REPL
// commands. The chat services exist only while a user is signed in; they
// are built on login and torn down on logout.
type App struct {
	config  *config.Config
	log     logging.Logger
	client  backend.Client
	feed    backend.Subscriber
	store   backend.AvatarStore
	session services.SessionService
	reader  *bufio.Reader

	// mu guards profile and peer: the change-feed delivery goroutine
	// reads them through renderMessage while the REPL goroutine writes
	// them on chat switches, profile edits, and teardown.
	mu      sync.Mutex
	profile *models.Profile
	peer    *models.Profile

	directory *services.DirectoryService
	presence  *services.PresenceService
	thread    *services.ThreadService
	composer  *services.ComposerService
	editor    *services.ProfileService
	dirCancel context.CancelFunc
}

func NewApp(c *config.Config, log logging.Logger) *App {
	if log == nil {
		log = logging.Nop()
	}

	client := backend.NewHTTPClient(c.BackendURL, c.AnonKey, c.BeaconURL, c.RequestTimeout, log)
	feed := backend.NewRealtimeClient(c.RealtimeURL, c.AnonKey, log)
	store := backend.NewS3AvatarStore(c.StorageBucket, c.S3BaseEndpoint, c.S3Region, c.S3AccessKey, c.S3SecretKey)

	a := &App{
		config: c,
		log:    log,
		client: client,
		feed:   feed,
		store:  store,
		reader: bufio.NewReader(os.Stdin),
	}
	a.session = services.NewSessionService(client, log, a.onSignedOut)
	return a
}

// Run starts the REPL and blocks until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	defer a.client.Close()
	defer a.session.Close()

	if _, err := a.bootstrap(ctx); err != nil && !errors.Is(err, services.ErrSignedOut) {
		printlnFn("Could not restore session:", err.Error())
	}

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.status, scanner)

	a.shutdown(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.currentProfile() != nil
}

func (a *App) currentProfile() *models.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile
}

func (a *App) currentPeer() *models.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peer
}

func (a *App) setPeer(p *models.Profile) {
	a.mu.Lock()
	a.peer = p
	a.mu.Unlock()
}

func (a *App) status() string {
	a.mu.Lock()
	profile, peer := a.profile, a.peer
	a.mu.Unlock()
	if profile == nil {
		return "not logged in"
	}
	if peer != nil {
		return fmt.Sprintf("%s -> %s", profile.Username, peer.DisplayName())
	}
	return profile.Username
}

// bootstrap loads the session's profile and builds the chat services
// around it. ErrSignedOut means the login surface should be shown.
func (a *App) bootstrap(ctx context.Context) (*models.Profile, error) {
	p, err := a.session.Init(ctx)
	if err != nil {
		return nil, err
	}
	a.attach(ctx, p)
	return p, nil
}

// attach builds the per-user chat services and starts the directory
// polling loop and the presence online signal.
func (a *App) attach(ctx context.Context, p *models.Profile) {
	a.mu.Lock()
	a.profile = p
	a.mu.Unlock()
	clk := clock.New()

	a.directory = services.NewDirectoryService(a.client, a.log, clk, p.ID)
	a.presence = services.NewPresenceService(a.client, a.log, clk, a.config.PresenceDebounce)
	a.thread = services.NewThreadService(a.client, a.feed, BellNotifier{}, a.log, p.ID)
	a.composer = services.NewComposerService(a.client, p.ID)
	a.editor = services.NewProfileService(a.client, a.store, p.ID)

	a.thread.OnAppend(func(m models.Message) {
		printlnFn(a.renderMessage(m))
	})

	dirCtx, cancel := context.WithCancel(ctx)
	a.dirCancel = cancel
	go a.directory.Start(dirCtx, a.config.RefreshInterval, nil)

	a.presence.HandleFocus(p.ID)
}

// detach tears the chat services down. It does not touch the session.
func (a *App) detach() {
	if a.dirCancel != nil {
		a.dirCancel()
		a.dirCancel = nil
	}
	if a.thread != nil {
		a.thread.Close()
	}
	if a.presence != nil {
		a.presence.Close("")
	}
	a.mu.Lock()
	a.profile = nil
	a.peer = nil
	a.mu.Unlock()
	a.directory = nil
	a.presence = nil
	a.thread = nil
	a.composer = nil
	a.editor = nil
}

// onSignedOut handles session loss, local or remote.
func (a *App) onSignedOut() {
	printlnFn("Signed out.")
	a.detach()
}

// shutdown flushes the offline beacon before the process exits. An async
// status update would not be guaranteed to complete here.
func (a *App) shutdown(_ context.Context) {
	if p := a.currentProfile(); p != nil && a.presence != nil {
		a.presence.HandleUnload(p.ID)
	}
	a.detach()
}
