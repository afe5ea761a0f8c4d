package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/logging"
)

var (
	// ErrSignedOut means there is no authenticated session; the caller
	// should show the login surface.
	ErrSignedOut = errors.New("signed out")

	// ErrClosed is returned when a service is used after teardown.
	ErrClosed = errors.New("service closed")
)

// SessionService gates the chat surface behind an authenticated session.
//
// Contract:
//   - Init runs the fetch-session → load-profile sequence at most once per
//     service lifetime; repeated calls return the first outcome.
//   - A profile-load failure is retryable by the user, never retried
//     automatically.
//   - Session-change notifications are observed for the service lifetime;
//     an external sign-out triggers the redirect callback unless a logout
//     confirmation is already being driven locally.
//   - Close tears the service down; no state is mutated afterwards.
type SessionService interface {
	Init(ctx context.Context) (*models.Profile, error)
	SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) error
	SignIn(ctx context.Context, email, password string) error

	BeginLogout()
	CancelLogout()
	ConfirmLogout(ctx context.Context)

	Profile() *models.Profile
	Close()
}

type sessionService struct {
	client      backend.Client
	log         logging.Logger
	onSignedOut func()

	mu          sync.Mutex
	initialized bool
	profile     *models.Profile
	initErr     error
	unsubscribe func()

	confirming atomic.Bool
	closed     atomic.Bool
}

// NewSessionService constructs a SessionService. onSignedOut is invoked
// whenever the session ends, locally or remotely; the CLI uses it to fall
// back to the login surface.
func NewSessionService(client backend.Client, log logging.Logger, onSignedOut func()) SessionService {
	if log == nil {
		log = logging.Nop()
	}
	s := &sessionService{client: client, log: log, onSignedOut: onSignedOut}
	s.unsubscribe = client.OnSessionChange(s.handleSessionChange)
	return s
}

func (s *sessionService) handleSessionChange(event backend.SessionEvent, _ *models.Session) {
	if s.closed.Load() {
		return
	}
	if event != backend.SessionSignedOut {
		return
	}
	// A confirmation dialog in progress means the sign-out is being driven
	// locally; ConfirmLogout redirects itself.
	if s.confirming.Load() {
		return
	}
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	if s.onSignedOut != nil {
		s.onSignedOut()
	}
}

// Init retrieves the current session exactly once and loads the matching
// profile. ErrSignedOut means no session; any other error is a retryable
// profile-load failure.
func (s *sessionService) Init(ctx context.Context) (*models.Profile, error) {
	s.mu.Lock()
	if s.initialized {
		p, err := s.profile, s.initErr
		s.mu.Unlock()
		return p, err
	}
	s.initialized = true
	s.mu.Unlock()

	p, err := s.initialize(ctx)

	s.mu.Lock()
	s.profile, s.initErr = p, err
	s.mu.Unlock()
	return p, err
}

func (s *sessionService) initialize(ctx context.Context) (*models.Profile, error) {
	sess, err := s.client.Session(ctx)
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err != nil || sess == nil {
		if err != nil {
			s.log.Warn(ctx, "session fetch failed", "err", err)
		}
		return nil, ErrSignedOut
	}

	profile, err := s.client.Profile(ctx, sess.UserID)
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	s.log.Info(ctx, "session initialized", "user_id", profile.ID, "username", profile.Username)
	return profile, nil
}

func (s *sessionService) SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) error {
	return s.client.SignUp(ctx, email, password, seed)
}

// SignIn authenticates and resets the init guard so the next Init loads
// the fresh session's profile.
func (s *sessionService) SignIn(ctx context.Context, email, password string) error {
	if _, err := s.client.SignInWithPassword(ctx, email, password); err != nil {
		return err
	}
	s.mu.Lock()
	s.initialized = false
	s.initErr = nil
	s.mu.Unlock()
	return nil
}

// BeginLogout marks a logout confirmation as in progress, suppressing the
// redirect that the sign-out notification would otherwise trigger.
func (s *sessionService) BeginLogout() { s.confirming.Store(true) }

// CancelLogout abandons the confirmation; the session stays active.
func (s *sessionService) CancelLogout() { s.confirming.Store(false) }

// ConfirmLogout flips the user offline and signs out, both best-effort and
// concurrently, then redirects. Errors are logged; the redirect happens
// regardless so the user is never stuck on the chat surface.
func (s *sessionService) ConfirmLogout(ctx context.Context) {
	s.mu.Lock()
	profile := s.profile
	s.mu.Unlock()

	var wg sync.WaitGroup
	if profile != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.client.UpdateOnlineStatus(ctx, profile.ID, false); err != nil {
				s.log.Warn(ctx, "offline update during logout failed", "err", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.client.SignOut(ctx); err != nil {
			s.log.Warn(ctx, "sign-out failed", "err", err)
		}
	}()
	wg.Wait()

	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	s.confirming.Store(false)

	if s.closed.Load() {
		return
	}
	if s.onSignedOut != nil {
		s.onSignedOut()
	}
}

func (s *sessionService) Profile() *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *sessionService) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
