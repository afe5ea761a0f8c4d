package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/logging"
)

const (
	apiKeyHeader = "apikey"

	beaconTimeout = 2 * time.Second
)

// nowFn is a test seam for time.Now.
var nowFn = time.Now

// HTTPClient talks to the hosted backend over its row-level REST surface:
// the auth endpoints under /auth/v1, tabular record endpoints under
// /rest/v1, and named procedures under /rest/v1/rpc. It holds the current
// session and transparently refreshes the access token.
type HTTPClient struct {
	baseURL   string
	anonKey   string
	beaconURL string
	http      *http.Client
	log       logging.Logger

	mu       sync.Mutex
	session  *models.Session
	handlers map[int]SessionHandler
	nextID   int
}

func NewHTTPClient(baseURL, anonKey, beaconURL string, timeout time.Duration, log logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		anonKey:   anonKey,
		beaconURL: beaconURL,
		http:      &http.Client{Timeout: timeout},
		log:       log,
		handlers:  map[int]SessionHandler{},
	}
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ---- session handling ----

// OnSessionChange registers a handler invoked on sign-in, token refresh,
// and sign-out. The returned function removes the handler.
func (c *HTTPClient) OnSessionChange(handler SessionHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *HTTPClient) emit(event SessionEvent, session *models.Session) {
	c.mu.Lock()
	hs := make([]SessionHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(event, session)
	}
}

// Session returns the current session, refreshing it first when the access
// token is close to expiry. A nil session with nil error means signed out.
func (c *HTTPClient) Session(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return nil, nil
	}
	if !s.Expired(nowFn()) {
		copied := *s
		return &copied, nil
	}
	return c.refresh(ctx)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *HTTPClient) storeSession(tr *tokenResponse, event SessionEvent) (*models.Session, error) {
	userID, err := userIDFromToken(tr.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}

	s := &models.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    nowFn().Add(time.Duration(tr.ExpiresIn) * time.Second),
		UserID:       userID,
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	copied := *s
	c.emit(event, &copied)
	return &copied, nil
}

// userIDFromToken reads the sub claim without verifying the signature; the
// hosted auth service owns token validity, the client only needs the id.
func userIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

func (c *HTTPClient) SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) error {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     seed,
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/signup", nil, body, nil, false)
}

func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	q := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}

	var tr tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token", q, body, &tr, false); err != nil {
		return nil, err
	}
	return c.storeSession(&tr, SessionSignedIn)
}

func (c *HTTPClient) refresh(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil || s.RefreshToken == "" {
		return nil, ErrNoSession
	}

	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": s.RefreshToken}

	var tr tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token", q, body, &tr, false); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return c.storeSession(&tr, SessionRefreshed)
}

// SignOut revokes the session server-side and always clears the local
// session, notifying handlers, even when the revoke call fails.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil, true)

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.emit(SessionSignedOut, nil)

	return err
}

// ---- row-level record calls ----

func (c *HTTPClient) Profile(ctx context.Context, id string) (*models.Profile, error) {
	q := url.Values{"id": {"eq." + id}}

	var rows []models.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/profiles", q, nil, &rows, true); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (c *HTTPClient) ListProfilesExcept(ctx context.Context, id string) ([]models.Profile, error) {
	q := url.Values{
		"id":    {"neq." + id},
		"order": {"username.asc"},
	}

	var rows []models.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/profiles", q, nil, &rows, true); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) ListConversations(ctx context.Context, userID string) ([]models.ConversationWithMessages, error) {
	q := url.Values{
		"select": {"*,direct_messages(*)"},
		"or":     {fmt.Sprintf("(user1_id.eq.%s,user2_id.eq.%s)", userID, userID)},
		"order":  {"last_message_at.desc"},
	}

	var rows []models.ConversationWithMessages
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/conversations", q, nil, &rows, true); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	q := url.Values{
		"conversation_id": {"eq." + conversationID},
		"order":           {"created_at.asc"},
	}

	var rows []models.Message
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/direct_messages", q, nil, &rows, true); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) InsertMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	body := map[string]string{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"content":         content,
	}

	var rows []models.Message
	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/direct_messages", nil, body, &rows, true); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert returned no representation")
	}
	return &rows[0], nil
}

func (c *HTTPClient) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	q := url.Values{"id": {"eq." + id}}
	return c.doJSON(ctx, http.MethodPatch, "/rest/v1/profiles", q, patch, nil, true)
}

// UnreadCounts returns, per conversation, the number of unread messages
// authored by the peer. One batched query covers every conversation in
// conversationIDs.
func (c *HTTPClient) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	q := url.Values{
		"select":          {"conversation_id,sender_id"},
		"sender_id":       {"neq." + userID},
		"read_at":         {"is.null"},
		"conversation_id": {"in.(" + strings.Join(conversationIDs, ",") + ")"},
	}

	var rows []models.Message
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/direct_messages", q, nil, &rows, true); err != nil {
		return nil, err
	}
	for _, m := range rows {
		counts[m.ConversationID]++
	}
	return counts, nil
}

// ---- named remote procedures ----

// GetOrCreateConversation resolves the conversation id for the unordered
// pair (user1, user2), creating the conversation on first use. The
// procedure is idempotent; calling it any number of times returns the
// same id.
func (c *HTTPClient) GetOrCreateConversation(ctx context.Context, user1, user2 string) (string, error) {
	body := map[string]string{"user1_uuid": user1, "user2_uuid": user2}

	var id string
	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/rpc/get_or_create_conversation", nil, body, &id, true); err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("resolver returned invalid id %q: %w", id, err)
	}
	return id, nil
}

func (c *HTTPClient) UpdateOnlineStatus(ctx context.Context, userID string, online bool) error {
	body := map[string]any{"user_id": userID, "is_online": online}
	return c.doJSON(ctx, http.MethodPost, "/rest/v1/rpc/update_user_online_status", nil, body, nil, true)
}

// ---- teardown beacon ----

// SendOfflineBeacon posts {user_id, is_online:false} to the relay endpoint
// with a hard timeout. Errors are logged and dropped: presence is
// best-effort and self-heals on the next trigger.
func (c *HTTPClient) SendOfflineBeacon(userID string) {
	body, _ := json.Marshal(map[string]any{"user_id": userID, "is_online": false})

	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.beaconURL, bytes.NewReader(body))
	if err != nil {
		c.log.Warn(ctx, "beacon request build failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.anonKey)

	resp, err := (&http.Client{Timeout: beaconTimeout}).Do(req)
	if err != nil {
		c.log.Warn(ctx, "beacon send failed", "err", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

// ---- transport plumbing ----

// doJSON issues one backend request with the standard headers. When authed
// is set and the response is 401, the session is refreshed once and the
// request retried with the new access token.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any, authed bool) error {
	status, respBody, err := c.roundTrip(ctx, method, path, query, body, authed)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && authed {
		c.mu.Lock()
		hasRefresh := c.session != nil && c.session.RefreshToken != ""
		c.mu.Unlock()
		if hasRefresh {
			if _, rerr := c.refresh(ctx); rerr == nil {
				status, respBody, err = c.roundTrip(ctx, method, path, query, body, authed)
				if err != nil {
					return err
				}
			}
		}
	}

	if status < 200 || status > 299 {
		return mapStatus(status, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, query url.Values, body any, authed bool) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(apiKeyHeader, c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost && strings.HasPrefix(path, "/rest/v1/") && !strings.Contains(path, "/rpc/") {
		req.Header.Set("Prefer", "return=representation")
	}
	if authed {
		c.mu.Lock()
		if c.session != nil {
			req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)
		}
		c.mu.Unlock()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}
