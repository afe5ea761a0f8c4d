package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saytro/saytro/internal/client/models"
)

// testToken builds an unsigned JWT carrying the given subject. The client
// never verifies signatures, so "unsigned" is enough for tests.
func testToken(t *testing.T, sub string) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]any{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
	return header + "." + claims + "."
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func signIn(t *testing.T, c *HTTPClient) *models.Session {
	t.Helper()
	s, err := c.SignInWithPassword(t.Context(), "ann@example.com", "pw")
	require.NoError(t, err)
	return s
}

// authServer answers the token endpoint with tokens for sub and records
// grant types.
type authServer struct {
	t      *testing.T
	sub    string
	mu     sync.Mutex
	grants []string
}

func (a *authServer) handle(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != "/auth/v1/token" {
		return false
	}
	a.mu.Lock()
	a.grants = append(a.grants, r.URL.Query().Get("grant_type"))
	n := len(a.grants)
	a.mu.Unlock()
	writeJSON(a.t, w, http.StatusOK, map[string]any{
		"access_token":  testToken(a.t, a.sub),
		"refresh_token": fmt.Sprintf("rt-%d", n),
		"expires_in":    3600,
	})
	return true
}

func (a *authServer) grantTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.grants))
	copy(out, a.grants)
	return out
}

func TestSignInStoresSessionAndNotifies(t *testing.T) {
	auth := &authServer{t: t, sub: "u1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ann@example.com", body["email"])
		require.True(t, auth.handle(w, r))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "anon-key", "", 5*time.Second, nil)
	defer c.Close()

	var events []SessionEvent
	unsub := c.OnSessionChange(func(event SessionEvent, s *models.Session) {
		events = append(events, event)
	})
	defer unsub()

	s := signIn(t, c)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "rt-1", s.RefreshToken)
	assert.False(t, s.Expired(time.Now()))
	assert.Equal(t, []SessionEvent{SessionSignedIn}, events)

	got, err := c.Session(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestSessionNilWhenSignedOut(t *testing.T) {
	c := NewHTTPClient("http://unused.invalid", "k", "", time.Second, nil)
	defer c.Close()

	s, err := c.Session(t.Context())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSessionRefreshesWhenExpired(t *testing.T) {
	auth := &authServer{t: t, sub: "u1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, auth.handle(w, r))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()
	signIn(t, c)

	// Jump past the expiry; the next Session call must refresh.
	orig := nowFn
	nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { nowFn = orig }()

	s, err := c.Session(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "rt-2", s.RefreshToken)
	assert.Equal(t, []string{"password", "refresh_token"}, auth.grantTypes())
}

func TestAuthedCallRetriesOnceAfterRefresh(t *testing.T) {
	auth := &authServer{t: t, sub: "u1"}
	var mu sync.Mutex
	profileCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.handle(w, r) {
			return
		}
		require.Equal(t, "/rest/v1/profiles", r.URL.Path)
		mu.Lock()
		profileCalls++
		first := profileCalls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, http.StatusOK, []models.Profile{{ID: "u1", Username: "ann"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()
	signIn(t, c)

	p, err := c.Profile(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ann", p.Username)
	assert.Equal(t, []string{"password", "refresh_token"}, auth.grantTypes())
	mu.Lock()
	assert.Equal(t, 2, profileCalls)
	mu.Unlock()
}

func TestProfileNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.u9", r.URL.Query().Get("id"))
		writeJSON(t, w, http.StatusOK, []models.Profile{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	_, err := c.Profile(t.Context(), "u9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListProfilesExceptQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/profiles", r.URL.Path)
		require.Equal(t, "neq.u1", r.URL.Query().Get("id"))
		require.Equal(t, "username.asc", r.URL.Query().Get("order"))
		writeJSON(t, w, http.StatusOK, []models.Profile{{ID: "u2"}, {ID: "u3"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	rows, err := c.ListProfilesExcept(t.Context(), "u1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestListConversationsEmbedsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/conversations", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "*,direct_messages(*)", q.Get("select"))
		require.Equal(t, "(user1_id.eq.u1,user2_id.eq.u1)", q.Get("or"))
		require.Equal(t, "last_message_at.desc", q.Get("order"))
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{
				"id": "c1", "user1_id": "u1", "user2_id": "u2",
				"direct_messages": []map[string]any{
					{"id": "m1", "conversation_id": "c1", "sender_id": "u2", "content": "hi"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	rows, err := c.ListConversations(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ID)
	require.Len(t, rows[0].Messages, 1)
	assert.Equal(t, "hi", rows[0].Messages[0].Content)
}

func TestListMessagesAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/direct_messages", r.URL.Path)
		require.Equal(t, "eq.c1", r.URL.Query().Get("conversation_id"))
		require.Equal(t, "created_at.asc", r.URL.Query().Get("order"))
		writeJSON(t, w, http.StatusOK, []models.Message{{ID: "m1"}, {ID: "m2"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	rows, err := c.ListMessages(t.Context(), "c1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestInsertMessageReturnsRepresentation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "return=representation", r.Header.Get("Prefer"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "c1", body["conversation_id"])
		require.Equal(t, "u1", body["sender_id"])
		require.Equal(t, "hello", body["content"])
		writeJSON(t, w, http.StatusCreated, []models.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	m, err := c.InsertMessage(t.Context(), "c1", "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
}

func TestUpdateProfilePatchesRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/rest/v1/profiles", r.URL.Path)
		require.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		var patch models.ProfilePatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		require.Equal(t, "annika", patch.Username)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	err := c.UpdateProfile(t.Context(), "u1", models.ProfilePatch{Username: "annika"})
	require.NoError(t, err)
}

func TestUnreadCountsBatchesAndGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "conversation_id,sender_id", q.Get("select"))
		require.Equal(t, "neq.u1", q.Get("sender_id"))
		require.Equal(t, "is.null", q.Get("read_at"))
		require.Equal(t, "in.(c1,c2)", q.Get("conversation_id"))
		writeJSON(t, w, http.StatusOK, []models.Message{
			{ConversationID: "c1", SenderID: "u2"},
			{ConversationID: "c1", SenderID: "u2"},
			{ConversationID: "c2", SenderID: "u3"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	counts, err := c.UnreadCounts(t.Context(), "u1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, counts)
}

func TestUnreadCountsEmptyInputSkipsRequest(t *testing.T) {
	c := NewHTTPClient("http://unused.invalid", "k", "", time.Second, nil)
	defer c.Close()

	counts, err := c.UnreadCounts(t.Context(), "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestGetOrCreateConversation(t *testing.T) {
	id := "7b7f3a66-9a39-4f7e-9b27-6a2f3d1c5a10"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/rpc/get_or_create_conversation", r.URL.Path)
		require.Empty(t, r.Header.Get("Prefer"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "u1", body["user1_uuid"])
		require.Equal(t, "u2", body["user2_uuid"])
		writeJSON(t, w, http.StatusOK, id)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	got, err := c.GetOrCreateConversation(t.Context(), "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestGetOrCreateConversationRejectsMalformedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, "not-a-uuid")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	_, err := c.GetOrCreateConversation(t.Context(), "u1", "u2")
	require.Error(t, err)
}

func TestUpdateOnlineStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/rpc/update_user_online_status", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "u1", body["user_id"])
		require.Equal(t, true, body["is_online"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	require.NoError(t, c.UpdateOnlineStatus(t.Context(), "u1", true))
}

func TestSignOutClearsSessionEvenOnServerError(t *testing.T) {
	auth := &authServer{t: t, sub: "u1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.handle(w, r) {
			return
		}
		require.Equal(t, "/auth/v1/logout", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()
	signIn(t, c)

	var events []SessionEvent
	unsub := c.OnSessionChange(func(event SessionEvent, s *models.Session) {
		events = append(events, event)
		assert.Nil(t, s)
	})
	defer unsub()

	err := c.SignOut(t.Context())
	require.Error(t, err)
	assert.Equal(t, []SessionEvent{SessionSignedOut}, events)

	s, err := c.Session(t.Context())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSendOfflineBeacon(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient("http://unused.invalid", "anon-key", srv.URL+"/relay/user-status", time.Second, nil)
	defer c.Close()

	c.SendOfflineBeacon("u1")
	body := <-received
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, false, body["is_online"])
}

func TestStatusMapping(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", "", 5*time.Second, nil)
	defer c.Close()

	_, err := c.ListMessages(t.Context(), "c1")
	require.ErrorIs(t, err, ErrUnavailable)

	status = http.StatusForbidden
	_, err = c.ListMessages(t.Context(), "c1")
	require.ErrorIs(t, err, ErrUnauthorized)

	status = http.StatusNotAcceptable
	_, err = c.ListMessages(t.Context(), "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "k", "", time.Second, nil)
	defer c.Close()

	_, err := c.ListMessages(t.Context(), "c1")
	require.ErrorIs(t, err, ErrUnavailable)
}
