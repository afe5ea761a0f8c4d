package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/logging"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventHeartbeat = "heartbeat"
	eventInsert    = "INSERT"

	heartbeatInterval = 30 * time.Second
)

// realtimeEnvelope is the wire frame of the change-feed channel protocol.
type realtimeEnvelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// insertPayload is the body of an INSERT notification.
type insertPayload struct {
	Record models.Message `json:"record"`
}

// RealtimeClient subscribes to row-insert notifications on the backend's
// change-feed websocket. Each subscription owns one connection which is
// re-dialed with backoff for as long as the subscription stays open.
type RealtimeClient struct {
	url     string
	anonKey string
	log     logging.Logger
	dialer  *websocket.Dialer
}

func NewRealtimeClient(url, anonKey string, log logging.Logger) *RealtimeClient {
	if log == nil {
		log = logging.Nop()
	}
	return &RealtimeClient{
		url:     url,
		anonKey: anonKey,
		log:     log,
		dialer:  websocket.DefaultDialer,
	}
}

// SubscribeInserts opens a change-feed subscription filtered to the given
// conversation. handler is invoked for every insert event until the
// returned unsubscribe function is called or ctx is done. Events are
// delivered from a single goroutine, in arrival order.
func (c *RealtimeClient) SubscribeInserts(ctx context.Context, conversationID string, handler func(models.Message)) (func(), error) {
	if conversationID == "" {
		return nil, fmt.Errorf("empty conversation id")
	}

	subCtx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool

	topic := "realtime:public:direct_messages:conversation_id=eq." + conversationID

	go c.run(subCtx, topic, func(m models.Message) {
		// No delivery after unsubscribe, even if a frame was already read.
		if closed.Load() {
			return
		}
		handler(m)
	})

	unsubscribe := func() {
		closed.Store(true)
		cancel()
	}
	return unsubscribe, nil
}

// run keeps the subscription alive: dial with backoff, serve the
// connection, and start over when it drops.
func (c *RealtimeClient) run(ctx context.Context, topic string, deliver func(models.Message)) {
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			// dial only fails permanently when ctx is done
			return
		}

		if err := c.serve(ctx, conn, topic, deliver); err != nil && ctx.Err() == nil {
			c.log.Warn(ctx, "change-feed connection lost, reconnecting", "topic", topic, "err", err)
		}
	}
}

// dial connects to the realtime endpoint, backing off between attempts.
func (c *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	backoff := retry.WithJitter(100*time.Millisecond,
		retry.WithCappedDuration(10*time.Second, retry.NewFibonacci(250*time.Millisecond)))

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		u := c.url + "?apikey=" + c.anonKey
		ws, _, err := c.dialer.DialContext(ctx, u, nil)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = ws
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *RealtimeClient) serve(ctx context.Context, conn *websocket.Conn, topic string, deliver func(models.Message)) error {
	defer conn.Close()

	join := realtimeEnvelope{Topic: topic, Event: eventJoin, Ref: uuid.NewString(), Payload: json.RawMessage(`{}`)}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}

	// Heartbeats and teardown run beside the read loop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				leave := realtimeEnvelope{Topic: topic, Event: eventLeave, Ref: uuid.NewString(), Payload: json.RawMessage(`{}`)}
				_ = conn.WriteJSON(leave)
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				hb := realtimeEnvelope{Topic: "phoenix", Event: eventHeartbeat, Ref: uuid.NewString(), Payload: json.RawMessage(`{}`)}
				if err := conn.WriteJSON(hb); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var env realtimeEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if env.Event != eventInsert || env.Topic != topic {
			continue
		}

		var p insertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn(ctx, "undecodable insert event", "topic", topic, "err", err)
			continue
		}
		deliver(p.Record)
	}
}
