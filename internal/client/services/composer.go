package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
)

var (
	// ErrEmptyMessage is returned when the trimmed draft is empty.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight is returned when a previous send has not finished.
	ErrSendInFlight = errors.New("send already in progress")
)

// ComposerService sends one message at a time to the selected peer. The
// conversation id is resolved on every send through the idempotent
// resolver, so sending works even before the thread finished opening.
type ComposerService struct {
	client   backend.Client
	userID   string
	inFlight atomic.Bool
}

func NewComposerService(client backend.Client, userID string) *ComposerService {
	return &ComposerService{client: client, userID: userID}
}

// Send trims the draft, rejects empty input, and inserts the message.
// Concurrent sends are rejected with ErrSendInFlight rather than queued.
func (c *ComposerService) Send(ctx context.Context, peerID, draft string) (*models.Message, error) {
	content := strings.TrimSpace(draft)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer c.inFlight.Store(false)

	convID, err := c.client.GetOrCreateConversation(ctx, c.userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	msg, err := c.client.InsertMessage(ctx, convID, c.userID, content)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}
