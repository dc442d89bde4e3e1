package notify

import (
	"context"
	"sync"
	"time"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
)

// Digest is a batched summary of pending events for one recipient.
type Digest struct {
	RecipientID string                   `json:"recipient_id"`
	Events      []models.TransitionEvent `json:"events"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// DigestSender delivers one digest to its recipient.
type DigestSender interface {
	SendDigest(d Digest) error
}

// DigestBatcher accumulates events per recipient and flushes summaries on an
// interval, independently of the engine's control flow. Events are only
// cleared after a successful send, so a failed "mark as sent" re-delivers the
// whole batch next tick: duplicates are accepted in exchange for never losing
// a digest.
type DigestBatcher struct {
	sender  DigestSender
	logger  service.Logger
	mu      sync.Mutex
	pending map[string][]models.TransitionEvent
}

func NewDigestBatcher(sender DigestSender, logger service.Logger) *DigestBatcher {
	return &DigestBatcher{
		sender:  sender,
		logger:  logger,
		pending: make(map[string][]models.TransitionEvent),
	}
}

// Add records an event for the recipient's next digest.
func (b *DigestBatcher) Add(event models.TransitionEvent) {
	if event.RecipientID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[event.RecipientID] = append(b.pending[event.RecipientID], event)
}

// Run flushes on every tick until the context is cancelled.
func (b *DigestBatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush sends one digest per recipient with pending events.
func (b *DigestBatcher) Flush() {
	b.mu.Lock()
	batches := make(map[string][]models.TransitionEvent, len(b.pending))
	for recipient, events := range b.pending {
		batches[recipient] = events
	}
	b.mu.Unlock()

	for recipient, events := range batches {
		digest := Digest{
			RecipientID: recipient,
			Events:      events,
			GeneratedAt: time.Now().UTC(),
		}
		if err := b.sender.SendDigest(digest); err != nil {
			b.logger.Warnf("Digest for %s failed, will retry next flush: %v", recipient, err)
			continue
		}
		b.markSent(recipient, len(events))
	}
}

// markSent drops the first n events for the recipient; events added during
// the send survive for the next digest.
func (b *DigestBatcher) markSent(recipient string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.pending[recipient]
	if n >= len(events) {
		delete(b.pending, recipient)
		return
	}
	b.pending[recipient] = events[n:]
}
