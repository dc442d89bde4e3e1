// Package notify is the multi-channel notification collaborator the
// transition engine hands events to. Delivery is asynchronous and
// at-least-once; the engine's transition result never depends on it.
package notify

import (
	"sync"
	"time"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
)

// Sender delivers one rendered notification over a single channel
// (email, SMS, in-app).
type Sender interface {
	Name() string
	Send(event models.TransitionEvent) error
}

// AsyncDispatcher queues transition events on a buffered channel and delivers
// them to every registered sender from a worker goroutine, retrying failed
// sends a bounded number of times. A full queue drops the event with a
// warning; queueing is fire-and-forget by contract.
type AsyncDispatcher struct {
	senders  []Sender
	logger   service.Logger
	queue    chan models.TransitionEvent
	retries  int
	backoff  time.Duration
	digests  *DigestBatcher
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type Option func(*AsyncDispatcher)

func WithQueueSize(n int) Option {
	return func(d *AsyncDispatcher) {
		if n > 0 {
			d.queue = make(chan models.TransitionEvent, n)
		}
	}
}

func WithRetries(n int, backoff time.Duration) Option {
	return func(d *AsyncDispatcher) {
		d.retries = n
		d.backoff = backoff
	}
}

// WithDigests routes every queued event into the given batcher as well.
func WithDigests(b *DigestBatcher) Option {
	return func(d *AsyncDispatcher) {
		d.digests = b
	}
}

func NewAsyncDispatcher(logger service.Logger, senders []Sender, opts ...Option) *AsyncDispatcher {
	d := &AsyncDispatcher{
		senders: senders,
		logger:  logger,
		queue:   make(chan models.TransitionEvent, 256),
		retries: 3,
		backoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// QueueApprovalNotifications implements service.Dispatcher. It never blocks
// and never returns a failure into the transition path.
func (d *AsyncDispatcher) QueueApprovalNotifications(assignment models.Assignment, event models.TransitionEvent) {
	if event.RecipientID == "" {
		d.logger.Warnf("Dropping notification for assignment %s: no recipient", assignment.ID)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warnf("Notification queue full; dropping event for assignment %s", assignment.ID)
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *AsyncDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		if d.digests != nil {
			d.digests.Add(event)
		}
		for _, sender := range d.senders {
			d.deliver(sender, event)
		}
	}
}

func (d *AsyncDispatcher) deliver(sender Sender, event models.TransitionEvent) {
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.backoff * time.Duration(attempt))
		}
		if err = sender.Send(event); err == nil {
			return
		}
		d.logger.Warnf("Sender %s failed for assignment %s (attempt %d): %v",
			sender.Name(), event.AssignmentID, attempt+1, err)
	}
	// Delivery failures are logged, never promoted to engine errors.
	d.logger.Errorf("Sender %s gave up on assignment %s: %v", sender.Name(), event.AssignmentID, err)
}
