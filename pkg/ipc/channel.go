package ipc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a send blocks waiting for the firmware.
const DefaultTimeout = time.Second

// Hardware is the register-level access the channel needs: the doorbell
// register pairs and the two mailbox windows. It is implemented by the
// MMIO-backed driver and by the dspemu firmware emulator. The channel is
// the sole owner; no other component touches these registers.
type Hardware interface {
	// RingDoorbell writes the extension then the primary word (with the
	// busy bit already set) to the outbound doorbell pair, signaling a
	// new request to the firmware.
	RingDoorbell(primary, extension uint32)

	// InboundMessage reads the inbound doorbell pair. ok is false when
	// the busy bit is clear, i.e. no message is pending.
	InboundMessage() (m Message, ok bool)

	// AckInbound clears the inbound busy bit after the host has consumed
	// a reply or notification.
	AckInbound()

	// AckDone clears the target-done bit the firmware sets in the
	// outbound extension register once a request round trip completes.
	AckDone()

	// WriteMailbox copies a request payload into the outbound window.
	WriteMailbox(p []byte) error

	// ReadMailbox copies size bytes at off out of the inbound window.
	ReadMailbox(off, size uint32, dst []byte) error
}

// Notification is an unsolicited firmware event delivered to the
// registered handler.
type Notification struct {
	Kind    NotificationKind
	Message Message
}

// NotificationHandler receives unsolicited firmware notifications. It
// runs on the channel's dispatch goroutine, never under the channel lock,
// so it may call back into the channel.
type NotificationHandler func(Notification)

// Channel is the IPC protocol engine: it serializes all mailbox and
// doorbell access and turns the interrupt-completed hardware exchange
// into a synchronous call contract.
type Channel interface {
	// Send issues a request with no payload and no receive buffer.
	Send(primary, extension uint32) error

	// SendWithData issues a request carrying payload (at most
	// MailboxBytes) and, for large-config-get requests, copies reply data
	// into recv. It blocks until the firmware replies, the timeout fires,
	// or Shutdown cancels the request. Returns the number of bytes
	// received.
	SendWithData(primary, extension uint32, payload, recv []byte) (int, error)

	// Pending reports whether any request is queued. Diagnostics only.
	Pending() bool

	// ProcessIRQ services one hardware interrupt. The owning driver must
	// call it once per interrupt; it never blocks.
	ProcessIRQ()

	// SetNotificationHandler registers the handler for unsolicited
	// firmware notifications. Passing nil drops notifications (logged).
	SetNotificationHandler(h NotificationHandler)

	// Shutdown cancels every pending request, waking blocked callers with
	// ErrCanceled, and waits for in-flight notification delivery to
	// finish. Idempotent; no sends are serviced after it begins.
	Shutdown()
}

// Option configures a channel at construction.
type Option func(*channel)

// WithTimeout sets the per-request reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *channel) {
		c.timeout = d
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *channel) {
		c.log = l
	}
}

// WithNotificationBuffer sets how many undelivered notifications may be
// queued before new ones are dropped (default 16).
func WithNotificationBuffer(n int) Option {
	return func(c *channel) {
		c.notifyCh = make(chan Notification, n)
	}
}

type channel struct {
	hw      Hardware
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	queue  []*transaction
	closed bool

	handlerMu sync.RWMutex
	handler   NotificationHandler

	// The interrupt path enqueues notifications here; a dedicated
	// goroutine delivers them outside the lock so a handler may call
	// back into the channel.
	notifyCh     chan Notification
	dispatchWG   sync.WaitGroup
	shutdownOnce sync.Once
}

// NewChannel creates a channel over hw and starts its notification
// dispatch goroutine. Call Shutdown before discarding the channel.
func NewChannel(hw Hardware, opts ...Option) Channel {
	c := &channel{
		hw:       hw,
		timeout:  DefaultTimeout,
		log:      slog.Default(),
		notifyCh: make(chan Notification, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatchWG.Add(1)
	go c.dispatchNotifications()
	return c
}

func (c *channel) Send(primary, extension uint32) error {
	_, err := c.SendWithData(primary, extension, nil, nil)
	return err
}

func (c *channel) SendWithData(primary, extension uint32, payload, recv []byte) (int, error) {
	if len(payload) > MailboxBytes {
		return 0, fmt.Errorf("%w: %d bytes, mailbox is %d", ErrPayloadTooLarge, len(payload), MailboxBytes)
	}

	txn := newTransaction(Message{Primary: primary, Extension: extension}, payload, recv)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: channel is shut down", ErrCanceled)
	}
	c.queue = append(c.queue, txn)
	if len(c.queue) == 1 {
		if err := c.ringLocked(txn); err != nil {
			c.queue = c.queue[:0]
			c.mu.Unlock()
			return 0, err
		}
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-txn.completed:
	case <-timer.C:
		// The interrupt path may have completed the transaction between
		// the timer firing and us taking the lock; resolve the race here.
		c.mu.Lock()
		if !txn.settled() {
			c.removeLocked(txn)
			c.mu.Unlock()
			c.log.Warn("ipc request timed out",
				"request", txn.request.String(), "timeout", c.timeout)
			return 0, fmt.Errorf("%w after %v", ErrTimeout, c.timeout)
		}
		c.mu.Unlock()
	}

	if !txn.done {
		return 0, ErrCanceled
	}
	if st := txn.reply.Status(); st != StatusSuccess {
		return 0, &StatusError{Code: st}
	}
	return txn.rxActual, nil
}

func (c *channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) > 0
}

func (c *channel) SetNotificationHandler(h NotificationHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// ringLocked puts txn at the doorbell: payload into the outbound mailbox,
// then the doorbell write. Caller holds c.mu and guarantees txn is the
// queue head.
func (c *channel) ringLocked(txn *transaction) error {
	if len(txn.txData) > 0 {
		if err := c.hw.WriteMailbox(txn.txData); err != nil {
			return err
		}
	}
	c.hw.RingDoorbell(txn.request.Primary|BusyBit, txn.request.Extension)
	return nil
}

// removeLocked takes txn out of the queue without completing it. If it
// was the head the hardware may still answer; that late reply is dropped
// as spurious by ProcessIRQ, and the next request is not dispatched until
// then, preserving the single-outstanding-request discipline.
func (c *channel) removeLocked(txn *transaction) {
	for i, q := range c.queue {
		if q == txn {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

func (c *channel) ProcessIRQ() {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.hw.InboundMessage()
	if !ok {
		// Interrupt with no pending message, e.g. the done bit of a round
		// trip already consumed. Acknowledge and move on.
		c.hw.AckDone()
		return
	}

	if msg.IsNotification() {
		c.deliverLocked(Notification{Kind: msg.NotificationKind(), Message: msg})
		c.hw.AckInbound()
		return
	}

	if len(c.queue) == 0 {
		c.log.Warn("spurious ipc reply with empty queue", "reply", msg.String())
		c.hw.AckInbound()
		return
	}
	head := c.queue[0]
	if !msg.MatchesRequest(head.request) {
		c.log.Warn("spurious ipc reply does not match queue head",
			"reply", msg.String(), "head", head.request.String())
		c.hw.AckInbound()
		return
	}

	c.queue = c.queue[1:]

	if head.request.Target() == TargetModule &&
		head.request.ModuleType() == ModLargeConfigGet &&
		head.rxBuf != nil && msg.Status() == StatusSuccess {
		size := msg.DataOffSize()
		if int(size) > len(head.rxBuf) {
			size = uint32(len(head.rxBuf))
		}
		if err := c.hw.ReadMailbox(0, size, head.rxBuf); err != nil {
			c.log.Error("inbound mailbox read failed", "error", err, "size", size)
		} else {
			head.rxActual = int(size)
		}
	}

	head.reply = msg
	head.done = true
	close(head.completed)

	c.hw.AckInbound()
	c.hw.AckDone()

	if len(c.queue) > 0 {
		if err := c.ringLocked(c.queue[0]); err != nil {
			// The payload was validated at enqueue time, so this only
			// happens if the hardware mapping itself is broken. Fail the
			// transaction rather than wedge the queue.
			next := c.queue[0]
			c.queue = c.queue[1:]
			c.log.Error("dispatch of queued request failed", "error", err)
			close(next.completed)
		}
	}
}

// deliverLocked hands a notification to the dispatch goroutine. Dropping
// is preferable to blocking the interrupt path when the handler is slow.
func (c *channel) deliverLocked(n Notification) {
	if c.closed {
		return
	}
	select {
	case c.notifyCh <- n:
	default:
		c.log.Warn("notification dropped, dispatch queue full", "kind", n.Kind.String())
	}
}

func (c *channel) dispatchNotifications() {
	defer c.dispatchWG.Done()
	for n := range c.notifyCh {
		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h == nil {
			c.log.Debug("notification with no registered handler", "kind", n.Kind.String())
			continue
		}
		h(n)
	}
}

func (c *channel) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		drained := c.queue
		c.queue = nil
		for _, txn := range drained {
			txn.done = false
			close(txn.completed)
		}
		c.mu.Unlock()

		// closed is set under the lock and every notifyCh send happens
		// under the lock after checking it, so this close cannot race a
		// send.
		close(c.notifyCh)
		c.dispatchWG.Wait()
	})
}
