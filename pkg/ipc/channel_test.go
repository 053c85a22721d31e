package ipc

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeHW is a scripted register file: tests take requests off the
// doorbell and inject replies by hand, then call ProcessIRQ themselves.
type fakeHW struct {
	mu         sync.Mutex
	rung       []Message
	outPending bool
	out        Message
	in         Message
	inBusy     bool
	outbound   [MailboxBytes]byte
	inbound    [MailboxBytes]byte
}

func (h *fakeHW) RingDoorbell(primary, extension uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := Message{Primary: primary &^ BusyBit, Extension: extension}
	h.rung = append(h.rung, m)
	h.out = m
	h.outPending = true
}

func (h *fakeHW) InboundMessage() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.inBusy {
		return Message{}, false
	}
	return h.in, true
}

func (h *fakeHW) AckInbound() {
	h.mu.Lock()
	h.inBusy = false
	h.mu.Unlock()
}

func (h *fakeHW) AckDone() {}

func (h *fakeHW) WriteMailbox(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	copy(h.outbound[:], p)
	return nil
}

func (h *fakeHW) ReadMailbox(off, size uint32, dst []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	copy(dst, h.inbound[off:off+size])
	return nil
}

// takeRequest pops the request currently at the doorbell, if any.
func (h *fakeHW) takeRequest() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.outPending {
		return Message{}, false
	}
	h.outPending = false
	return h.out, true
}

// setInbound loads the inbound doorbell pair with m.
func (h *fakeHW) setInbound(m Message) {
	h.mu.Lock()
	h.in = m
	h.inBusy = true
	h.mu.Unlock()
}

func (h *fakeHW) rungOrder() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.rung...)
}

func TestChannelRejectsOversizedPayload(t *testing.T) {
	t.Log("A payload larger than the mailbox fails before touching hardware")

	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(50*time.Millisecond))
	defer ch.Shutdown()

	payload := make([]byte, MailboxBytes+1)
	msg := NewSetPipelineState(0, StatePaused, false)
	_, err := ch.SendWithData(msg.Primary, msg.Extension, payload, nil)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
	if ch.Pending() {
		t.Error("queue must be unmodified after a rejected payload")
	}
	if len(hw.rungOrder()) != 0 {
		t.Error("doorbell must not be rung for a rejected payload")
	}
}

func TestChannelSendCompletesOnReply(t *testing.T) {
	hw := &fakeHW{}
	ch := NewChannel(hw)
	defer ch.Shutdown()

	msg := NewCreatePipeline(0, 0, 4, false)
	done := make(chan error, 1)
	go func() {
		done <- ch.Send(msg.Primary, msg.Extension)
	}()

	req := waitRequest(t, hw)
	if req.Primary != msg.Primary {
		t.Errorf("doorbell saw %s, want %s", req, msg)
	}
	hw.setInbound(NewReply(req, StatusSuccess))
	ch.ProcessIRQ()

	if err := <-done; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if ch.Pending() {
		t.Error("queue not empty after completion")
	}
}

func TestChannelFirmwareFailureSurfacesStatus(t *testing.T) {
	t.Log("A reply with a non-success status maps to ErrFirmware, code preserved")

	hw := &fakeHW{}
	ch := NewChannel(hw)
	defer ch.Shutdown()

	msg := NewDeletePipeline(9)
	done := make(chan error, 1)
	go func() {
		done <- ch.Send(msg.Primary, msg.Extension)
	}()

	req := waitRequest(t, hw)
	hw.setInbound(NewReply(req, StatusInvalidRequest))
	ch.ProcessIRQ()

	err := <-done
	if !errors.Is(err, ErrFirmware) {
		t.Fatalf("got %v, want ErrFirmware", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != StatusInvalidRequest {
		t.Errorf("firmware code not preserved: %v", err)
	}
}

func TestChannelFIFOWithConcurrentSenders(t *testing.T) {
	t.Log("N concurrent senders: doorbell order is submission order and every caller gets its own reply")

	const n = 8
	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(5*time.Second))
	defer ch.Shutdown()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for served := 0; served < n; {
			select {
			case <-stop:
				return
			default:
			}
			req, ok := hw.takeRequest()
			if !ok {
				time.Sleep(100 * time.Microsecond)
				continue
			}
			// Echo back exactly the byte count this request asked for, so
			// a caller paired with a foreign reply would notice.
			hw.setInbound(NewLargeConfigReply(req, StatusSuccess, req.DataOffSize()))
			ch.ProcessIRQ()
			served++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tag int) {
			defer wg.Done()
			want := 16 + tag
			msg := NewLargeConfigGet(0, uint8(tag), 1, uint32(want))
			recv := make([]byte, 64)
			got, err := ch.SendWithData(msg.Primary, msg.Extension, nil, recv)
			if err != nil {
				t.Errorf("sender %d: %v", tag, err)
				return
			}
			if got != want {
				t.Errorf("sender %d received %d bytes, want %d: got a foreign reply", tag, got, want)
			}
		}(i)
	}
	wg.Wait()

	order := hw.rungOrder()
	if len(order) != n {
		t.Fatalf("doorbell saw %d requests, want %d", len(order), n)
	}
	seen := make(map[uint8]bool)
	for _, m := range order {
		tag := m.InstanceID()
		if seen[tag] {
			t.Errorf("request with tag %d reached the doorbell twice", tag)
		}
		seen[tag] = true
	}
}

func TestChannelTimeout(t *testing.T) {
	t.Log("Hardware that never answers: the send returns ErrTimeout near the configured bound")

	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(10*time.Millisecond))
	defer ch.Shutdown()

	msg := NewCreatePipeline(0, 0, 4, false)
	start := time.Now()
	err := ch.Send(msg.Primary, msg.Extension)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v, want close to 10ms", elapsed)
	}
	if ch.Pending() {
		t.Error("timed-out transaction still queued")
	}
}

func TestChannelShutdownCancelsBlockedSender(t *testing.T) {
	t.Log("Shutdown while a send is blocked: the caller wakes with ErrCanceled, never a stale reply")

	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(time.Minute))

	msg := NewCreatePipeline(0, 0, 4, false)
	done := make(chan error, 1)
	go func() {
		done <- ch.Send(msg.Primary, msg.Extension)
	}()
	waitRequest(t, hw)

	ch.Shutdown()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("got %v, want ErrCanceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked sender did not wake after Shutdown")
	}

	// Shutdown is idempotent and later sends are refused.
	ch.Shutdown()
	if err := ch.Send(msg.Primary, msg.Extension); !errors.Is(err, ErrCanceled) {
		t.Errorf("send after shutdown: got %v, want ErrCanceled", err)
	}
}

func TestChannelSpuriousReplyDropped(t *testing.T) {
	t.Log("A reply that does not match the queue head is dropped without corrupting the queue")

	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(5*time.Second))
	defer ch.Shutdown()

	msg := NewSetPipelineState(1, StatePaused, false)
	done := make(chan error, 1)
	go func() {
		done <- ch.Send(msg.Primary, msg.Extension)
	}()
	req := waitRequest(t, hw)

	// Wrong opcode: must be dropped.
	hw.setInbound(NewReply(NewDeletePipeline(1), StatusSuccess))
	ch.ProcessIRQ()
	if !ch.Pending() {
		t.Fatal("spurious reply completed the pending transaction")
	}

	hw.setInbound(NewReply(req, StatusSuccess))
	ch.ProcessIRQ()
	if err := <-done; err != nil {
		t.Fatalf("matching reply after spurious one failed: %v", err)
	}
}

func TestChannelNotificationDelivery(t *testing.T) {
	hw := &fakeHW{}
	ch := NewChannel(hw)
	defer ch.Shutdown()

	t.Log("A notification with no registered handler is dropped without corrupting state")
	hw.setInbound(NewNotification(NotifyWatchdogTimeout))
	ch.ProcessIRQ()
	if ch.Pending() {
		t.Fatal("notification corrupted the pending queue")
	}

	t.Log("With a handler, each notification is delivered exactly once with its decoded kind")
	got := make(chan Notification, 2)
	ch.SetNotificationHandler(func(n Notification) {
		got <- n
	})

	hw.setInbound(NewNotification(NotifyFirmwareReady))
	ch.ProcessIRQ()

	select {
	case n := <-got:
		if n.Kind != NotifyFirmwareReady {
			t.Errorf("kind: got %s, want firmware-ready", n.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case n := <-got:
		t.Fatalf("unexpected second delivery: %v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelLargeConfigCopiesReplyData(t *testing.T) {
	hw := &fakeHW{}
	ch := NewChannel(hw, WithTimeout(5*time.Second))
	defer ch.Shutdown()

	want := []byte("firmware catalog bytes")
	copy(hw.inbound[:], want)

	msg := NewLargeConfigGet(0, 0, 3, 256)
	recv := make([]byte, 256)
	done := make(chan error, 1)
	var n int
	go func() {
		var err error
		n, err = ch.SendWithData(msg.Primary, msg.Extension, nil, recv)
		done <- err
	}()

	req := waitRequest(t, hw)
	hw.setInbound(NewLargeConfigReply(req, StatusSuccess, uint32(len(want))))
	ch.ProcessIRQ()

	if err := <-done; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if n != len(want) {
		t.Fatalf("received %d bytes, want %d", n, len(want))
	}
	if string(recv[:n]) != string(want) {
		t.Errorf("received %q, want %q", recv[:n], want)
	}
}

// waitRequest polls until a request reaches the doorbell.
func waitRequest(t *testing.T, hw *fakeHW) Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if req, ok := hw.takeRequest(); ok {
			return req
		}
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatal("no request reached the doorbell")
	return Message{}
}
