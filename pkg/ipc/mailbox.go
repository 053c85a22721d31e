package ipc

import "fmt"

// Mailbox is one fixed-size shared-memory window. Each direction has its
// own window; the host may only write the outbound one and only read the
// inbound one. A Mailbox does bounds-checked copies and nothing else.
type Mailbox struct {
	win      []byte
	writable bool
}

// NewOutboundMailbox wraps the host-to-DSP window. win must be exactly
// MailboxBytes long.
func NewOutboundMailbox(win []byte) (*Mailbox, error) {
	return newMailbox(win, true)
}

// NewInboundMailbox wraps the DSP-to-host window.
func NewInboundMailbox(win []byte) (*Mailbox, error) {
	return newMailbox(win, false)
}

func newMailbox(win []byte, writable bool) (*Mailbox, error) {
	if len(win) != MailboxBytes {
		return nil, fmt.Errorf("ipc: mailbox window is %d bytes, want %d", len(win), MailboxBytes)
	}
	return &Mailbox{win: win, writable: writable}, nil
}

// Write copies p to the start of an outbound window.
func (m *Mailbox) Write(p []byte) error {
	if !m.writable {
		return fmt.Errorf("ipc: write to inbound mailbox")
	}
	if len(p) > len(m.win) {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p))
	}
	copy(m.win, p)
	return nil
}

// Read copies size bytes starting at off out of an inbound window.
func (m *Mailbox) Read(off, size uint32, dst []byte) error {
	if m.writable {
		return fmt.Errorf("ipc: read from outbound mailbox")
	}
	if uint64(off)+uint64(size) > uint64(len(m.win)) {
		return fmt.Errorf("ipc: mailbox read [%d,%d) out of range", off, off+size)
	}
	if int(size) > len(dst) {
		return fmt.Errorf("ipc: mailbox read of %d bytes into %d-byte buffer", size, len(dst))
	}
	copy(dst, m.win[off:off+size])
	return nil
}
