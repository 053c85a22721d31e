package ipc

import (
	"errors"
	"testing"
)

func TestMailboxDirectionEnforcement(t *testing.T) {
	t.Log("The host writes only the outbound window and reads only the inbound one")

	win := make([]byte, MailboxBytes)
	out, err := NewOutboundMailbox(win)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if err := out.Read(0, 4, make([]byte, 4)); err == nil {
		t.Error("read from outbound window must fail")
	}

	in, err := NewInboundMailbox(make([]byte, MailboxBytes))
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if err := in.Write([]byte{1}); err == nil {
		t.Error("write to inbound window must fail")
	}
}

func TestMailboxBounds(t *testing.T) {
	if _, err := NewOutboundMailbox(make([]byte, 16)); err == nil {
		t.Error("short window must be rejected")
	}

	out, _ := NewOutboundMailbox(make([]byte, MailboxBytes))
	if err := out.Write(make([]byte, MailboxBytes+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized write: got %v, want ErrPayloadTooLarge", err)
	}

	win := make([]byte, MailboxBytes)
	win[MailboxBytes-1] = 0x7e
	in, _ := NewInboundMailbox(win)
	if err := in.Read(MailboxBytes-1, 2, make([]byte, 2)); err == nil {
		t.Error("read past the window end must fail")
	}
	dst := make([]byte, 1)
	if err := in.Read(MailboxBytes-1, 1, dst); err != nil || dst[0] != 0x7e {
		t.Errorf("in-range read at the window end: %v, % x", err, dst)
	}
	if err := in.Read(0, 8, make([]byte, 4)); err == nil {
		t.Error("read larger than dst must fail")
	}
}
