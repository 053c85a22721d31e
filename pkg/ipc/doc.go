// Package ipc implements the host side of the audio DSP's mailbox IPC
// protocol.
//
// The DSP exposes two fixed-size shared-memory mailboxes (one per
// direction) and a pair of doorbell registers. The host writes a request
// payload into the outbound mailbox, rings the outbound doorbell, and the
// firmware answers by writing the inbound doorbell and raising an
// interrupt. Only one request may be outstanding at the hardware at a
// time; everything else waits in a FIFO queue.
//
// # Channel
//
// [Channel] turns that interrupt-completed exchange into a synchronous
// call contract. Callers block on [Channel.SendWithData] until the
// firmware replies, the per-call timeout fires, or [Channel.Shutdown]
// cancels every pending request. The owning driver must call
// [Channel.ProcessIRQ] once per hardware interrupt.
//
// # Messages
//
// Requests, replies and notifications are all encoded as a pair of 32-bit
// words ("primary", "extension") with fixed bit-field layouts that must
// match the firmware exactly. See [Message].
//
// # Usage
//
//	ch := ipc.NewChannel(hw, ipc.WithTimeout(time.Second))
//	defer ch.Shutdown()
//
//	msg := ipc.NewCreatePipeline(0, 1, 4, false)
//	if err := ch.Send(msg.Primary, msg.Extension); err != nil { ... }
package ipc
