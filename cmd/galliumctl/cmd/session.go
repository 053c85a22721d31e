package cmd

import (
	"log/slog"
	"time"

	"github.com/galliumaudio/gallium/dspemu"
	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
)

// session bundles an emulator-backed channel and controller. Hardware
// sessions would differ only in the ipc.Hardware implementation.
type session struct {
	emu  *dspemu.Emulator
	ch   ipc.Channel
	ctrl *dsp.Controller
}

func newEmulatorSession(timeout time.Duration) *session {
	emu := dspemu.New()
	ch := ipc.NewChannel(emu, ipc.WithTimeout(timeout))
	emu.SetInterruptHandler(ch.ProcessIRQ)
	return &session{
		emu:  emu,
		ch:   ch,
		ctrl: dsp.NewController(ch, slog.Default()),
	}
}

func (s *session) close() {
	s.ch.Shutdown()
}
