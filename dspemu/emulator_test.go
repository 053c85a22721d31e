package dspemu_test

import (
	"errors"
	"testing"
	"time"

	"github.com/galliumaudio/gallium/dspemu"
	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
)

func startChannel(t *testing.T, emu *dspemu.Emulator, opts ...ipc.Option) ipc.Channel {
	t.Helper()
	ch := ipc.NewChannel(emu, opts...)
	emu.SetInterruptHandler(ch.ProcessIRQ)
	t.Cleanup(func() {
		ch.Shutdown()
		emu.Flush()
	})
	return ch
}

func TestEmulatorAnswersCreatePipeline(t *testing.T) {
	emu := dspemu.New()
	ch := startChannel(t, emu)

	msg := ipc.NewCreatePipeline(5, 1, 2, true)
	if err := ch.Send(msg.Primary, msg.Extension); err != nil {
		t.Fatalf("create: %v", err)
	}
	if st, ok := emu.PipelineState(5); !ok || st != ipc.StateReset {
		t.Errorf("pipeline 5: %v, %v; want reset", st, ok)
	}

	t.Log("Creating the same pipeline id twice is rejected")
	if err := ch.Send(msg.Primary, msg.Extension); !errors.Is(err, ipc.ErrFirmware) {
		t.Fatalf("duplicate create: got %v, want ErrFirmware", err)
	}
}

func TestEmulatorRejectsUnknownModuleType(t *testing.T) {
	emu := dspemu.New()
	ch := startChannel(t, emu)

	create := ipc.NewCreatePipeline(0, 0, 2, false)
	if err := ch.Send(create.Primary, create.Extension); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	init := ipc.NewInitInstance(0x7777, 0, 0, 0, ipc.DomainLowLatency, 0)
	err := ch.Send(init.Primary, init.Extension)
	var se *ipc.StatusError
	if !errors.As(err, &se) || se.Code != ipc.StatusErrorInvalidParam {
		t.Fatalf("got %v, want invalid-param for a module type outside the catalog", err)
	}
}

func TestEmulatorStrictDeleteOfNonResetPipeline(t *testing.T) {
	t.Log("Deleting a pipeline that is not in RESET is refused in strict mode")

	emu := dspemu.New()
	ch := startChannel(t, emu)

	create := ipc.NewCreatePipeline(0, 0, 2, false)
	if err := ch.Send(create.Primary, create.Extension); err != nil {
		t.Fatalf("create: %v", err)
	}
	pause := ipc.NewSetPipelineState(0, ipc.StatePaused, false)
	if err := ch.Send(pause.Primary, pause.Extension); err != nil {
		t.Fatalf("pause: %v", err)
	}

	del := ipc.NewDeletePipeline(0)
	if err := ch.Send(del.Primary, del.Extension); !errors.Is(err, ipc.ErrFirmware) {
		t.Fatalf("delete of paused pipeline: got %v, want ErrFirmware", err)
	}

	reset := ipc.NewSetPipelineState(0, ipc.StateReset, false)
	if err := ch.Send(reset.Primary, reset.Extension); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := ch.Send(del.Primary, del.Extension); err != nil {
		t.Fatalf("delete after reset: %v", err)
	}
}

func TestEmulatorLooseTransitions(t *testing.T) {
	emu := dspemu.New(dspemu.WithLooseTransitions())
	ch := startChannel(t, emu)

	create := ipc.NewCreatePipeline(0, 0, 2, false)
	if err := ch.Send(create.Primary, create.Extension); err != nil {
		t.Fatalf("create: %v", err)
	}
	run := ipc.NewSetPipelineState(0, ipc.StateRunning, false)
	if err := ch.Send(run.Primary, run.Extension); err != nil {
		t.Fatalf("reset->running with loose transitions: %v", err)
	}
}

func TestEmulatorLargeConfigTooSmallBuffer(t *testing.T) {
	t.Log("A catalog query whose declared size cannot hold the reply fails out-of-memory")

	emu := dspemu.New()
	ch := startChannel(t, emu)

	msg := ipc.NewLargeConfigGet(0, 0, dsp.LargeParamModulesInfo, 8)
	recv := make([]byte, 8)
	_, err := ch.SendWithData(msg.Primary, msg.Extension, nil, recv)
	var se *ipc.StatusError
	if !errors.As(err, &se) || se.Code != ipc.StatusOutOfMemory {
		t.Fatalf("got %v, want out-of-memory", err)
	}
}

func TestEmulatorUnknownLargeParam(t *testing.T) {
	emu := dspemu.New()
	ch := startChannel(t, emu)

	msg := ipc.NewLargeConfigGet(0, 0, 0x1f, 64)
	recv := make([]byte, 64)
	_, err := ch.SendWithData(msg.Primary, msg.Extension, nil, recv)
	var se *ipc.StatusError
	if !errors.As(err, &se) || se.Code != ipc.StatusErrorInvalidParam {
		t.Fatalf("got %v, want invalid-param", err)
	}
}

func TestEmulatorNotify(t *testing.T) {
	emu := dspemu.New()
	ch := startChannel(t, emu)

	got := make(chan ipc.Notification, 1)
	ch.SetNotificationHandler(func(n ipc.Notification) { got <- n })

	emu.Notify(ipc.NotifyFirmwareReady)

	select {
	case n := <-got:
		if n.Kind != ipc.NotifyFirmwareReady {
			t.Errorf("kind: got %s", n.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestEmulatorLatencyAndRecording(t *testing.T) {
	emu := dspemu.New(dspemu.WithLatency(time.Millisecond))
	ch := startChannel(t, emu)

	create := ipc.NewCreatePipeline(0, 0, 2, false)
	if err := ch.Send(create.Primary, create.Extension); err != nil {
		t.Fatalf("create: %v", err)
	}
	del := ipc.NewDeletePipeline(0)
	if err := ch.Send(del.Primary, del.Extension); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reqs := emu.Requests()
	if len(reqs) != 2 {
		t.Fatalf("recorded %d requests, want 2", len(reqs))
	}
	if reqs[0].GlobalType() != ipc.GlbCreatePipeline || reqs[1].GlobalType() != ipc.GlbDeletePipeline {
		t.Errorf("requests recorded out of order: %v", reqs)
	}
}
