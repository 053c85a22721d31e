package topology_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galliumaudio/gallium/dspemu"
	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
	"github.com/galliumaudio/gallium/pkg/nhlt"
	"github.com/galliumaudio/gallium/pkg/topology"
)

var i2sBlob = []byte{0x5c, 0x01, 0x00, 0x00, 0x12, 0x34, 0x56, 0x78}

func boardProvider() *nhlt.StaticProvider {
	prov := nhlt.NewStaticProvider()
	key := nhlt.FormatKey{Rate: 48000, Bits: 16, Channels: 2}
	prov.AddEndpoint(nhlt.LinkSSP, nhlt.DirRender, key, i2sBlob)
	prov.AddEndpoint(nhlt.LinkSSP, nhlt.DirCapture, key, i2sBlob)
	return prov
}

func startBuilder(t *testing.T, emu *dspemu.Emulator, prov nhlt.Provider) *topology.Builder {
	t.Helper()
	ch := ipc.NewChannel(emu)
	emu.SetInterruptHandler(ch.ProcessIRQ)
	t.Cleanup(func() {
		ch.Shutdown()
		emu.Flush()
	})
	b := topology.NewBuilder(dsp.NewController(ch, nil), prov, nil)
	if err := b.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return b
}

func renderSpec() topology.StreamSpec {
	return topology.StreamSpec{
		Direction: nhlt.DirRender,
		Link:      nhlt.LinkSSP,
		Format:    topology.StereoFormat(48000, 16),
		HostDMA:   0,
		LinkDMA:   1,
	}
}

func TestBuilderRequiresPrepare(t *testing.T) {
	emu := dspemu.New()
	ch := ipc.NewChannel(emu)
	emu.SetInterruptHandler(ch.ProcessIRQ)
	defer ch.Shutdown()

	b := topology.NewBuilder(dsp.NewController(ch, nil), boardProvider(), nil)
	if _, err := b.BuildStream(renderSpec()); !errors.Is(err, topology.ErrNotPrepared) {
		t.Fatalf("got %v, want ErrNotPrepared", err)
	}
}

func TestBuilderStreamLifecycle(t *testing.T) {
	t.Log("Build, start, stop and tear down a render pipeline against the firmware model")

	emu := dspemu.New()
	b := startBuilder(t, emu, boardProvider())

	s, err := b.BuildStream(renderSpec())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if n := emu.ModuleCount(); n != 2 {
		t.Fatalf("built stream has %d module instances, want 2", n)
	}
	if st, _ := emu.PipelineState(s.Pipeline.ID); st != ipc.StateReset {
		t.Fatalf("freshly built pipeline in state %s, want reset", st)
	}

	if err := b.Start(s); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st, _ := emu.PipelineState(s.Pipeline.ID); st != ipc.StateRunning {
		t.Fatalf("started pipeline in state %s, want running", st)
	}

	if err := b.Stop(s); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st, _ := emu.PipelineState(s.Pipeline.ID); st != ipc.StateReset {
		t.Fatalf("stopped pipeline in state %s, want reset", st)
	}

	if err := b.Teardown(s); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if n := emu.ModuleCount(); n != 0 {
		t.Errorf("%d module instances left after teardown", n)
	}
	if _, ok := emu.PipelineState(s.Pipeline.ID); ok {
		t.Error("pipeline still present after teardown")
	}
}

func TestBuilderEmbedsGatewayBlob(t *testing.T) {
	t.Log("The link copier carries the NHLT endpoint blob verbatim in its init payload")

	emu := dspemu.New()
	b := startBuilder(t, emu, boardProvider())

	s, err := b.BuildStream(renderSpec())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cfg, ok := emu.ModuleConfig(s.Link.Type, s.Link.Instance)
	if !ok {
		t.Fatal("link copier config not recorded")
	}
	if len(cfg) < 80+len(i2sBlob) {
		t.Fatalf("link copier config only %d bytes", len(cfg))
	}
	if string(cfg[80:80+len(i2sBlob)]) != string(i2sBlob) {
		t.Errorf("blob not embedded at the gateway config offset: % x", cfg[80:])
	}

	hostCfg, _ := emu.ModuleConfig(s.Host.Type, s.Host.Instance)
	if len(hostCfg) != 80 {
		t.Errorf("host copier config is %d bytes, want 80 (no blob)", len(hostCfg))
	}
}

func TestBuilderCaptureBindsLinkToHost(t *testing.T) {
	t.Log("Capture streams flow link copier -> host copier")

	emu := dspemu.New()
	b := startBuilder(t, emu, boardProvider())

	spec := renderSpec()
	spec.Direction = nhlt.DirCapture
	s, err := b.BuildStream(spec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var bind ipc.Message
	found := false
	for _, m := range emu.Requests() {
		if m.Target() == ipc.TargetModule && m.ModuleType() == ipc.ModBind {
			bind, found = m, true
		}
	}
	if !found {
		t.Fatal("no bind request reached the firmware")
	}
	if bind.ModuleID() != s.Link.Type || bind.InstanceID() != s.Link.Instance {
		t.Errorf("bind source is %d:%d, want link copier %d:%d",
			bind.ModuleID(), bind.InstanceID(), s.Link.Type, s.Link.Instance)
	}
	dstModule, dstInstance, _ := bind.BindDst()
	if dstModule != s.Host.Type || dstInstance != s.Host.Instance {
		t.Errorf("bind destination is %d:%d, want host copier %d:%d",
			dstModule, dstInstance, s.Host.Type, s.Host.Instance)
	}
}

func TestBuilderMissingEndpoint(t *testing.T) {
	emu := dspemu.New()
	b := startBuilder(t, emu, nhlt.NewStaticProvider())

	if _, err := b.BuildStream(renderSpec()); !errors.Is(err, nhlt.ErrNoEndpoint) {
		t.Fatalf("got %v, want ErrNoEndpoint", err)
	}
}

func TestBuilderRejectsPDMRender(t *testing.T) {
	emu := dspemu.New()
	prov := nhlt.NewStaticProvider()
	key := nhlt.FormatKey{Rate: 48000, Bits: 16, Channels: 2}
	prov.AddEndpoint(nhlt.LinkPDM, nhlt.DirRender, key, i2sBlob)
	b := startBuilder(t, emu, prov)

	spec := renderSpec()
	spec.Link = nhlt.LinkPDM
	if _, err := b.BuildStream(spec); err == nil {
		t.Fatal("expected error: PDM links are capture only")
	}
}

func TestBuilderPrepareRetriesWhileFirmwareSettles(t *testing.T) {
	t.Log("A firmware that answers busy at first is retried until the catalog arrives")

	emu := dspemu.New()
	ch := ipc.NewChannel(emu)
	emu.SetInterruptHandler(ch.ProcessIRQ)
	t.Cleanup(func() {
		ch.Shutdown()
		emu.Flush()
	})

	emu.SetModuleStatus(ipc.ModLargeConfigGet, ipc.StatusBusy)
	go func() {
		// Let the first attempt fail busy, then clear the status while
		// Prepare is backing off.
		for len(emu.Requests()) == 0 {
			time.Sleep(time.Millisecond)
		}
		emu.SetModuleStatus(ipc.ModLargeConfigGet, ipc.StatusSuccess)
	}()

	b := topology.NewBuilder(dsp.NewController(ch, nil), boardProvider(), nil)
	if err := b.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
}
