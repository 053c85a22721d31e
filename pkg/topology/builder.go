// Package topology builds concrete audio pipelines on the DSP.
//
// A stream pipeline is two copier modules inside one firmware pipeline:
// a host-gateway copier moving samples across the host DMA engine and a
// link-gateway copier moving them onto the physical link, bound
// back-to-back. The link copier's gateway blob comes from the platform's
// topology table ([nhlt.Provider]).
//
// The builder sequences controller calls; it owns no firmware state
// beyond the handles it returns. Run-state sequencing (start requires
// PAUSED then RUNNING, stop requires PAUSED then RESET) lives here, not
// in the controller.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
	"github.com/galliumaudio/gallium/pkg/nhlt"
)

// copierModuleName is the catalog name of the firmware's copier module.
const copierModuleName = "COPIER"

// defaultMemPages is the pipeline memory budget used when a spec leaves
// it zero.
const defaultMemPages = 4

// copierCPC is the cycles-per-chunk budget reported to firmware for a
// plain copier.
const copierCPC = 100000

// ErrNotPrepared is returned by BuildStream before Prepare has read the
// module catalog.
var ErrNotPrepared = errors.New("topology: builder not prepared")

// StreamSpec describes one stream pipeline to build.
type StreamSpec struct {
	Direction nhlt.Direction
	Link      nhlt.LinkType
	Format    AudioFormat

	// HostDMA and LinkDMA select the gateway DMA channel/instance on each
	// side.
	HostDMA uint8
	LinkDMA uint8

	Priority uint8
	MemPages uint16
	LowPower bool
}

// Stream is a built pipeline: the firmware handles needed to run and
// tear it down.
type Stream struct {
	Pipeline  dsp.PipelineID
	Host      dsp.ModuleID
	Link      dsp.ModuleID
	Direction nhlt.Direction
}

// Builder sequences controller calls to build playback and capture
// pipelines for a board.
type Builder struct {
	ctrl *dsp.Controller
	prov nhlt.Provider
	log  *slog.Logger

	copier   dsp.ModuleEntry
	prepared bool
}

// NewBuilder creates a builder. Logger may be nil.
func NewBuilder(ctrl *dsp.Controller, prov nhlt.Provider, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{ctrl: ctrl, prov: prov, log: log}
}

// Prepare reads the firmware module catalog and locates the copier
// module. The catalog query is retried while the firmware is still
// settling after boot.
func (b *Builder) Prepare(ctx context.Context) error {
	var catalog map[string]dsp.ModuleEntry
	err := ipc.Retry(ctx, ipc.DefaultRetryConfig(), func() error {
		var err error
		catalog, err = b.ctrl.ReadModuleDetails()
		return err
	})
	if err != nil {
		return fmt.Errorf("topology: read module catalog: %w", err)
	}

	copier, ok := catalog[copierModuleName]
	if !ok {
		return fmt.Errorf("topology: firmware catalog has no %q module", copierModuleName)
	}
	b.copier = copier
	b.prepared = true

	if ver, err := b.ctrl.GetFirmwareVersion(); err == nil {
		b.log.Info("firmware ready", "version", ver.String(), "modules", len(catalog))
	}
	return nil
}

// BuildStream creates the pipeline and both copiers for spec and binds
// them in stream order. The pipeline is left in its created (reset)
// state; call Start to run it.
func (b *Builder) BuildStream(spec StreamSpec) (*Stream, error) {
	if !b.prepared {
		return nil, ErrNotPrepared
	}

	blob, err := b.prov.EndpointConfig(spec.Link, spec.Direction, nhlt.FormatKey{
		Rate:     spec.Format.SamplingFrequency,
		Bits:     uint8(spec.Format.BitDepth),
		Channels: spec.Format.NumberOfChannels,
	})
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}

	memPages := spec.MemPages
	if memPages == 0 {
		memPages = defaultMemPages
	}
	pipeline, err := b.ctrl.CreatePipeline(spec.Priority, memPages, spec.LowPower)
	if err != nil {
		return nil, err
	}

	hostType, linkType, err := gatewayTypes(spec.Link, spec.Direction)
	if err != nil {
		return nil, err
	}

	host, err := b.createCopier(pipeline, spec.Format,
		CopierGatewayCfg{NodeID: GatewayNodeID(hostType, spec.HostDMA), DMABufferSize: b.dmaBufferSize(spec.Format)})
	if err != nil {
		return nil, fmt.Errorf("topology: host copier: %w", err)
	}
	link, err := b.createCopier(pipeline, spec.Format,
		CopierGatewayCfg{NodeID: GatewayNodeID(linkType, spec.LinkDMA), DMABufferSize: b.dmaBufferSize(spec.Format), Config: blob})
	if err != nil {
		return nil, fmt.Errorf("topology: link copier: %w", err)
	}

	// Data flows host->link for playback, link->host for capture.
	src, dst := host, link
	if spec.Direction == nhlt.DirCapture {
		src, dst = link, host
	}
	if err := b.ctrl.BindModules(src, 0, dst, 0); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}

	b.log.Info("built stream pipeline",
		"pipeline", pipeline.ID, "direction", spec.Direction.String(),
		"link", spec.Link.String(), "rate", spec.Format.SamplingFrequency)

	return &Stream{Pipeline: pipeline, Host: host, Link: link, Direction: spec.Direction}, nil
}

// Start runs a built stream: PAUSED first, then RUNNING.
func (b *Builder) Start(s *Stream) error {
	if err := b.ctrl.SetPipelineState(s.Pipeline, ipc.StatePaused, false); err != nil {
		return err
	}
	return b.ctrl.SetPipelineState(s.Pipeline, ipc.StateRunning, true)
}

// Stop halts a running stream: PAUSED first, then RESET. After Stop the
// pipeline may be started again or torn down.
func (b *Builder) Stop(s *Stream) error {
	if err := b.ctrl.SetPipelineState(s.Pipeline, ipc.StatePaused, false); err != nil {
		return err
	}
	return b.ctrl.SetPipelineState(s.Pipeline, ipc.StateReset, true)
}

// Teardown unbinds the stream's copiers and deletes its modules and
// pipeline. The pipeline must be stopped.
func (b *Builder) Teardown(s *Stream) error {
	src, dst := s.Host, s.Link
	if s.Direction == nhlt.DirCapture {
		src, dst = s.Link, s.Host
	}
	if err := b.ctrl.UnbindModules(src, 0, dst, 0); err != nil {
		return err
	}
	if err := b.ctrl.DeleteModule(s.Link); err != nil {
		return err
	}
	if err := b.ctrl.DeleteModule(s.Host); err != nil {
		return err
	}
	return b.ctrl.DeletePipeline(s.Pipeline)
}

func (b *Builder) createCopier(p dsp.PipelineID, format AudioFormat, gw CopierGatewayCfg) (dsp.ModuleID, error) {
	burst := b.dmaBufferSize(format) / 2
	cfg := CopierCfg{
		Base: BaseModuleCfg{
			CPC:      copierCPC,
			IBS:      burst,
			OBS:      burst,
			IsPages:  0,
			AudioFmt: format,
		},
		OutFmt:  format,
		Gateway: gw,
	}
	payload, err := cfg.Marshal()
	if err != nil {
		return dsp.ModuleID{}, err
	}
	return b.ctrl.CreateModule(b.copier.ModuleID, p, ipc.DomainLowLatency, payload)
}

// dmaBufferSize sizes the gateway DMA buffer at two 1ms bursts.
func (b *Builder) dmaBufferSize(f AudioFormat) uint32 {
	return 2 * (f.SamplingFrequency / 1000) * f.frameBytes()
}

// gatewayTypes maps a link class and direction onto the host-side and
// link-side gateway DMA types.
func gatewayTypes(link nhlt.LinkType, dir nhlt.Direction) (host, phys DMAType, err error) {
	if dir == nhlt.DirCapture {
		host = HDAHostInput
	} else {
		host = HDAHostOutput
	}
	switch link {
	case nhlt.LinkSSP:
		if dir == nhlt.DirCapture {
			phys = I2SLinkInput
		} else {
			phys = I2SLinkOutput
		}
	case nhlt.LinkPDM:
		if dir != nhlt.DirCapture {
			return 0, 0, fmt.Errorf("topology: PDM link supports capture only")
		}
		phys = DMICLinkInput
	case nhlt.LinkHDA:
		if dir == nhlt.DirCapture {
			phys = HDALinkInput
		} else {
			phys = HDALinkOutput
		}
	default:
		return 0, 0, fmt.Errorf("topology: unsupported link type %s", link)
	}
	return host, phys, nil
}
