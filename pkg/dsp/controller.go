package dsp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/galliumaudio/gallium/pkg/ipc"
)

// Firmware supports 8-bit pipeline and module instance ids.
const (
	MaxPipelineID = 255
	MaxInstanceID = 255
)

// The base firmware pseudo-module answers large-config queries for
// firmware-global parameters.
const (
	baseFirmwareModule   uint16 = 0
	baseFirmwareInstance uint8  = 0
)

// coreID is fixed: only core 0 bring-up is supported.
const coreID uint8 = 0

var (
	// ErrPipelinesExhausted is returned by CreatePipeline once all 256
	// pipeline ids have been handed out. Ids are never reclaimed.
	ErrPipelinesExhausted = errors.New("dsp: pipeline ids exhausted")

	// ErrInstancesExhausted is returned by CreateModule once a module
	// type's 256 instance ids have been handed out.
	ErrInstancesExhausted = errors.New("dsp: module instance ids exhausted")

	// ErrInvalidConfig is returned for a module config payload whose
	// length is not a multiple of the 4-byte wire word or does not fit
	// the 16-bit word-count field.
	ErrInvalidConfig = errors.New("dsp: invalid module config payload")
)

// PipelineID is an opaque handle to a firmware pipeline. Unique only
// among pipelines allocated by this controller instance.
type PipelineID struct {
	ID uint8
}

// ModuleID is an opaque handle to a firmware module instance.
type ModuleID struct {
	Type     uint16
	Instance uint8
}

// Controller issues module and pipeline management IPC. Safe for
// concurrent use; id allocation is serialized by an internal lock while
// the IPC itself goes through the channel's FIFO queue.
type Controller struct {
	ch  ipc.Channel
	log *slog.Logger

	mu           sync.Mutex
	nextPipeline int
	nextInstance map[uint16]int
}

// NewController creates a controller over ch. Logger may be nil.
func NewController(ch ipc.Channel, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		ch:           ch,
		log:          log,
		nextInstance: make(map[uint16]int),
	}
}

// CreatePipeline asks firmware to create a pipeline with the given
// scheduling priority, memory budget in pages and low-power flag, and
// returns its freshly allocated id. The id is consumed even if the
// firmware rejects the request.
func (c *Controller) CreatePipeline(priority uint8, memPages uint16, lowPower bool) (PipelineID, error) {
	c.mu.Lock()
	if c.nextPipeline > MaxPipelineID {
		c.mu.Unlock()
		return PipelineID{}, ErrPipelinesExhausted
	}
	id := uint8(c.nextPipeline)
	c.nextPipeline++
	c.mu.Unlock()

	msg := ipc.NewCreatePipeline(id, priority, memPages, lowPower)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return PipelineID{}, fmt.Errorf("create pipeline %d: %w", id, err)
	}
	c.log.Debug("created pipeline", "pipeline", id, "priority", priority,
		"mem_pages", memPages, "low_power", lowPower)
	return PipelineID{ID: id}, nil
}

// DeletePipeline asks firmware to delete a pipeline. The pipeline must be
// in the RESET state. Its id is not returned to the allocation pool.
func (c *Controller) DeletePipeline(p PipelineID) error {
	msg := ipc.NewDeletePipeline(p.ID)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return fmt.Errorf("delete pipeline %d: %w", p.ID, err)
	}
	return nil
}

// CreateModule creates an instance of the given module type inside
// pipeline, carrying config as the init-instance payload. config length
// must be a multiple of 4 bytes and fit the 16-bit word-count field.
func (c *Controller) CreateModule(moduleType uint16, pipeline PipelineID, domain ipc.ProcDomain, config []byte) (ModuleID, error) {
	if len(config)%4 != 0 {
		return ModuleID{}, fmt.Errorf("%w: length %d is not word aligned", ErrInvalidConfig, len(config))
	}
	words := len(config) / 4
	if words > 0xffff {
		return ModuleID{}, fmt.Errorf("%w: %d words exceeds 16-bit limit", ErrInvalidConfig, words)
	}

	c.mu.Lock()
	if c.nextInstance[moduleType] > MaxInstanceID {
		c.mu.Unlock()
		return ModuleID{}, fmt.Errorf("%w: module type %d", ErrInstancesExhausted, moduleType)
	}
	instance := uint8(c.nextInstance[moduleType])
	c.nextInstance[moduleType]++
	c.mu.Unlock()

	msg := ipc.NewInitInstance(moduleType, instance, pipeline.ID, coreID, domain, uint16(words))
	if _, err := c.ch.SendWithData(msg.Primary, msg.Extension, config, nil); err != nil {
		return ModuleID{}, fmt.Errorf("init module %d instance %d: %w", moduleType, instance, err)
	}
	c.log.Debug("created module instance", "module", moduleType,
		"instance", instance, "pipeline", pipeline.ID)
	return ModuleID{Type: moduleType, Instance: instance}, nil
}

// DeleteModule asks firmware to delete a module instance. Its instance id
// is not returned to the allocation pool.
func (c *Controller) DeleteModule(m ModuleID) error {
	msg := ipc.NewDeleteInstance(m.Type, m.Instance)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return fmt.Errorf("delete module %d instance %d: %w", m.Type, m.Instance, err)
	}
	return nil
}

// BindModules connects srcPin of src to dstPin of dst. No local state is
// tracked; the firmware validates the connection.
func (c *Controller) BindModules(src ModuleID, srcPin uint8, dst ModuleID, dstPin uint8) error {
	msg := ipc.NewBind(src.Type, src.Instance, srcPin, dst.Type, dst.Instance, dstPin)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return fmt.Errorf("bind %d:%d pin %d -> %d:%d pin %d: %w",
			src.Type, src.Instance, srcPin, dst.Type, dst.Instance, dstPin, err)
	}
	return nil
}

// UnbindModules disconnects a connection made by BindModules. Firmware
// requires connections to be unbound before either end is deleted.
func (c *Controller) UnbindModules(src ModuleID, srcPin uint8, dst ModuleID, dstPin uint8) error {
	msg := ipc.NewUnbind(src.Type, src.Instance, srcPin, dst.Type, dst.Instance, dstPin)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return fmt.Errorf("unbind %d:%d pin %d -> %d:%d pin %d: %w",
			src.Type, src.Instance, srcPin, dst.Type, dst.Instance, dstPin, err)
	}
	return nil
}

// SetPipelineState drives a pipeline run-state transition. Valid
// transitions are firmware-defined; callers sequence them (start is
// PAUSED then RUNNING, stop is PAUSED then RESET).
func (c *Controller) SetPipelineState(p PipelineID, state ipc.PipelineState, syncStopStart bool) error {
	msg := ipc.NewSetPipelineState(p.ID, state, syncStopStart)
	if err := c.ch.Send(msg.Primary, msg.Extension); err != nil {
		return fmt.Errorf("set pipeline %d state %s: %w", p.ID, state, err)
	}
	return nil
}
