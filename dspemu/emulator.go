package dspemu

import (
	"log/slog"
	"sync"
	"time"

	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
)

// Option configures an Emulator.
type Option func(*Emulator)

// WithCatalog replaces the default module catalog.
func WithCatalog(entries []dsp.ModuleEntry) Option {
	return func(e *Emulator) {
		e.catalog = append([]dsp.ModuleEntry(nil), entries...)
	}
}

// WithFirmwareVersion sets the version reported via firmware config.
func WithFirmwareVersion(v dsp.FirmwareVersion) Option {
	return func(e *Emulator) {
		e.fwVersion = v
	}
}

// WithLatency delays each reply, simulating firmware processing time.
func WithLatency(d time.Duration) Option {
	return func(e *Emulator) {
		e.latency = d
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emulator) {
		e.log = l
	}
}

// WithGlobalStatus injects a status answered for a firmware-global
// opcode, overriding normal handling.
func WithGlobalStatus(t ipc.GlobalType, st ipc.Status) Option {
	return func(e *Emulator) {
		e.globalStatus[t] = st
	}
}

// WithModuleStatus injects a status answered for a module opcode.
func WithModuleStatus(t ipc.ModuleType, st ipc.Status) Option {
	return func(e *Emulator) {
		e.moduleStatus[t] = st
	}
}

// WithLooseTransitions disables pipeline state-transition checking.
func WithLooseTransitions() Option {
	return func(e *Emulator) {
		e.strict = false
	}
}

type moduleKey struct {
	module   uint16
	instance uint8
}

type pipelineState struct {
	state    ipc.PipelineState
	priority uint8
	memPages uint16
	lowPower bool
}

type moduleState struct {
	pipeline uint8
	config   []byte
}

// Emulator is a register-level software model of the DSP firmware. It is
// safe for concurrent use; replies are raised asynchronously so the
// driver's locks are never re-entered.
type Emulator struct {
	log     *slog.Logger
	latency time.Duration

	mu sync.Mutex

	// Doorbell register file. The outbound pair holds the host's current
	// request; the inbound pair holds the firmware's reply or
	// notification until the host acks it.
	outPrimary, outExtension uint32
	inPrimary, inExtension   uint32
	inBusy                   bool
	done                     bool

	// The windows are ipc.Mailbox instances over these buffers; the
	// firmware side accesses the raw buffers directly.
	outBuf, inBuf []byte
	outWin        *ipc.Mailbox
	inWin         *ipc.Mailbox

	irq func()

	catalog      []dsp.ModuleEntry
	fwVersion    dsp.FirmwareVersion
	globalStatus map[ipc.GlobalType]ipc.Status
	moduleStatus map[ipc.ModuleType]ipc.Status
	strict       bool
	mute         bool

	pipelines map[uint8]*pipelineState
	modules   map[moduleKey]*moduleState

	requests []ipc.Message

	replyWG sync.WaitGroup
}

// New creates an emulator with the default module catalog.
func New(opts ...Option) *Emulator {
	outBuf := make([]byte, ipc.MailboxBytes)
	inBuf := make([]byte, ipc.MailboxBytes)
	outWin, _ := ipc.NewOutboundMailbox(outBuf)
	inWin, _ := ipc.NewInboundMailbox(inBuf)
	e := &Emulator{
		log:          slog.Default(),
		outBuf:       outBuf,
		inBuf:        inBuf,
		outWin:       outWin,
		inWin:        inWin,
		catalog:      DefaultCatalog(),
		fwVersion:    DefaultFirmwareVersion,
		globalStatus: make(map[ipc.GlobalType]ipc.Status),
		moduleStatus: make(map[ipc.ModuleType]ipc.Status),
		strict:       true,
		pipelines:    make(map[uint8]*pipelineState),
		modules:      make(map[moduleKey]*moduleState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetInterruptHandler registers the function invoked when the emulated
// firmware raises an interrupt. Tests wire it to Channel.ProcessIRQ. The
// handler runs on the emulator's reply goroutine, never on the caller's.
func (e *Emulator) SetInterruptHandler(fn func()) {
	e.mu.Lock()
	e.irq = fn
	e.mu.Unlock()
}

// SetMute suppresses (true) or restores (false) replies. Requests are
// still recorded; muted requests are never answered, which is how tests
// exercise the driver's timeout path.
func (e *Emulator) SetMute(mute bool) {
	e.mu.Lock()
	e.mute = mute
	e.mu.Unlock()
}

// SetModuleStatus updates a module-opcode status override at runtime.
// Pass StatusSuccess to clear it.
func (e *Emulator) SetModuleStatus(t ipc.ModuleType, st ipc.Status) {
	e.mu.Lock()
	if st == ipc.StatusSuccess {
		delete(e.moduleStatus, t)
	} else {
		e.moduleStatus[t] = st
	}
	e.mu.Unlock()
}

// Notify raises an unsolicited firmware notification.
func (e *Emulator) Notify(kind ipc.NotificationKind) {
	msg := ipc.NewNotification(kind)
	e.mu.Lock()
	e.inPrimary = msg.Primary | ipc.BusyBit
	e.inExtension = msg.Extension
	e.inBusy = true
	irq := e.irq
	e.mu.Unlock()
	if irq != nil {
		irq()
	}
}

// Requests returns every doorbell request seen, in submission order.
func (e *Emulator) Requests() []ipc.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ipc.Message(nil), e.requests...)
}

// PipelineState reports a pipeline's current run state.
func (e *Emulator) PipelineState(id uint8) (ipc.PipelineState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[id]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// ModuleCount returns the number of live module instances.
func (e *Emulator) ModuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.modules)
}

// ModuleConfig returns the init payload a module instance was created
// with.
func (e *Emulator) ModuleConfig(module uint16, instance uint8) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.modules[moduleKey{module, instance}]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), m.config...), true
}

// Flush waits for all in-flight replies to be raised. Tests call it
// before asserting on recorded state.
func (e *Emulator) Flush() {
	e.replyWG.Wait()
}

// --- ipc.Hardware ---

// RingDoorbell accepts a host request. The reply is raised
// asynchronously so the driver's channel lock is never re-entered.
func (e *Emulator) RingDoorbell(primary, extension uint32) {
	msg := ipc.Message{Primary: primary &^ ipc.BusyBit, Extension: extension}

	e.mu.Lock()
	e.outPrimary = primary
	e.outExtension = extension
	e.requests = append(e.requests, msg)
	payload := e.snapshotPayloadLocked(msg)
	e.mu.Unlock()

	e.replyWG.Add(1)
	go e.respond(msg, payload)
}

// snapshotPayloadLocked copies the request's payload out of the outbound
// window before the host can reuse it for a later request.
func (e *Emulator) snapshotPayloadLocked(msg ipc.Message) []byte {
	var n uint32
	if msg.Target() == ipc.TargetModule {
		switch msg.ModuleType() {
		case ipc.ModInitInstance:
			n = uint32(msg.ParamBlockSize()) * 4
		case ipc.ModLargeConfigSet:
			n = msg.DataOffSize()
		}
	}
	if n == 0 {
		return nil
	}
	if n > ipc.MailboxBytes {
		n = ipc.MailboxBytes
	}
	return append([]byte(nil), e.outBuf[:n]...)
}

// InboundMessage reads the inbound doorbell pair.
func (e *Emulator) InboundMessage() (ipc.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inBusy {
		return ipc.Message{}, false
	}
	return ipc.Message{Primary: e.inPrimary &^ ipc.BusyBit, Extension: e.inExtension}, true
}

// AckInbound clears the inbound busy bit.
func (e *Emulator) AckInbound() {
	e.mu.Lock()
	e.inBusy = false
	e.mu.Unlock()
}

// AckDone clears the target-done bit.
func (e *Emulator) AckDone() {
	e.mu.Lock()
	e.done = false
	e.mu.Unlock()
}

// WriteMailbox copies a request payload into the outbound window.
func (e *Emulator) WriteMailbox(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outWin.Write(p)
}

// ReadMailbox copies reply data out of the inbound window.
func (e *Emulator) ReadMailbox(off, size uint32, dst []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inWin.Read(off, size, dst)
}

// --- firmware model ---

func (e *Emulator) respond(msg ipc.Message, payload []byte) {
	defer e.replyWG.Done()

	if e.latency > 0 {
		time.Sleep(e.latency)
	}

	e.mu.Lock()
	if e.mute {
		e.mu.Unlock()
		e.log.Debug("emulator muted, dropping request", "request", msg.String())
		return
	}
	status, data := e.handleLocked(msg, payload)

	reply := ipc.NewReply(msg, status)
	if msg.Target() == ipc.TargetModule && msg.ModuleType() == ipc.ModLargeConfigGet && status == ipc.StatusSuccess {
		copy(e.inBuf, data)
		reply = ipc.NewLargeConfigReply(msg, status, uint32(len(data)))
	}
	e.inPrimary = reply.Primary | ipc.BusyBit
	e.inExtension = reply.Extension
	e.inBusy = true
	e.done = true
	irq := e.irq
	e.mu.Unlock()

	if irq != nil {
		irq()
	}
}

func (e *Emulator) handleLocked(msg ipc.Message, payload []byte) (ipc.Status, []byte) {
	if msg.Target() == ipc.TargetFirmware {
		if st, ok := e.globalStatus[msg.GlobalType()]; ok {
			return st, nil
		}
		return e.handleGlobalLocked(msg), nil
	}
	if st, ok := e.moduleStatus[msg.ModuleType()]; ok {
		return st, nil
	}
	return e.handleModuleLocked(msg, payload)
}

func (e *Emulator) handleGlobalLocked(msg ipc.Message) ipc.Status {
	switch msg.GlobalType() {
	case ipc.GlbCreatePipeline:
		id := msg.InstanceID()
		if _, exists := e.pipelines[id]; exists {
			return ipc.StatusInvalidRequest
		}
		e.pipelines[id] = &pipelineState{
			state:    ipc.StateReset,
			memPages: uint16(msg.Primary & 0x7ff),
			lowPower: msg.Extension&1 != 0,
		}
		return ipc.StatusSuccess

	case ipc.GlbDeletePipeline:
		id := msg.InstanceID()
		p, exists := e.pipelines[id]
		if !exists {
			return ipc.StatusInvalidRequest
		}
		if e.strict && p.state != ipc.StateReset {
			return ipc.StatusInvalidRequest
		}
		for k, m := range e.modules {
			if m.pipeline == id {
				delete(e.modules, k)
			}
		}
		delete(e.pipelines, id)
		return ipc.StatusSuccess

	case ipc.GlbSetPipelineState:
		p, exists := e.pipelines[msg.InstanceID()]
		if !exists {
			return ipc.StatusInvalidRequest
		}
		next := msg.PipelineState()
		if e.strict && !validTransition(p.state, next) {
			e.log.Debug("rejecting pipeline transition",
				"pipeline", msg.InstanceID(), "from", p.state.String(), "to", next.String())
			return ipc.StatusInvalidRequest
		}
		p.state = next
		return ipc.StatusSuccess

	case ipc.GlbGetPipelineState:
		if _, exists := e.pipelines[msg.InstanceID()]; !exists {
			return ipc.StatusInvalidRequest
		}
		return ipc.StatusSuccess

	default:
		return ipc.StatusUnknownMessageType
	}
}

func (e *Emulator) handleModuleLocked(msg ipc.Message, payload []byte) (ipc.Status, []byte) {
	switch msg.ModuleType() {
	case ipc.ModInitInstance:
		if _, exists := e.pipelines[msg.ParentPipeline()]; !exists {
			return ipc.StatusInvalidRequest, nil
		}
		if !e.catalogHas(msg.ModuleID()) {
			return ipc.StatusErrorInvalidParam, nil
		}
		key := moduleKey{msg.ModuleID(), msg.InstanceID()}
		if _, exists := e.modules[key]; exists {
			return ipc.StatusInvalidRequest, nil
		}
		e.modules[key] = &moduleState{pipeline: msg.ParentPipeline(), config: payload}
		return ipc.StatusSuccess, nil

	case ipc.ModDeleteInstance:
		key := moduleKey{msg.ModuleID(), msg.InstanceID()}
		if _, exists := e.modules[key]; !exists {
			return ipc.StatusInvalidRequest, nil
		}
		delete(e.modules, key)
		return ipc.StatusSuccess, nil

	case ipc.ModBind, ipc.ModUnbind:
		src := moduleKey{msg.ModuleID(), msg.InstanceID()}
		dstModule, dstInstance, _ := msg.BindDst()
		dst := moduleKey{dstModule, dstInstance}
		if _, ok := e.modules[src]; !ok {
			return ipc.StatusInvalidRequest, nil
		}
		if _, ok := e.modules[dst]; !ok {
			return ipc.StatusInvalidRequest, nil
		}
		return ipc.StatusSuccess, nil

	case ipc.ModLargeConfigGet:
		return e.largeConfigGetLocked(msg)

	default:
		return ipc.StatusUnknownMessageType, nil
	}
}

func (e *Emulator) largeConfigGetLocked(msg ipc.Message) (ipc.Status, []byte) {
	var data []byte
	switch msg.LargeParamID() {
	case dsp.LargeParamModulesInfo:
		data = dsp.EncodeModulesInfo(e.catalog)
	case dsp.LargeParamFirmwareConfig:
		data = dsp.EncodeFirmwareConfig(e.fwVersion)
	default:
		return ipc.StatusErrorInvalidParam, nil
	}
	if uint32(len(data)) > msg.DataOffSize() || len(data) > ipc.MailboxBytes {
		return ipc.StatusOutOfMemory, nil
	}
	return ipc.StatusSuccess, data
}

func (e *Emulator) catalogHas(moduleID uint16) bool {
	for _, entry := range e.catalog {
		if entry.ModuleID == moduleID {
			return true
		}
	}
	return false
}

// validTransition encodes the firmware's pipeline state machine:
// starting visits PAUSED before RUNNING and stopping visits PAUSED
// before RESET.
func validTransition(from, to ipc.PipelineState) bool {
	if from == to {
		return true
	}
	switch from {
	case ipc.StateReset:
		return to == ipc.StatePaused
	case ipc.StatePaused:
		return to == ipc.StateRunning || to == ipc.StateReset
	case ipc.StateRunning:
		return to == ipc.StatePaused
	default:
		return false
	}
}
