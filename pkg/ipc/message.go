package ipc

import "fmt"

// MailboxBytes is the size of each shared-memory mailbox window.
const MailboxBytes = 4096

// BusyBit is set in a doorbell primary word while the message it carries
// has not yet been consumed by the other side.
const BusyBit uint32 = 1 << 31

// DoneBit is set by the firmware in the outbound extension register once
// it has accepted a request; the host clears it after the round trip.
const DoneBit uint32 = 1 << 30

// Primary word layout, shared by requests, replies and notifications:
//
//	bit  31     busy
//	bit  30     message target (0 = firmware-global, 1 = module)
//	bit  29     direction (1 = request, 0 = reply)
//	bits 28:24  type (global or module opcode)
//	bits 23:0   type-specific (module/instance for requests, status for
//	            replies, notification kind for notifications)
const (
	msgTargetShift = 30
	msgDirShift    = 29
	msgTypeShift   = 24
	msgTypeMask    = 0x1f

	instanceIDShift = 16
	instanceIDMask  = 0xff
	moduleIDMask    = 0xffff

	statusMask = 0xffffff

	notifyKindShift = 16
	notifyKindMask  = 0xff
)

// Extension word layout for the large-config opcodes:
//
//	bit  29     init block
//	bit  28     final block
//	bits 27:20  large parameter id
//	bits 19:0   data offset/size
const (
	initBlockBit      uint32 = 1 << 29
	finalBlockBit     uint32 = 1 << 28
	largeParamIDShift        = 20
	largeParamIDMask         = 0xff
	dataOffSizeMask          = 0xfffff
)

// MaxDataOffSize is the largest single large-config transfer the 20-bit
// offset/size field can describe. Oversized transfers must be rejected
// before the IPC is issued.
const MaxDataOffSize = dataOffSizeMask

// Extension word layout for init-instance:
//
//	bit  28     processing domain
//	bits 27:24  core id
//	bits 23:16  parent pipeline id
//	bits 15:0   parameter block size in 32-bit words
const (
	procDomainShift      = 28
	coreIDShift          = 24
	parentPipelineShift  = 16
	paramBlockSizeMask   = 0xffff
	paramBlockSizeShift  = 0
	coreIDMask           = 0xf
	parentPipelineIDMask = 0xff
)

// Extension word layout for bind/unbind:
//
//	bits 31:28  source queue (pin)
//	bits 27:25  destination queue (pin)
//	bits 23:16  destination instance id
//	bits 15:0   destination module id
const (
	srcQueueShift = 28
	dstQueueShift = 25
	srcQueueMask  = 0xf
	dstQueueMask  = 0x7
)

// Create-pipeline primary low bits:
//
//	bits 23:16  pipeline instance id
//	bits 15:11  priority
//	bits 10:0   memory pages
const (
	pplPriorityShift = 11
	pplPriorityMask  = 0x1f
	pplMemPagesMask  = 0x7ff
)

// Set-pipeline-state primary low bits: state in bits 15:0, pipeline id in
// bits 23:16. Extension bit 0 requests a synchronized stop/start.
const syncStopStartBit uint32 = 1 << 0

// MsgTarget selects between firmware-global and module-addressed messages.
type MsgTarget uint32

const (
	TargetFirmware MsgTarget = 0
	TargetModule   MsgTarget = 1
)

// MsgDir distinguishes requests from replies.
type MsgDir uint32

const (
	DirReply   MsgDir = 0
	DirRequest MsgDir = 1
)

// GlobalType enumerates firmware-global opcodes (primary bits 28:24 when
// the target is the firmware).
type GlobalType uint32

const (
	GlbCreatePipeline   GlobalType = 17
	GlbDeletePipeline   GlobalType = 18
	GlbSetPipelineState GlobalType = 19
	GlbGetPipelineState GlobalType = 20
	GlbNotification     GlobalType = 27
)

// ModuleType enumerates module-addressed opcodes (primary bits 28:24 when
// the target is a module).
type ModuleType uint32

const (
	ModInitInstance   ModuleType = 0
	ModConfigGet      ModuleType = 1
	ModConfigSet      ModuleType = 2
	ModLargeConfigGet ModuleType = 3
	ModLargeConfigSet ModuleType = 4
	ModBind           ModuleType = 5
	ModUnbind         ModuleType = 6
	ModDeleteInstance ModuleType = 11
)

// Status is the firmware status code carried in a reply's primary word.
type Status uint32

const (
	StatusSuccess            Status = 0
	StatusErrorInvalidParam  Status = 1
	StatusUnknownMessageType Status = 2
	StatusOutOfMemory        Status = 3
	StatusBusy               Status = 4
	StatusPending            Status = 5
	StatusFailure            Status = 6
	StatusInvalidRequest     Status = 7
)

// String returns a short name for logging. Unknown codes are printed
// numerically; the full enumeration lives in firmware.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusErrorInvalidParam:
		return "invalid-param"
	case StatusUnknownMessageType:
		return "unknown-message-type"
	case StatusOutOfMemory:
		return "out-of-memory"
	case StatusBusy:
		return "busy"
	case StatusPending:
		return "pending"
	case StatusFailure:
		return "failure"
	case StatusInvalidRequest:
		return "invalid-request"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// NotificationKind identifies an unsolicited firmware notification.
type NotificationKind uint32

const (
	NotifyPhraseDetected     NotificationKind = 4
	NotifyResourceEvent      NotificationKind = 5
	NotifyLogBufferStatus    NotificationKind = 6
	NotifyTimestampCaptured  NotificationKind = 7
	NotifyFirmwareReady      NotificationKind = 8
	NotifyWatchdogTimeout    NotificationKind = 9
	NotifyExceptionCaught    NotificationKind = 10
)

// String returns a short name for logging.
func (k NotificationKind) String() string {
	switch k {
	case NotifyPhraseDetected:
		return "phrase-detected"
	case NotifyResourceEvent:
		return "resource-event"
	case NotifyLogBufferStatus:
		return "log-buffer-status"
	case NotifyTimestampCaptured:
		return "timestamp-captured"
	case NotifyFirmwareReady:
		return "firmware-ready"
	case NotifyWatchdogTimeout:
		return "watchdog-timeout"
	case NotifyExceptionCaught:
		return "exception-caught"
	default:
		return fmt.Sprintf("notification(%d)", uint32(k))
	}
}

// ProcDomain selects the firmware scheduling domain for a module instance.
type ProcDomain uint32

const (
	DomainLowLatency ProcDomain = 0
	DomainDataProc   ProcDomain = 1
)

// PipelineState is a firmware pipeline run state. Transitions are
// firmware-defined: starting requires PAUSED then RUNNING, stopping
// requires PAUSED then RESET.
type PipelineState uint32

const (
	StateReset   PipelineState = 2
	StatePaused  PipelineState = 3
	StateRunning PipelineState = 4
)

// String returns a short name for logging.
func (s PipelineState) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Message is one IPC message: a primary/extension word pair. The encoding
// is bit-exact against the firmware; construct messages with the New*
// helpers and treat them as immutable.
type Message struct {
	Primary   uint32
	Extension uint32
}

func request(target MsgTarget, typ uint32, low uint32, extension uint32) Message {
	return Message{
		Primary: uint32(target)<<msgTargetShift |
			uint32(DirRequest)<<msgDirShift |
			(typ&msgTypeMask)<<msgTypeShift |
			low&statusMask,
		Extension: extension,
	}
}

func moduleRequest(typ ModuleType, module uint16, instance uint8, extension uint32) Message {
	low := uint32(instance)<<instanceIDShift | uint32(module)
	return request(TargetModule, uint32(typ), low, extension)
}

// NewCreatePipeline builds a create-pipeline request for the given
// pipeline instance id, scheduling priority, memory budget in pages and
// low-power flag.
func NewCreatePipeline(pipeline uint8, priority uint8, memPages uint16, lowPower bool) Message {
	low := uint32(pipeline)<<instanceIDShift |
		uint32(priority&pplPriorityMask)<<pplPriorityShift |
		uint32(memPages)&pplMemPagesMask
	var ext uint32
	if lowPower {
		ext = 1
	}
	return request(TargetFirmware, uint32(GlbCreatePipeline), low, ext)
}

// NewDeletePipeline builds a delete-pipeline request.
func NewDeletePipeline(pipeline uint8) Message {
	return request(TargetFirmware, uint32(GlbDeletePipeline), uint32(pipeline)<<instanceIDShift, 0)
}

// NewSetPipelineState builds a set-pipeline-state request. syncStopStart
// asks firmware to synchronize the transition with the stream start/stop.
func NewSetPipelineState(pipeline uint8, state PipelineState, syncStopStart bool) Message {
	low := uint32(pipeline)<<instanceIDShift | uint32(state)&moduleIDMask
	var ext uint32
	if syncStopStart {
		ext = syncStopStartBit
	}
	return request(TargetFirmware, uint32(GlbSetPipelineState), low, ext)
}

// NewInitInstance builds an init-instance request creating instance
// `instance` of module type `module` inside `pipeline` on core 0.
// paramDwords is the length of the accompanying config payload in 32-bit
// words.
func NewInitInstance(module uint16, instance uint8, pipeline uint8, core uint8, domain ProcDomain, paramDwords uint16) Message {
	ext := uint32(paramDwords) |
		uint32(pipeline)<<parentPipelineShift |
		uint32(core&coreIDMask)<<coreIDShift |
		uint32(domain)<<procDomainShift
	return moduleRequest(ModInitInstance, module, instance, ext)
}

// NewDeleteInstance builds a delete-instance request.
func NewDeleteInstance(module uint16, instance uint8) Message {
	return moduleRequest(ModDeleteInstance, module, instance, 0)
}

// NewBind builds a bind request connecting srcPin of the source module
// instance to dstPin of the destination. The source is addressed by the
// primary word, the destination by the extension.
func NewBind(srcModule uint16, srcInstance uint8, srcPin uint8, dstModule uint16, dstInstance uint8, dstPin uint8) Message {
	ext := uint32(dstModule) |
		uint32(dstInstance)<<instanceIDShift |
		uint32(dstPin&dstQueueMask)<<dstQueueShift |
		uint32(srcPin&srcQueueMask)<<srcQueueShift
	return moduleRequest(ModBind, srcModule, srcInstance, ext)
}

// NewUnbind builds an unbind request, the mirror of [NewBind].
func NewUnbind(srcModule uint16, srcInstance uint8, srcPin uint8, dstModule uint16, dstInstance uint8, dstPin uint8) Message {
	ext := uint32(dstModule) |
		uint32(dstInstance)<<instanceIDShift |
		uint32(dstPin&dstQueueMask)<<dstQueueShift |
		uint32(srcPin&srcQueueMask)<<srcQueueShift
	return moduleRequest(ModUnbind, srcModule, srcInstance, ext)
}

// NewLargeConfigGet builds a single-block large-config-get request for
// the given large parameter id, asking for at most size bytes. Both the
// init and final block flags are set: multi-block transfers are not used.
func NewLargeConfigGet(module uint16, instance uint8, param uint8, size uint32) Message {
	ext := size&dataOffSizeMask |
		uint32(param)<<largeParamIDShift |
		initBlockBit | finalBlockBit
	return moduleRequest(ModLargeConfigGet, module, instance, ext)
}

// NewReply builds the reply to req carrying the given status. Used by the
// firmware emulator; hardware composes the same layout.
func NewReply(req Message, status Status) Message {
	return Message{
		Primary: req.Primary&(1<<msgTargetShift|msgTypeMask<<msgTypeShift) |
			uint32(DirReply)<<msgDirShift |
			uint32(status)&statusMask,
	}
}

// NewLargeConfigReply builds the reply to a large-config-get request,
// declaring size bytes of data placed at the start of the inbound
// mailbox. Single-block: init and final are both set.
func NewLargeConfigReply(req Message, status Status, size uint32) Message {
	m := NewReply(req, status)
	m.Extension = size&dataOffSizeMask |
		uint32(req.LargeParamID())<<largeParamIDShift |
		initBlockBit | finalBlockBit
	return m
}

// NewNotification builds an unsolicited firmware notification.
func NewNotification(kind NotificationKind) Message {
	low := uint32(kind&notifyKindMask) << notifyKindShift
	return request(TargetFirmware, uint32(GlbNotification), low, 0)
}

// Target reports whether the message is firmware-global or
// module-addressed.
func (m Message) Target() MsgTarget {
	return MsgTarget(m.Primary >> msgTargetShift & 1)
}

// Dir reports the message direction.
func (m Message) Dir() MsgDir {
	return MsgDir(m.Primary >> msgDirShift & 1)
}

// Type returns the raw 5-bit opcode, meaningful per Target.
func (m Message) Type() uint32 {
	return m.Primary >> msgTypeShift & msgTypeMask
}

// GlobalType returns the opcode as a firmware-global type.
func (m Message) GlobalType() GlobalType { return GlobalType(m.Type()) }

// ModuleType returns the opcode as a module-addressed type.
func (m Message) ModuleType() ModuleType { return ModuleType(m.Type()) }

// ModuleID returns the module type code of a module-addressed request.
func (m Message) ModuleID() uint16 {
	return uint16(m.Primary & moduleIDMask)
}

// InstanceID returns the instance (or pipeline) id field.
func (m Message) InstanceID() uint8 {
	return uint8(m.Primary >> instanceIDShift & instanceIDMask)
}

// Status returns the firmware status code of a reply.
func (m Message) Status() Status {
	return Status(m.Primary & statusMask)
}

// NotificationKind returns the kind field of a notification message.
func (m Message) NotificationKind() NotificationKind {
	return NotificationKind(m.Primary >> notifyKindShift & notifyKindMask)
}

// PipelineState returns the state field of a set-pipeline-state request.
func (m Message) PipelineState() PipelineState {
	return PipelineState(m.Primary & moduleIDMask)
}

// SyncStopStart reports the synchronized stop/start flag of a
// set-pipeline-state request.
func (m Message) SyncStopStart() bool {
	return m.Extension&syncStopStartBit != 0
}

// DataOffSize returns the 20-bit data offset/size field of a large-config
// message's extension word.
func (m Message) DataOffSize() uint32 {
	return m.Extension & dataOffSizeMask
}

// LargeParamID returns the large parameter id of a large-config message.
func (m Message) LargeParamID() uint8 {
	return uint8(m.Extension >> largeParamIDShift & largeParamIDMask)
}

// InitBlock reports the init-block flag of a large-config message.
func (m Message) InitBlock() bool { return m.Extension&initBlockBit != 0 }

// FinalBlock reports the final-block flag of a large-config message.
func (m Message) FinalBlock() bool { return m.Extension&finalBlockBit != 0 }

// ParamBlockSize returns the config payload length, in 32-bit words, of
// an init-instance request.
func (m Message) ParamBlockSize() uint16 {
	return uint16(m.Extension & paramBlockSizeMask)
}

// ParentPipeline returns the parent pipeline id of an init-instance
// request.
func (m Message) ParentPipeline() uint8 {
	return uint8(m.Extension >> parentPipelineShift & parentPipelineIDMask)
}

// BindDst returns the destination module, instance and pin of a bind
// request; BindSrcPin returns the source pin.
func (m Message) BindDst() (module uint16, instance uint8, pin uint8) {
	return uint16(m.Extension & moduleIDMask),
		uint8(m.Extension >> instanceIDShift & instanceIDMask),
		uint8(m.Extension >> dstQueueShift & dstQueueMask)
}

// BindSrcPin returns the source pin of a bind request.
func (m Message) BindSrcPin() uint8 {
	return uint8(m.Extension >> srcQueueShift & srcQueueMask)
}

// IsNotification reports whether an inbound message is an unsolicited
// firmware notification rather than a reply.
func (m Message) IsNotification() bool {
	return m.Target() == TargetFirmware &&
		m.Dir() == DirRequest &&
		m.GlobalType() == GlbNotification
}

// MatchesRequest reports whether m is the reply to req. The firmware
// echoes the target and opcode of the request it is answering; with the
// single-outstanding-request discipline that is sufficient to pair a
// reply with the oldest queued request.
func (m Message) MatchesRequest(req Message) bool {
	return m.Target() == req.Target() && m.Type() == req.Type()
}

// String formats the word pair for logs.
func (m Message) String() string {
	return fmt.Sprintf("pri=%#08x ext=%#08x", m.Primary, m.Extension)
}
