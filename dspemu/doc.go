// Package dspemu emulates the audio DSP firmware at the register level.
//
// The emulator implements [ipc.Hardware]: it decodes doorbell writes with
// the same message codec the driver uses, keeps firmware-side pipeline
// and module state, writes replies to the inbound doorbell pair and
// raises a simulated interrupt. Tests wire that interrupt to
// [ipc.Channel.ProcessIRQ]; galliumctl uses the emulator when no
// hardware is present.
//
// Behavior is configurable for fault testing: per-opcode status
// overrides, reply suppression (for timeout paths), reply latency and
// unsolicited notification injection. Every doorbell request is recorded
// in submission order for inspection.
package dspemu
