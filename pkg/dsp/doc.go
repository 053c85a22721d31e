// Package dsp translates topology-construction intents into IPC requests
// and allocates the small integer instance ids firmware requires.
//
// # Responsibilities
//
//   - Create pipelines and module instances on the DSP
//   - Bind module pins together and drive pipeline run states
//   - Allocate pipeline and per-module-type instance ids (never reused)
//   - Retrieve and parse the firmware's module catalog
//
// The controller is a stateful client of [ipc.Channel]. It owns nothing
// on the firmware side: pipelines and modules are built incrementally
// across multiple round trips and the firmware's state must be assumed
// to match only if every call succeeded.
//
// Id counters are protected by an internal lock, so a single Controller
// may be shared by concurrent callers. Ids are not reclaimed when a
// creation IPC fails; a failed creation leaks its id.
package dsp
