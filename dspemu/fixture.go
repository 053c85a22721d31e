package dspemu

import "github.com/galliumaudio/gallium/pkg/dsp"

// DefaultFirmwareVersion is reported when no override is configured.
var DefaultFirmwareVersion = dsp.FirmwareVersion{Major: 2, Minor: 9, Hotfix: 0, Build: 4096}

// DefaultCatalog returns the module catalog used when no fixture is
// provided: the handful of module types a basic playback/capture
// topology needs.
func DefaultCatalog() []dsp.ModuleEntry {
	return []dsp.ModuleEntry{
		catalogEntry(0, "BASEFW", 1),
		catalogEntry(1, "COPIER", 16),
		catalogEntry(2, "MIXIN", 8),
		catalogEntry(3, "MIXOUT", 8),
		catalogEntry(4, "GAIN", 8),
		catalogEntry(5, "SRC", 4),
	}
}

func catalogEntry(id uint16, name string, maxInstances uint16) dsp.ModuleEntry {
	e := dsp.ModuleEntry{
		ModuleID:          id,
		Name:              name,
		InstanceMaxCount:  maxInstances,
		InstanceStackSize: 4096,
		AffinityMask:      1, // core 0
	}
	for i := range e.UUID {
		e.UUID[i] = byte(id)
	}
	return e
}
