package dsp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/galliumaudio/gallium/pkg/binio"
	"github.com/galliumaudio/gallium/pkg/ipc"
)

// Large parameter ids understood by the base firmware module.
const (
	LargeParamModulesInfo    uint8 = 3
	LargeParamPipelineList   uint8 = 4
	LargeParamFirmwareConfig uint8 = 7
	LargeParamHardwareConfig uint8 = 8
)

// The catalog buffer is sized for a fixed maximum module count so a
// single-block transfer always fits the mailbox.
const (
	maxCatalogModules = 32
	moduleEntryBytes  = 116
	moduleNameBytes   = 8
	catalogHeaderLen  = 4
)

// fwConfigVersion is the TLV id of the firmware version record inside the
// firmware-config parameter.
const fwConfigVersion uint32 = 0

// ErrBadCatalog is returned when the firmware's module catalog reply is
// truncated or contains duplicate names.
var ErrBadCatalog = errors.New("dsp: malformed module catalog")

// SegmentDesc describes one loadable segment of a firmware module.
type SegmentDesc struct {
	Flags      uint32
	VBaseAddr  uint32
	FileOffset uint32
}

// ModuleEntry is one record of the firmware's module catalog: a module
// type available for instantiation, keyed by its short name.
type ModuleEntry struct {
	ModuleID          uint16
	StateFlags        uint16
	Name              string
	UUID              [16]byte
	Type              uint32
	Hash              [32]byte
	EntryPoint        uint32
	CfgOffset         uint16
	CfgCount          uint16
	AffinityMask      uint32
	InstanceMaxCount  uint16
	InstanceStackSize uint16
	Segments          [3]SegmentDesc
}

// ReadModuleDetails retrieves the firmware's module catalog via a
// large-config-get and parses it into a name-keyed map. Fails, never
// partial, on truncated input or a name collision.
func (c *Controller) ReadModuleDetails() (map[string]ModuleEntry, error) {
	buf := make([]byte, catalogHeaderLen+maxCatalogModules*moduleEntryBytes)
	msg := ipc.NewLargeConfigGet(baseFirmwareModule, baseFirmwareInstance,
		LargeParamModulesInfo, uint32(len(buf)))
	n, err := c.ch.SendWithData(msg.Primary, msg.Extension, nil, buf)
	if err != nil {
		return nil, fmt.Errorf("read module catalog: %w", err)
	}
	entries, err := ParseModulesInfo(buf[:n])
	if err != nil {
		return nil, err
	}
	c.log.Debug("read module catalog", "modules", len(entries))
	return entries, nil
}

// ParseModulesInfo decodes a modules-info payload: a 32-bit entry count
// followed by packed module entries.
func ParseModulesInfo(b []byte) (map[string]ModuleEntry, error) {
	d := binio.NewDecoder(b)
	count, err := d.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing entry count", ErrBadCatalog)
	}
	if count > maxCatalogModules {
		return nil, fmt.Errorf("%w: %d entries exceeds maximum %d", ErrBadCatalog, count, maxCatalogModules)
	}

	entries := make(map[string]ModuleEntry, count)
	for i := uint32(0); i < count; i++ {
		e, err := parseModuleEntry(d)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrBadCatalog, i, err)
		}
		if _, dup := entries[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate module name %q", ErrBadCatalog, e.Name)
		}
		entries[e.Name] = e
	}
	return entries, nil
}

func parseModuleEntry(d *binio.Decoder) (ModuleEntry, error) {
	var e ModuleEntry
	var err error

	if e.ModuleID, err = d.Uint16(); err != nil {
		return e, err
	}
	if e.StateFlags, err = d.Uint16(); err != nil {
		return e, err
	}
	if e.Name, err = d.String(moduleNameBytes); err != nil {
		return e, err
	}
	uuid, err := d.Bytes(len(e.UUID))
	if err != nil {
		return e, err
	}
	copy(e.UUID[:], uuid)
	if e.Type, err = d.Uint32(); err != nil {
		return e, err
	}
	hash, err := d.Bytes(len(e.Hash))
	if err != nil {
		return e, err
	}
	copy(e.Hash[:], hash)
	if e.EntryPoint, err = d.Uint32(); err != nil {
		return e, err
	}
	if e.CfgOffset, err = d.Uint16(); err != nil {
		return e, err
	}
	if e.CfgCount, err = d.Uint16(); err != nil {
		return e, err
	}
	if e.AffinityMask, err = d.Uint32(); err != nil {
		return e, err
	}
	if e.InstanceMaxCount, err = d.Uint16(); err != nil {
		return e, err
	}
	if e.InstanceStackSize, err = d.Uint16(); err != nil {
		return e, err
	}
	for i := range e.Segments {
		if e.Segments[i].Flags, err = d.Uint32(); err != nil {
			return e, err
		}
		if e.Segments[i].VBaseAddr, err = d.Uint32(); err != nil {
			return e, err
		}
		if e.Segments[i].FileOffset, err = d.Uint32(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// EncodeModulesInfo builds the wire form of a module catalog. The
// firmware emulator uses it to answer catalog queries; tests use it to
// synthesize replies.
func EncodeModulesInfo(entries []ModuleEntry) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		b = appendModuleEntry(b, e)
	}
	return b
}

func appendModuleEntry(b []byte, e ModuleEntry) []byte {
	le := binary.LittleEndian
	b = le.AppendUint16(b, e.ModuleID)
	b = le.AppendUint16(b, e.StateFlags)
	var name [moduleNameBytes]byte
	copy(name[:], e.Name)
	b = append(b, name[:]...)
	b = append(b, e.UUID[:]...)
	b = le.AppendUint32(b, e.Type)
	b = append(b, e.Hash[:]...)
	b = le.AppendUint32(b, e.EntryPoint)
	b = le.AppendUint16(b, e.CfgOffset)
	b = le.AppendUint16(b, e.CfgCount)
	b = le.AppendUint32(b, e.AffinityMask)
	b = le.AppendUint16(b, e.InstanceMaxCount)
	b = le.AppendUint16(b, e.InstanceStackSize)
	for _, s := range e.Segments {
		b = le.AppendUint32(b, s.Flags)
		b = le.AppendUint32(b, s.VBaseAddr)
		b = le.AppendUint32(b, s.FileOffset)
	}
	return b
}

// FirmwareVersion is the version record from the firmware-config
// parameter.
type FirmwareVersion struct {
	Major  uint16
	Minor  uint16
	Hotfix uint16
	Build  uint16
}

// String formats the version in the firmware's dotted convention.
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Hotfix, v.Build)
}

// GetFirmwareVersion retrieves the firmware-config parameter and extracts
// the version TLV.
func (c *Controller) GetFirmwareVersion() (FirmwareVersion, error) {
	buf := make([]byte, 256)
	msg := ipc.NewLargeConfigGet(baseFirmwareModule, baseFirmwareInstance,
		LargeParamFirmwareConfig, uint32(len(buf)))
	n, err := c.ch.SendWithData(msg.Primary, msg.Extension, nil, buf)
	if err != nil {
		return FirmwareVersion{}, fmt.Errorf("read firmware config: %w", err)
	}
	return ParseFirmwareVersion(buf[:n])
}

// ParseFirmwareVersion walks a firmware-config TLV stream looking for
// the version record.
func ParseFirmwareVersion(b []byte) (FirmwareVersion, error) {
	d := binio.NewDecoder(b)
	for d.Remaining() > 0 {
		id, err := d.Uint32()
		if err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware config: %w", err)
		}
		length, err := d.Uint32()
		if err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware config: %w", err)
		}
		if id != fwConfigVersion {
			if err := d.Skip(int(length)); err != nil {
				return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware config: %w", err)
			}
			continue
		}
		var v FirmwareVersion
		if v.Major, err = d.Uint16(); err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware version: %w", err)
		}
		if v.Minor, err = d.Uint16(); err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware version: %w", err)
		}
		if v.Hotfix, err = d.Uint16(); err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware version: %w", err)
		}
		if v.Build, err = d.Uint16(); err != nil {
			return FirmwareVersion{}, fmt.Errorf("dsp: truncated firmware version: %w", err)
		}
		return v, nil
	}
	return FirmwareVersion{}, errors.New("dsp: firmware config has no version record")
}

// EncodeFirmwareConfig builds a firmware-config TLV stream containing the
// version record. Used by the emulator.
func EncodeFirmwareConfig(v FirmwareVersion) []byte {
	le := binary.LittleEndian
	b := le.AppendUint32(nil, fwConfigVersion)
	b = le.AppendUint32(b, 8)
	b = le.AppendUint16(b, v.Major)
	b = le.AppendUint16(b, v.Minor)
	b = le.AppendUint16(b, v.Hotfix)
	b = le.AppendUint16(b, v.Build)
	return b
}
