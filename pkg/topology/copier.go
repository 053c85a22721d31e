package topology

import (
	"encoding/binary"
	"fmt"
)

// DMAType classifies the gateway a copier module is attached to.
type DMAType uint8

const (
	HDAHostOutput DMAType = 0
	HDAHostInput  DMAType = 1
	HDALinkOutput DMAType = 8
	HDALinkInput  DMAType = 9
	DMICLinkInput DMAType = 10
	I2SLinkOutput DMAType = 12
	I2SLinkInput  DMAType = 13
)

// GatewayNodeID composes the firmware's gateway node id from a DMA type
// and a DMA channel/instance number.
func GatewayNodeID(t DMAType, instance uint8) uint32 {
	return uint32(t)<<8 | uint32(instance)
}

// Channel configuration codes used by firmware for common layouts.
const (
	ChannelConfigMono   uint32 = 0
	ChannelConfigStereo uint32 = 1
)

// InterleavingPerChannel is the only interleaving style this driver
// configures.
const InterleavingPerChannel uint32 = 0

// AudioFormat describes a PCM format the firmware's fixed 24-byte layout.
type AudioFormat struct {
	SamplingFrequency uint32
	BitDepth          uint32
	ChannelMap        uint32
	ChannelConfig     uint32
	InterleavingStyle uint32
	NumberOfChannels  uint8
	ValidBitDepth     uint8
	SampleType        uint8
}

// StereoFormat returns a packed stereo format at the given rate and
// container bit depth.
func StereoFormat(rate uint32, bits uint8) AudioFormat {
	return AudioFormat{
		SamplingFrequency: rate,
		BitDepth:          uint32(bits),
		ChannelMap:        0xffffff10, // slots 0,1 then unused
		ChannelConfig:     ChannelConfigStereo,
		InterleavingStyle: InterleavingPerChannel,
		NumberOfChannels:  2,
		ValidBitDepth:     bits,
		SampleType:        0,
	}
}

func (f AudioFormat) append(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, f.SamplingFrequency)
	b = le.AppendUint32(b, f.BitDepth)
	b = le.AppendUint32(b, f.ChannelMap)
	b = le.AppendUint32(b, f.ChannelConfig)
	b = le.AppendUint32(b, f.InterleavingStyle)
	b = append(b, f.NumberOfChannels, f.ValidBitDepth, f.SampleType, 0)
	return b
}

// frameBytes is the size of one interleaved frame in the container
// format.
func (f AudioFormat) frameBytes() uint32 {
	return uint32(f.NumberOfChannels) * f.BitDepth / 8
}

// BaseModuleCfg is the header every module init payload starts with:
// cycles per chunk, input/output buffer sizes and memory pages, followed
// by the input format.
type BaseModuleCfg struct {
	CPC      uint32
	IBS      uint32
	OBS      uint32
	IsPages  uint32
	AudioFmt AudioFormat
}

func (c BaseModuleCfg) append(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, c.CPC)
	b = le.AppendUint32(b, c.IBS)
	b = le.AppendUint32(b, c.OBS)
	b = le.AppendUint32(b, c.IsPages)
	return c.AudioFmt.append(b)
}

// CopierGatewayCfg attaches a copier to a DMA or link gateway. The
// config blob comes verbatim from the platform's topology table and is
// padded to the 4-byte wire word.
type CopierGatewayCfg struct {
	NodeID        uint32
	DMABufferSize uint32
	Config        []byte
}

// CopierCfg is the init-instance payload of a copier module.
type CopierCfg struct {
	Base        BaseModuleCfg
	OutFmt      AudioFormat
	FeatureMask uint32
	Gateway     CopierGatewayCfg
}

// Marshal encodes the copier config in the firmware's wire layout. The
// result is always a multiple of 4 bytes.
func (c CopierCfg) Marshal() ([]byte, error) {
	words := (len(c.Gateway.Config) + 3) / 4
	if words > 0xffff {
		return nil, fmt.Errorf("topology: gateway config blob of %d bytes too large", len(c.Gateway.Config))
	}

	le := binary.LittleEndian
	b := c.Base.append(nil)
	b = c.OutFmt.append(b)
	b = le.AppendUint32(b, c.FeatureMask)
	b = le.AppendUint32(b, c.Gateway.NodeID)
	b = le.AppendUint32(b, c.Gateway.DMABufferSize)
	b = le.AppendUint32(b, uint32(words))
	b = append(b, c.Gateway.Config...)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b, nil
}
