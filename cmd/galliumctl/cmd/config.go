package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/galliumaudio/gallium/pkg/nhlt"
	"github.com/galliumaudio/gallium/pkg/topology"
)

// BoardConfig describes a board: the streams to build and the endpoint
// blobs its topology table would provide.
type BoardConfig struct {
	Board     string           `yaml:"board"`
	Streams   []StreamConfig   `yaml:"streams"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// StreamConfig is one stream pipeline in the board config.
type StreamConfig struct {
	Direction string `yaml:"direction"` // render or capture
	Link      string `yaml:"link"`      // ssp, pdm or hda
	Rate      uint32 `yaml:"rate"`
	Bits      uint8  `yaml:"bits"`
	Channels  uint8  `yaml:"channels"`
	HostDMA   uint8  `yaml:"host_dma"`
	LinkDMA   uint8  `yaml:"link_dma"`
	Priority  uint8  `yaml:"priority"`
	LowPower  bool   `yaml:"low_power"`
}

// EndpointConfig is one endpoint blob in the board config.
type EndpointConfig struct {
	Link      string `yaml:"link"`
	Direction string `yaml:"direction"`
	Rate      uint32 `yaml:"rate"`
	Bits      uint8  `yaml:"bits"`
	Channels  uint8  `yaml:"channels"`
	BlobHex   string `yaml:"blob_hex"`
}

// LoadBoardConfig reads a board config YAML file.
func LoadBoardConfig(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board config: %w", err)
	}
	var cfg BoardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse board config: %w", err)
	}
	if cfg.Board == "" {
		return nil, fmt.Errorf("board config is missing a board name")
	}
	return &cfg, nil
}

// DefaultBoardConfig returns the built-in emulated board: stereo render
// and capture over an I2S link.
func DefaultBoardConfig() *BoardConfig {
	streams := []StreamConfig{
		{Direction: "render", Link: "ssp", Rate: 48000, Bits: 16, Channels: 2},
		{Direction: "capture", Link: "ssp", Rate: 48000, Bits: 16, Channels: 2},
	}
	endpoints := make([]EndpointConfig, len(streams))
	for i, s := range streams {
		endpoints[i] = EndpointConfig{
			Link: s.Link, Direction: s.Direction,
			Rate: s.Rate, Bits: s.Bits, Channels: s.Channels,
			BlobHex: "00112233445566778899aabbccddeeff",
		}
	}
	return &BoardConfig{Board: "emulated-i2s", Streams: streams, Endpoints: endpoints}
}

// Provider builds an nhlt.Provider from the config's endpoint blobs.
func (c *BoardConfig) Provider() (nhlt.Provider, error) {
	p := nhlt.NewStaticProvider()
	for _, ep := range c.Endpoints {
		link, err := parseLink(ep.Link)
		if err != nil {
			return nil, err
		}
		dir, err := parseDirection(ep.Direction)
		if err != nil {
			return nil, err
		}
		blob, err := hex.DecodeString(ep.BlobHex)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s/%s: bad blob_hex: %w", ep.Link, ep.Direction, err)
		}
		p.AddEndpoint(link, dir, nhlt.FormatKey{Rate: ep.Rate, Bits: ep.Bits, Channels: ep.Channels}, blob)
	}
	return p, nil
}

// Spec converts a stream config into a builder spec.
func (s StreamConfig) Spec() (topology.StreamSpec, error) {
	link, err := parseLink(s.Link)
	if err != nil {
		return topology.StreamSpec{}, err
	}
	dir, err := parseDirection(s.Direction)
	if err != nil {
		return topology.StreamSpec{}, err
	}
	format := topology.StereoFormat(s.Rate, s.Bits)
	if s.Channels == 1 {
		format.NumberOfChannels = 1
		format.ChannelConfig = topology.ChannelConfigMono
		format.ChannelMap = 0xfffffff0
	}
	return topology.StreamSpec{
		Direction: dir,
		Link:      link,
		Format:    format,
		HostDMA:   s.HostDMA,
		LinkDMA:   s.LinkDMA,
		Priority:  s.Priority,
		LowPower:  s.LowPower,
	}, nil
}

func parseLink(s string) (nhlt.LinkType, error) {
	switch s {
	case "ssp", "i2s":
		return nhlt.LinkSSP, nil
	case "pdm", "dmic":
		return nhlt.LinkPDM, nil
	case "hda":
		return nhlt.LinkHDA, nil
	default:
		return 0, fmt.Errorf("unknown link type %q", s)
	}
}

func parseDirection(s string) (nhlt.Direction, error) {
	switch s {
	case "render", "playback":
		return nhlt.DirRender, nil
	case "capture":
		return nhlt.DirCapture, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}
