// Package nhlt exposes the platform's audio-topology endpoint
// configuration blobs.
//
// The platform firmware describes each physical audio link (I2S, DMIC,
// ...) in the NHLT ACPI table, including an opaque per-format blob the
// DSP firmware consumes verbatim as a copier module's gateway
// configuration. Parsing the table itself happens elsewhere; this
// package defines the lookup boundary the topology builder depends on,
// plus a static in-memory implementation for boards whose blobs are
// known up front and for tests.
package nhlt

import (
	"errors"
	"fmt"
	"sync"
)

// LinkType identifies a physical audio link class.
type LinkType int

const (
	LinkHDA LinkType = iota
	LinkDSP
	LinkPDM
	LinkSSP
)

// String returns the table's name for the link class.
func (t LinkType) String() string {
	switch t {
	case LinkHDA:
		return "hda"
	case LinkDSP:
		return "dsp"
	case LinkPDM:
		return "pdm"
	case LinkSSP:
		return "ssp"
	default:
		return fmt.Sprintf("link(%d)", int(t))
	}
}

// Direction distinguishes playback from capture endpoints.
type Direction int

const (
	DirRender Direction = iota
	DirCapture
)

// String returns the table's name for the direction.
func (d Direction) String() string {
	if d == DirCapture {
		return "capture"
	}
	return "render"
}

// FormatKey selects one endpoint format configuration.
type FormatKey struct {
	Rate     uint32
	Bits     uint8
	Channels uint8
}

// ErrNoEndpoint is returned when the table has no blob for the requested
// link, direction and format.
var ErrNoEndpoint = errors.New("nhlt: no endpoint configuration")

// Provider looks up the opaque firmware configuration blob for a
// physical endpoint. Implementations must return the blob exactly as the
// firmware expects it; the topology builder embeds it verbatim in the
// copier gateway config.
type Provider interface {
	EndpointConfig(link LinkType, dir Direction, format FormatKey) ([]byte, error)
}

type endpointKey struct {
	link   LinkType
	dir    Direction
	format FormatKey
}

// StaticProvider is a Provider backed by an in-memory map, for boards
// with fixed blobs and for tests.
type StaticProvider struct {
	mu    sync.RWMutex
	blobs map[endpointKey][]byte
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{blobs: make(map[endpointKey][]byte)}
}

// AddEndpoint registers blob for the given endpoint, replacing any
// previous registration. The blob is copied.
func (p *StaticProvider) AddEndpoint(link LinkType, dir Direction, format FormatKey, blob []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blobs[endpointKey{link, dir, format}] = append([]byte(nil), blob...)
}

// EndpointConfig returns the registered blob or ErrNoEndpoint.
func (p *StaticProvider) EndpointConfig(link LinkType, dir Direction, format FormatKey) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	blob, ok := p.blobs[endpointKey{link, dir, format}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s %dHz/%dbit/%dch",
			ErrNoEndpoint, link, dir, format.Rate, format.Bits, format.Channels)
	}
	return append([]byte(nil), blob...), nil
}
