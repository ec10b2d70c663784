// Package config holds the per-device option registry and the
// configuration-file loader that seeds it.
package config

import (
	"fmt"
	"sync"
)

// ScanMode is the controller visibility bitmask.
type ScanMode uint8

// The scan mode bits. The values match the controller's scan enable
// parameter.
const (
	ScanDisabled ScanMode = 0x00
	ScanInquiry  ScanMode = 0x01
	ScanPage     ScanMode = 0x02
)

// DeviceMode is a persisted operator-facing adapter mode.
type DeviceMode string

// The persisted device modes.
const (
	ModeOff          DeviceMode = "off"
	ModeConnectable  DeviceMode = "connectable"
	ModeDiscoverable DeviceMode = "discoverable"
)

// Flag marks a device option field as explicitly set by the operator,
// as distinct from carrying its default value.
type Flag uint

// One flag bit per settable field.
const (
	SetName Flag = 1 << iota
	SetClass
	SetVoice
	SetPageTimeout
	SetDiscoverableTimeout
	SetPacketType
	SetLinkMode
	SetLinkPolicy
)

// Defaults applied to the registry's default entry.
const (
	DefaultName                = "BlueWire"
	DefaultDiscoverableTimeout = 180
)

// DefaultKey is the registry key of the built-in default entry.
const DefaultKey = "default"

// DeviceOptions holds the configurable settings for one adapter.
type DeviceOptions struct {
	// Scan holds the scan-mode bitmask.
	Scan ScanMode

	// Name holds the display name. It may contain expansion
	// placeholders, see ExpandName.
	Name string

	// DiscoverableTimeout holds the discoverability timeout in
	// seconds; 0 means indefinite.
	DiscoverableTimeout uint32

	// Class holds the 24-bit device class.
	Class uint32

	// Voice holds the voice setting.
	Voice uint16

	// PageTimeout holds the page timeout.
	PageTimeout uint16

	// PacketType holds the packet-type mask.
	PacketType uint32

	// LinkMode holds the link-mode mask.
	LinkMode uint32

	// LinkPolicy holds the link-policy mask.
	LinkPolicy uint32

	// Flags marks which fields were explicitly set.
	Flags Flag
}

// Has reports whether the field marked by f was explicitly set.
func (o *DeviceOptions) Has(f Flag) bool {
	return o.Flags&f != 0
}

// Mark marks the field flagged by f as explicitly set.
func (o *DeviceOptions) Mark(f Flag) {
	o.Flags |= f
}

// DeriveScanMode translates a persisted device mode to the scan bitmask.
// Discoverable maps to page+inquiry scan only when the discoverability
// timeout is zero (infinite); a non-zero timeout is governed by a timer,
// not by scan mode, so only page scan is enabled.
func DeriveScanMode(mode DeviceMode, discoverableTimeout uint32) ScanMode {
	switch mode {
	case ModeOff:
		return ScanDisabled

	case ModeConnectable:
		return ScanPage

	case ModeDiscoverable:
		if discoverableTimeout == 0 {
			return ScanPage | ScanInquiry
		}

		return ScanPage
	}

	return ScanPage
}

// Registry holds the per-device and default option entries. A default
// entry always exists; lookups never fail.
//
// The registry is mutated only at configuration load or reload, before
// adapters are served; readers copy resolved entries into workers.
type Registry struct {
	mu       sync.RWMutex
	defaults *DeviceOptions
	entries  map[string]*DeviceOptions
}

// NewRegistry returns a registry seeded with the built-in defaults.
func NewRegistry() *Registry {
	r := &Registry{}
	r.seed()

	return r
}

// seed installs the built-in default entry.
func (r *Registry) seed() {
	r.defaults = &DeviceOptions{
		Scan:                ScanPage,
		Name:                DefaultName,
		DiscoverableTimeout: DefaultDiscoverableTimeout,
	}
	r.entries = make(map[string]*DeviceOptions)
}

// Default returns the default entry.
func (r *Registry) Default() *DeviceOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaults
}

// Allocate creates a new entry seeded from the current defaults and
// links it into the registry under key. Allocating an existing key
// replaces the previous entry.
func (r *Registry) Allocate(key string) *DeviceOptions {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == DefaultKey {
		return r.defaults
	}

	opts := *r.defaults
	r.entries[key] = &opts

	return &opts
}

// Find returns the entry stored under key, by exact match.
func (r *Registry) Find(key string) (*DeviceOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key == DefaultKey {
		return r.defaults, true
	}

	opts, ok := r.entries[key]

	return opts, ok
}

// Resolve returns the options for an adapter: an exact hardware-address
// match first, then the adapter-index key ("hci<N>"), then the default
// entry. It never fails.
func (r *Registry) Resolve(id uint16, address string) *DeviceOptions {
	if address != "" {
		if opts, ok := r.Find(address); ok {
			return opts
		}
	}

	if opts, ok := r.Find(fmt.Sprintf("hci%d", id)); ok {
		return opts
	}

	return r.Default()
}

// ResetAll frees every non-default entry and restores the default entry
// to the built-in values. Called before re-seeding on reload.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seed()
}
