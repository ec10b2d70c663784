package config

import (
	"context"
	"os"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"gopkg.in/yaml.v3"
)

// Settings holds the daemon-wide options from the configuration file.
type Settings struct {
	// AutoInit enables one-time initialization and configuration of
	// adapters as they appear.
	AutoInit bool `yaml:"autoinit"`

	// Security enables the adapter-scoped security manager.
	Security bool `yaml:"security"`
}

// DefaultSettings returns the settings applied when no configuration
// file is present.
func DefaultSettings() Settings {
	return Settings{AutoInit: true, Security: true}
}

// deviceEntry mirrors one device section of the configuration file.
// Pointer fields distinguish "explicitly set" from "absent".
type deviceEntry struct {
	Name                *string `yaml:"name"`
	Class               *uint32 `yaml:"class"`
	Voice               *uint16 `yaml:"voice"`
	PageTimeout         *uint16 `yaml:"page_timeout"`
	DiscoverableTimeout *uint32 `yaml:"discoverable_timeout"`
	PacketType          *uint32 `yaml:"packet_type"`
	LinkMode            *uint32 `yaml:"link_mode"`
	LinkPolicy          *uint32 `yaml:"link_policy"`
}

// file mirrors the configuration file layout.
type file struct {
	Settings `yaml:",inline"`

	Devices map[string]deviceEntry `yaml:"devices"`
}

// apply copies the entry's explicitly present fields onto opts and marks
// the matching flags.
func (e *deviceEntry) apply(opts *DeviceOptions) {
	if e.Name != nil {
		opts.Name = *e.Name
		opts.Mark(SetName)
	}

	if e.Class != nil {
		opts.Class = *e.Class
		opts.Mark(SetClass)
	}

	if e.Voice != nil {
		opts.Voice = *e.Voice
		opts.Mark(SetVoice)
	}

	if e.PageTimeout != nil {
		opts.PageTimeout = *e.PageTimeout
		opts.Mark(SetPageTimeout)
	}

	if e.DiscoverableTimeout != nil {
		opts.DiscoverableTimeout = *e.DiscoverableTimeout
		opts.Mark(SetDiscoverableTimeout)
	}

	if e.PacketType != nil {
		opts.PacketType = *e.PacketType
		opts.Mark(SetPacketType)
	}

	if e.LinkMode != nil {
		opts.LinkMode = *e.LinkMode
		opts.Mark(SetLinkMode)
	}

	if e.LinkPolicy != nil {
		opts.LinkPolicy = *e.LinkPolicy
		opts.Mark(SetLinkPolicy)
	}
}

// Load reads the configuration file at path and seeds the registry with
// its device entries. The "default" entry is applied first so that the
// remaining entries inherit from it.
func Load(path string, reg *Registry) (Settings, error) {
	settings := DefaultSettings()

	raw, err := os.ReadFile(path)
	if err != nil {
		return settings, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "config-read",
				"path", path,
			),
			ftag.With(ftag.NotFound),
			fmsg.With("Cannot read configuration file"),
		)
	}

	var f file
	f.Settings = settings
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return settings, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "config-parse",
				"path", path,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot parse configuration file"),
		)
	}

	if entry, ok := f.Devices[DefaultKey]; ok {
		entry.apply(reg.Default())
	}

	for key, entry := range f.Devices {
		if key == DefaultKey {
			continue
		}

		entry.apply(reg.Allocate(key))
	}

	return f.Settings, nil
}
