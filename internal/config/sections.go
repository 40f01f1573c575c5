package config

import (
	"fmt"
	"time"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/event"
)

// Duration is a time.Duration written as a string such as "16ms".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LogConfig configures the process log.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level"`

	// File enables a rotated JSON log at this path.
	File string `toml:"file,omitempty"`

	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxAgeDays int  `toml:"max_age_days"`
	MaxBackups int  `toml:"max_backups"`
	NoColor    bool `toml:"no_color"`
}

// LayoutConfig is the TOML form of addon.Layout. Slots are keyed by
// family name.
type LayoutConfig struct {
	Version    string         `toml:"version"`
	NameOffset int            `toml:"name_offset"`
	NameLength int            `toml:"name_length"`
	TableSize  int            `toml:"table_size"`
	Destructor int            `toml:"destructor"`
	FreeMask   uint32         `toml:"free_mask"`
	Slots      map[string]int `toml:"slots"`
}

// FromLayout converts an addon.Layout.
func FromLayout(l addon.Layout) LayoutConfig {
	slots := make(map[string]int, len(l.Slots))
	for f, slot := range l.Slots {
		slots[f.String()] = slot
	}
	return LayoutConfig{
		Version:    l.Version,
		NameOffset: l.NameOffset,
		NameLength: l.NameLength,
		TableSize:  l.TableSize,
		Destructor: l.Destructor,
		FreeMask:   l.FreeMask,
		Slots:      slots,
	}
}

// Layout converts the section into a validated addon.Layout. A negative
// slot removes a family inherited from a lower layer.
func (c LayoutConfig) Layout() (addon.Layout, error) {
	l := addon.Layout{
		Version:    c.Version,
		NameOffset: c.NameOffset,
		NameLength: c.NameLength,
		TableSize:  c.TableSize,
		Destructor: c.Destructor,
		FreeMask:   c.FreeMask,
		Slots:      make(map[event.Family]int, len(c.Slots)),
	}
	for name, slot := range c.Slots {
		f, err := event.ParseFamily(name)
		if err != nil {
			return addon.Layout{}, invalid("layout.slots", name, "%v", err)
		}
		if slot >= 0 {
			l.Slots[f] = slot
		}
	}
	if err := l.Validate(); err != nil {
		return addon.Layout{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return l, nil
}

// RoutingConfig selects the families intercepted at the call site instead
// of through replacement tables.
type RoutingConfig struct {
	CallSite []string `toml:"callsite"`
}

// Families parses the call-site family names.
func (c RoutingConfig) Families() ([]event.Family, error) {
	out := make([]event.Family, 0, len(c.CallSite))
	for _, name := range c.CallSite {
		f, err := event.ParseFamily(name)
		if err != nil {
			return nil, invalid("routing.callsite", name, "%v", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// ResolverConfig points at a YAML symbol table. When File is empty the
// simulated host supplies the symbols.
type ResolverConfig struct {
	File string `toml:"file,omitempty"`
}

// PluginsConfig configures Lua listener scripts.
type PluginsConfig struct {
	// Dir holds *.lua scripts. Empty disables scripting.
	Dir string `toml:"dir,omitempty"`

	// Watch reloads scripts when they change on disk.
	Watch bool `toml:"watch"`

	// Debounce coalesces bursts of file events.
	Debounce Duration `toml:"debounce"`
}

// SimConfig drives the simulated host.
type SimConfig struct {
	FrameInterval Duration `toml:"frame_interval"`

	// Frames is the number of frames to run. Zero runs until cancelled.
	Frames int `toml:"frames"`

	Types  []TypeConfig  `toml:"type"`
	Addons []AddonConfig `toml:"addon"`
}

// TypeConfig defines a simulated addon type.
type TypeConfig struct {
	Name string `toml:"name"`

	// Like copies every implementation of another type instead of
	// overriding families.
	Like string `toml:"like,omitempty"`

	// Overrides lists families the type implements itself.
	Overrides []string `toml:"overrides,omitempty"`
}

// OverrideFamilies parses Overrides.
func (c TypeConfig) OverrideFamilies() ([]event.Family, error) {
	out := make([]event.Family, 0, len(c.Overrides))
	for _, name := range c.Overrides {
		f, err := event.ParseFamily(name)
		if err != nil {
			return nil, invalid("sim.type."+c.Name+".overrides", name, "%v", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// AddonConfig schedules one simulated addon. Frames count from 1; a zero
// Show, Hide, Detach or Destroy never happens.
type AddonConfig struct {
	Name string `toml:"name"`

	// Type is the addon type. Empty means the base type.
	Type string `toml:"type,omitempty"`

	// Spawn is the frame the addon is created before. Zero creates it at start.
	Spawn   int `toml:"spawn"`
	Show    int `toml:"show"`
	Hide    int `toml:"hide"`
	Destroy int `toml:"destroy"`

	// Detach restores the addon's own table and stops its events while it
	// keeps running.
	Detach int `toml:"detach,omitempty"`

	// EventEvery delivers an input event every N frames while the addon lives.
	EventEvery int `toml:"event_every"`
}
