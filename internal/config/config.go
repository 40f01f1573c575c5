package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/config/loader"
	"github.com/dshills/addonhook/internal/lifecycle"
	"github.com/dshills/addonhook/internal/logger"
	"github.com/dshills/addonhook/internal/simhost"
)

// MaxIncludeDepth bounds @include nesting.
const MaxIncludeDepth = 8

// Config is the complete addonhook configuration.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Layout   LayoutConfig   `toml:"layout"`
	Routing  RoutingConfig  `toml:"routing"`
	Resolver ResolverConfig `toml:"resolver"`
	Plugins  PluginsConfig  `toml:"plugins"`
	Sim      SimConfig      `toml:"sim"`
}

// Default returns the built-in configuration.
func Default() *Config {
	callsite := make([]string, 0, len(lifecycle.DefaultCallSiteFamilies))
	for _, f := range lifecycle.DefaultCallSiteFamilies {
		callsite = append(callsite, f.String())
	}

	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxAgeDays: 7,
			MaxBackups: 3,
		},
		Layout:  FromLayout(addon.Default()),
		Routing: RoutingConfig{CallSite: callsite},
		Plugins: PluginsConfig{
			Debounce: Duration{100 * time.Millisecond},
		},
		Sim: SimConfig{
			FrameInterval: Duration{16 * time.Millisecond},
			Frames:        120,
			Types: []TypeConfig{
				{Name: "InventoryBase", Overrides: []string{"Setup", "Update", "Draw", "Show", "Hide", "ReceiveEvent"}},
				{Name: "CharacterBase", Overrides: []string{"Update", "Draw", "ReceiveEvent"}},
				{Name: "ArmouryBoard", Like: "CharacterBase"},
			},
			Addons: []AddonConfig{
				{Name: "_NaviMap", Show: 1},
				{Name: "Inventory", Type: "InventoryBase", Show: 10, Hide: 80, Destroy: 100, EventEvery: 15},
				{Name: "Character", Type: "CharacterBase", Spawn: 20, Show: 21, Detach: 70, EventEvery: 10},
				{Name: "ArmouryBoard", Type: "ArmouryBoard", Spawn: 40, Show: 41, Destroy: 90},
			},
		},
	}
}

// Option configures Load.
type Option func(*options)

type options struct {
	fs  loader.FileSystem
	env loader.Loader
}

// WithFileSystem reads configuration files from fsys.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithEnv reads overrides from env. Nil disables environment overrides.
func WithEnv(env loader.Loader) Option {
	return func(o *options) {
		o.env = env
	}
}

// Load builds a Config from the defaults, the TOML file at path and the
// environment, then validates it. An empty path or a missing file leaves
// the defaults in place.
func Load(path string, opts ...Option) (*Config, error) {
	o := options{
		fs:  loader.DefaultFS(),
		env: loader.NewEnvLoader(loader.EnvPrefix),
	}
	for _, opt := range opts {
		opt(&o)
	}

	merged, err := Default().toMap()
	if err != nil {
		return nil, err
	}

	if path != "" {
		file, err := loader.NewTOMLLoaderWithFS(o.fs, path).LoadWithIncludes(path, MaxIncludeDepth)
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if o.env != nil {
		env, err := o.env.Load()
		if err != nil {
			return nil, fmt.Errorf("reading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, env)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads a complete configuration from r without defaults or
// environment overrides.
func Decode(r io.Reader) (*Config, error) {
	m, err := (&loader.TOMLLoader{}).LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	return decode(m)
}

func decode(m map[string]any) (*Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("re-encoding configuration: %w", err)
	}

	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: unknown keys:\n%s", ErrInvalidConfig, strict.String())
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func (c *Config) toMap() (map[string]any, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return m, nil
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(c)
}

// Validate checks every section and joins all failures.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, invalid("log.level", c.Log.Level, "%v", err))
	}

	layout, err := c.Layout.Layout()
	if err != nil {
		errs = append(errs, err)
	}

	fams, err := c.Routing.Families()
	if err != nil {
		errs = append(errs, err)
	}
	if layout.Slots != nil {
		for _, f := range fams {
			if _, ok := layout.Slot(f); !ok {
				errs = append(errs, invalid("routing.callsite", f.String(), "family has no layout slot"))
			}
		}
	}

	if c.Plugins.Debounce.Duration < 0 {
		errs = append(errs, invalid("plugins.debounce", c.Plugins.Debounce, "must not be negative"))
	}

	errs = append(errs, c.Sim.validate(layout)...)
	return errors.Join(errs...)
}

func (s SimConfig) validate(layout addon.Layout) []error {
	var errs []error
	if s.FrameInterval.Duration <= 0 {
		errs = append(errs, invalid("sim.frame_interval", s.FrameInterval, "must be positive"))
	}
	if s.Frames < 0 {
		errs = append(errs, invalid("sim.frames", s.Frames, "must not be negative"))
	}

	types := []string{simhost.BaseType}
	for _, t := range s.Types {
		path := "sim.type." + t.Name
		switch {
		case t.Name == "":
			errs = append(errs, invalid("sim.type", t, "name is required"))
			continue
		case slices.Contains(types, t.Name):
			errs = append(errs, invalid(path, t.Name, "type defined twice"))
			continue
		case t.Like != "" && len(t.Overrides) > 0:
			errs = append(errs, invalid(path, t, "like and overrides are exclusive"))
		case t.Like != "" && !slices.Contains(types, t.Like):
			errs = append(errs, invalid(path+".like", t.Like, "must name a type defined earlier"))
		}
		fams, err := t.OverrideFamilies()
		if err != nil {
			errs = append(errs, err)
		}
		if layout.Slots != nil {
			for _, f := range fams {
				if _, ok := layout.Slot(f); !ok {
					errs = append(errs, invalid(path+".overrides", f.String(), "family has no layout slot"))
				}
			}
		}
		types = append(types, t.Name)
	}

	var names []string
	for _, a := range s.Addons {
		path := "sim.addon." + a.Name
		switch {
		case a.Name == "":
			errs = append(errs, invalid("sim.addon", a, "name is required"))
			continue
		case slices.Contains(names, a.Name):
			errs = append(errs, invalid(path, a.Name, "addon defined twice"))
		case layout.NameLength > 0 && len(a.Name) >= layout.NameLength:
			errs = append(errs, invalid(path, a.Name, "longer than %d bytes", layout.NameLength-1))
		}
		names = append(names, a.Name)

		if a.Type != "" && !slices.Contains(types, a.Type) {
			errs = append(errs, invalid(path+".type", a.Type, "unknown addon type"))
		}
		if a.Spawn < 0 || a.Show < 0 || a.Hide < 0 || a.Detach < 0 || a.Destroy < 0 || a.EventEvery < 0 {
			errs = append(errs, invalid(path, a, "frame numbers must not be negative"))
		}
		if a.Destroy > 0 && a.Destroy <= a.Spawn {
			errs = append(errs, invalid(path+".destroy", a.Destroy, "must come after spawn %d", a.Spawn))
		}
		if a.Detach > 0 && a.Detach < a.Spawn {
			errs = append(errs, invalid(path+".detach", a.Detach, "must not come before spawn %d", a.Spawn))
		}
	}
	return errs
}
