package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/event"
)

type fakeEnv map[string]any

func (f fakeEnv) Load() (map[string]any, error) { return f, nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
}

func TestDefault_LayoutRoundTrip(t *testing.T) {
	l, err := Default().Layout.Layout()
	if err != nil {
		t.Fatal(err)
	}
	want := addon.Default()
	if l.Version != want.Version || l.TableSize != want.TableSize || l.FreeMask != want.FreeMask {
		t.Errorf("layout = %+v, want %+v", l, want)
	}
	for f, slot := range want.Slots {
		if got, ok := l.Slot(f); !ok || got != slot {
			t.Errorf("slot %s = %d, want %d", f, got, slot)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), WithEnv(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sim.Frames != Default().Sim.Frames {
		t.Errorf("frames = %d, want default", cfg.Sim.Frames)
	}
	if len(cfg.Sim.Addons) != len(Default().Sim.Addons) {
		t.Errorf("addons = %d, want default", len(cfg.Sim.Addons))
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "addonhook.toml", `
[log]
level = "debug"

[layout.slots]
Draw = 43
Focus = -1

[routing]
callsite = ["ReceiveEvent", "Show"]

[sim]
frame_interval = "5ms"
frames = 3

[[sim.addon]]
name = "Only"
show = 1
`)

	cfg, err := Load(path, WithEnv(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Errorf("log.max_backups = %d, defaults should survive", cfg.Log.MaxBackups)
	}
	if cfg.Sim.FrameInterval.Duration != 5*time.Millisecond {
		t.Errorf("frame_interval = %v", cfg.Sim.FrameInterval)
	}
	if len(cfg.Sim.Addons) != 1 || cfg.Sim.Addons[0].Name != "Only" {
		t.Errorf("addons = %+v, arrays replace the defaults", cfg.Sim.Addons)
	}
	if len(cfg.Sim.Types) != len(Default().Sim.Types) {
		t.Errorf("types = %d, untouched arrays keep the defaults", len(cfg.Sim.Types))
	}

	l, err := cfg.Layout.Layout()
	if err != nil {
		t.Fatal(err)
	}
	if slot, _ := l.Slot(event.Draw); slot != 43 {
		t.Errorf("Draw slot = %d, want 43", slot)
	}
	if _, ok := l.Slot(event.Focus); ok {
		t.Error("a negative slot should remove the family")
	}
	if slot, _ := l.Slot(event.Show); slot != 5 {
		t.Errorf("Show slot = %d, other slots keep their defaults", slot)
	}

	fams, err := cfg.Routing.Families()
	if err != nil {
		t.Fatal(err)
	}
	if len(fams) != 2 || fams[1] != event.Show {
		t.Errorf("callsite = %v", fams)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "addonhook.toml", "[log]\nlevel = \"debug\"\n")

	cfg, err := Load(path, WithEnv(fakeEnv{
		"log": map[string]any{"level": "error"},
		"sim": map[string]any{"frames": int64(7)},
	}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %q, want the environment value", cfg.Log.Level)
	}
	if cfg.Sim.Frames != 7 {
		t.Errorf("sim.frames = %d, want 7", cfg.Sim.Frames)
	}
}

func TestLoad_Includes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "layout.toml", "[layout]\nversion = \"7.1\"\ntable_size = 80\n")
	path := writeFile(t, dir, "addonhook.toml", "\"@include\" = \"layout.toml\"\n[log]\nlevel = \"warn\"\n")

	cfg, err := Load(path, WithEnv(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Layout.Version != "7.1" || cfg.Layout.TableSize != 80 {
		t.Errorf("layout = %+v, want included values", cfg.Layout)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "addonhook.toml", "[log]\nlevle = \"debug\"\n")

	_, err := Load(path, WithEnv(nil))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "levle") {
		t.Errorf("error should name the unknown key: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"unknown slot family", func(c *Config) { c.Layout.Slots["Teleport"] = 9 }, "layout.slots"},
		{"slot outside table", func(c *Config) { c.Layout.Slots["Draw"] = 500 }, "invalid addon layout"},
		{"unknown callsite family", func(c *Config) { c.Routing.CallSite = []string{"Jump"} }, "routing.callsite"},
		{"callsite without slot", func(c *Config) {
			delete(c.Layout.Slots, "Focus")
			c.Routing.CallSite = []string{"Focus"}
		}, "routing.callsite"},
		{"zero frame interval", func(c *Config) { c.Sim.FrameInterval = Duration{} }, "sim.frame_interval"},
		{"negative frames", func(c *Config) { c.Sim.Frames = -1 }, "sim.frames"},
		{"duplicate type", func(c *Config) {
			c.Sim.Types = append(c.Sim.Types, TypeConfig{Name: "InventoryBase"})
		}, "sim.type.InventoryBase"},
		{"like unknown type", func(c *Config) {
			c.Sim.Types = append(c.Sim.Types, TypeConfig{Name: "X", Like: "Y"})
		}, "sim.type.X.like"},
		{"like and overrides", func(c *Config) {
			c.Sim.Types = append(c.Sim.Types, TypeConfig{Name: "X", Like: "CharacterBase", Overrides: []string{"Draw"}})
		}, "sim.type.X"},
		{"addon of unknown type", func(c *Config) {
			c.Sim.Addons = append(c.Sim.Addons, AddonConfig{Name: "Z", Type: "Nope"})
		}, "sim.addon.Z.type"},
		{"addon name too long", func(c *Config) {
			c.Sim.Addons = append(c.Sim.Addons, AddonConfig{Name: strings.Repeat("n", 40)})
		}, "longer than"},
		{"destroy before spawn", func(c *Config) {
			c.Sim.Addons = append(c.Sim.Addons, AddonConfig{Name: "Z", Spawn: 5, Destroy: 5})
		}, "sim.addon.Z.destroy"},
		{"detach before spawn", func(c *Config) {
			c.Sim.Addons = append(c.Sim.Addons, AddonConfig{Name: "Z", Spawn: 5, Detach: 4})
		}, "sim.addon.Z.detach"},
		{"negative detach", func(c *Config) {
			c.Sim.Addons = append(c.Sim.Addons, AddonConfig{Name: "Z", Detach: -1})
		}, "frame numbers must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.path) {
				t.Errorf("error %q does not mention %q", err, tt.path)
			}
		})
	}
}

func TestEncode_DecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "frame_interval = '16ms'") && !strings.Contains(buf.String(), `frame_interval = "16ms"`) {
		t.Errorf("durations should encode as strings:\n%s", buf.String())
	}

	cfg, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("decoded configuration is invalid: %v", err)
	}
	if cfg.Sim.Addons[1].Name != "Inventory" || cfg.Sim.Addons[1].EventEvery != 15 {
		t.Errorf("addons = %+v", cfg.Sim.Addons)
	}
}
