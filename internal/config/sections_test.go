package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/event"
)

func TestDuration_Text(t *testing.T) {
	tests := []struct {
		text string
		want time.Duration
	}{
		{"16ms", 16 * time.Millisecond},
		{"1m30s", 90 * time.Second},
		{"2h0m0s", 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			var d Duration
			if err := d.UnmarshalText([]byte(tt.text)); err != nil {
				t.Fatalf("UnmarshalText(%q) error = %v", tt.text, err)
			}
			if d.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", d.Duration, tt.want)
			}
			b, err := d.MarshalText()
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tt.text {
				t.Errorf("MarshalText() = %q, want %q", b, tt.text)
			}
		})
	}
}

func TestDuration_UnmarshalInvalid(t *testing.T) {
	d := Duration{Duration: time.Second}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("expected an error for a duration without a unit")
	}
	if d.Duration != time.Second {
		t.Errorf("a failed decode changed the value to %v", d.Duration)
	}
}

func TestLayoutConfig_FromLayoutRoundTrip(t *testing.T) {
	want := addon.Default()
	lc := FromLayout(want)
	if lc.Slots["ReceiveEvent"] != want.Slots[event.ReceiveEvent] {
		t.Errorf("slots are keyed by family name: %v", lc.Slots)
	}

	got, err := lc.Layout()
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Layout() = %+v, want %+v", got, want)
	}
}

func TestLayoutConfig_NegativeSlotRemovesFamily(t *testing.T) {
	lc := FromLayout(addon.Default())
	lc.Slots["Focus"] = -1

	l, err := lc.Layout()
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if _, ok := l.Slot(event.Focus); ok {
		t.Error("Focus should have no slot")
	}
	if _, ok := l.Slot(event.Draw); !ok {
		t.Error("other families keep their slots")
	}
}

func TestLayoutConfig_Errors(t *testing.T) {
	t.Run("unknown family", func(t *testing.T) {
		lc := FromLayout(addon.Default())
		lc.Slots["Teleport"] = 40

		_, err := lc.Layout()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Layout() error = %v, want *ValidationError", err)
		}
		if verr.Path != "layout.slots" || verr.Value != "Teleport" {
			t.Errorf("ValidationError = %+v", verr)
		}
	})

	t.Run("invalid layout", func(t *testing.T) {
		lc := FromLayout(addon.Default())
		lc.TableSize = 0

		_, err := lc.Layout()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("Layout() error = %v, want ErrInvalidConfig", err)
		}
		if !strings.Contains(err.Error(), "table size") {
			t.Errorf("error should carry the layout problem: %v", err)
		}
	})
}

func TestRoutingConfig_Families(t *testing.T) {
	got, err := RoutingConfig{CallSite: []string{"ReceiveEvent", "show"}}.Families()
	if err != nil {
		t.Fatalf("Families() error = %v", err)
	}
	if want := []event.Family{event.ReceiveEvent, event.Show}; !reflect.DeepEqual(got, want) {
		t.Errorf("Families() = %v, want %v", got, want)
	}

	got, err = RoutingConfig{}.Families()
	if err != nil || len(got) != 0 {
		t.Errorf("empty routing = %v, %v", got, err)
	}

	_, err = RoutingConfig{CallSite: []string{"Jump"}}.Families()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Families() error = %v, want ErrInvalidConfig", err)
	}
	if !strings.HasPrefix(err.Error(), "routing.callsite:") {
		t.Errorf("error %q does not name the setting", err)
	}
}

func TestTypeConfig_OverrideFamilies(t *testing.T) {
	tc := TypeConfig{Name: "Custom", Overrides: []string{"Draw", "Update"}}
	got, err := tc.OverrideFamilies()
	if err != nil {
		t.Fatalf("OverrideFamilies() error = %v", err)
	}
	if want := []event.Family{event.Draw, event.Update}; !reflect.DeepEqual(got, want) {
		t.Errorf("OverrideFamilies() = %v, want %v", got, want)
	}

	tc.Overrides = append(tc.Overrides, "Dance")
	_, err = tc.OverrideFamilies()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("OverrideFamilies() error = %v, want *ValidationError", err)
	}
	if verr.Path != "sim.type.Custom.overrides" {
		t.Errorf("Path = %q", verr.Path)
	}
}
