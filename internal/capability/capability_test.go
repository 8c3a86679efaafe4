package capability

import (
	"errors"
	"reflect"
	"testing"

	"aacpctl/internal/aacp"
)

func TestLookupKnownModels(t *testing.T) {
	reg := NewRegistry(DefaultTable())

	tests := []struct {
		name        string
		productID   uint16
		supported   []Setting
		unsupported []Setting
	}{
		{
			name:        "AirPods Pro 2",
			productID:   0x2014,
			supported:   []Setting{NoiseControlMode, AllowOffMode, ConversationAwareness, OneBudANC, VolumeSwipe, AdaptiveVolume, AdaptiveNoiseLevel, PressSpeed, PressHoldDuration, ToneVolume, AutoConnect},
			unsupported: nil,
		},
		{
			name:        "AirPods 2nd gen",
			productID:   0x200F,
			supported:   []Setting{AutoConnect},
			unsupported: []Setting{NoiseControlMode, ConversationAwareness, OneBudANC, PressSpeed, ToneVolume},
		},
		{
			name:        "AirPods Max",
			productID:   0x200A,
			supported:   []Setting{NoiseControlMode, AllowOffMode},
			unsupported: []Setting{OneBudANC, ConversationAwareness, AdaptiveNoiseLevel, VolumeSwipe, PressSpeed},
		},
		{
			name:        "Beats Studio Buds",
			productID:   0x2011,
			supported:   []Setting{NoiseControlMode, AllowOffMode},
			unsupported: []Setting{OneBudANC, ConversationAwareness, AdaptiveVolume},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := reg.Lookup(tt.productID)
			for _, s := range tt.supported {
				if !set.Supports(s) {
					t.Errorf("%s should support %s", set.ModelName, s)
				}
			}
			for _, s := range tt.unsupported {
				if set.Supports(s) {
					t.Errorf("%s should not support %s", set.ModelName, s)
				}
			}
		})
	}
}

func TestLookupUnknownFailsClosed(t *testing.T) {
	reg := NewRegistry(DefaultTable())
	set := reg.Lookup(0xBEEF)

	if !set.Supports(NoiseControlMode) {
		t.Error("unknown model should keep basic noise control")
	}
	d, _ := set.Domain(NoiseControlMode)
	if d.Contains(int(aacp.NoiseModeAdaptive)) {
		t.Error("unknown model must not be offered Adaptive")
	}
	for _, s := range []Setting{ConversationAwareness, OneBudANC, VolumeSwipe, PressSpeed, ToneVolume, AdaptiveNoiseLevel} {
		if set.Supports(s) {
			t.Errorf("unknown model must not expose %s", s)
		}
	}
}

func TestAdaptiveModeGating(t *testing.T) {
	reg := NewRegistry(DefaultTable())

	pro1 := reg.Lookup(0x200E) // AirPods Pro (1st gen): ANC but no Adaptive
	d, ok := pro1.Domain(NoiseControlMode)
	if !ok {
		t.Fatal("AirPods Pro should support noise control")
	}
	if d.Contains(int(aacp.NoiseModeAdaptive)) {
		t.Error("AirPods Pro (1st gen) must not accept Adaptive")
	}

	pro2 := reg.Lookup(0x2014)
	d, _ = pro2.Domain(NoiseControlMode)
	if !d.Contains(int(aacp.NoiseModeAdaptive)) {
		t.Error("AirPods Pro 2 must accept Adaptive")
	}
}

func TestValidate(t *testing.T) {
	reg := NewRegistry(DefaultTable())
	set := reg.Lookup(0x2014)

	if err := set.Validate(ConversationAwareness, 1); err != nil {
		t.Errorf("valid toggle rejected: %v", err)
	}
	if err := set.Validate(ConversationAwareness, 7); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
	if err := set.Validate(ToneVolume, 14); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("tone volume below minimum accepted: %v", err)
	}
	if err := set.Validate(ToneVolume, 55); err != nil {
		t.Errorf("valid tone volume rejected: %v", err)
	}

	basic := reg.Lookup(0x200F)
	if err := basic.Validate(ConversationAwareness, 1); !errors.Is(err, ErrUnsupportedSetting) {
		t.Errorf("err = %v, want ErrUnsupportedSetting", err)
	}
}

func TestNeedsInitExt(t *testing.T) {
	for _, id := range []uint16{0x201B, 0x2014, 0x2027, 0x2024} {
		if !NeedsInitExt(id) {
			t.Errorf("0x%04X should need init ext", id)
		}
	}
	for _, id := range []uint16{0x200E, 0x200A, 0x2002, 0xBEEF} {
		if NeedsInitExt(id) {
			t.Errorf("0x%04X should not need init ext", id)
		}
	}
}

func TestParseModalias(t *testing.T) {
	tests := []struct {
		in      string
		vendor  uint16
		product uint16
		ok      bool
	}{
		{"bluetooth:v004Cp2014dB087", 0x004C, 0x2014, true},
		{"bluetooth:v004cp200edB087", 0x004C, 0x200E, true},
		{"usb:v05ACp1234d0001", 0x05AC, 0x1234, true},
		{"garbage", 0, 0, false},
		{"bluetooth:v00", 0, 0, false},
	}
	for _, tt := range tests {
		v, p, ok := ParseModalias(tt.in)
		if ok != tt.ok || v != tt.vendor || p != tt.product {
			t.Errorf("ParseModalias(%q) = (0x%04X, 0x%04X, %v), want (0x%04X, 0x%04X, %v)",
				tt.in, v, p, ok, tt.vendor, tt.product, tt.ok)
		}
	}
}

func TestSettingRoundTrip(t *testing.T) {
	for s := Setting(0); s < numSettings; s++ {
		got, ok := ParseSetting(s.String())
		if !ok || got != s {
			t.Errorf("ParseSetting(%q) = (%v, %v)", s.String(), got, ok)
		}
		id := s.ControlID()
		back, ok := SettingForControlID(id)
		if !ok || back != s {
			t.Errorf("SettingForControlID(0x%02X) = (%v, %v), want %v", uint8(id), back, ok, s)
		}
	}
}

func TestSettingsOrderStable(t *testing.T) {
	reg := NewRegistry(DefaultTable())
	a := reg.Lookup(0x2014).Settings()
	b := reg.Lookup(0x2014).Settings()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Settings() order unstable: %v vs %v", a, b)
	}
}
