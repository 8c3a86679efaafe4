// Package capability maps a device model identifier to the set of settings
// that hardware revision actually supports, and the legal value domain of
// each setting.
//
// A setting absent from a device's capability set must never be offered,
// read, or written for that device. Unknown models fail closed to the
// universally supported settings (battery reporting, basic noise control).
package capability

import (
	"errors"
	"fmt"

	"aacpctl/internal/aacp"
)

// Setting enumerates the user-facing settings this tool can manage.
type Setting int

const (
	NoiseControlMode Setting = iota
	AllowOffMode
	ConversationAwareness
	OneBudANC
	VolumeSwipe
	AdaptiveVolume
	AutoConnect
	PressSpeed
	PressHoldDuration
	ToneVolume
	VolumeSwipeLength
	AdaptiveNoiseLevel

	numSettings
)

var settingNames = map[Setting]string{
	NoiseControlMode:      "noise_control_mode",
	AllowOffMode:          "allow_off_mode",
	ConversationAwareness: "conversation_awareness",
	OneBudANC:             "one_bud_anc",
	VolumeSwipe:           "volume_swipe",
	AdaptiveVolume:        "adaptive_volume",
	AutoConnect:           "auto_connect",
	PressSpeed:            "press_speed",
	PressHoldDuration:     "press_hold_duration",
	ToneVolume:            "tone_volume",
	VolumeSwipeLength:     "volume_swipe_length",
	AdaptiveNoiseLevel:    "adaptive_noise_level",
}

func (s Setting) String() string {
	if name, ok := settingNames[s]; ok {
		return name
	}
	return fmt.Sprintf("setting(%d)", int(s))
}

// ParseSetting resolves a setting name as used on the CLI and IPC surface.
func ParseSetting(name string) (Setting, bool) {
	for s, n := range settingNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// ControlID returns the wire identifier for a setting.
func (s Setting) ControlID() aacp.ControlID {
	switch s {
	case NoiseControlMode:
		return aacp.IDListeningMode
	case AllowOffMode:
		return aacp.IDAllowOffOption
	case ConversationAwareness:
		return aacp.IDConversationDetect
	case OneBudANC:
		return aacp.IDOneBudANC
	case VolumeSwipe:
		return aacp.IDVolumeSwipeMode
	case AdaptiveVolume:
		return aacp.IDAdaptiveVolume
	case AutoConnect:
		return aacp.IDAutoConnect
	case PressSpeed:
		return aacp.IDDoubleClickSpeed
	case PressHoldDuration:
		return aacp.IDClickHoldDuration
	case ToneVolume:
		return aacp.IDChimeVolume
	case VolumeSwipeLength:
		return aacp.IDVolumeSwipeLength
	case AdaptiveNoiseLevel:
		return aacp.IDAutoANCStrength
	}
	return 0
}

// SettingForControlID is the inverse of Setting.ControlID.
func SettingForControlID(id aacp.ControlID) (Setting, bool) {
	for s := Setting(0); s < numSettings; s++ {
		if s.ControlID() == id {
			return s, true
		}
	}
	return 0, false
}

// DomainKind distinguishes the shapes a value domain can take.
type DomainKind int

const (
	DomainBool DomainKind = iota
	DomainIntRange
	DomainEnum
)

// ValueDomain is the legal value range of one setting: a boolean, a bounded
// integer, or a closed enumeration of wire bytes.
type ValueDomain struct {
	Kind     DomainKind
	Min, Max int    // DomainIntRange
	Values   []byte // DomainEnum
}

// Contains reports whether v is a legal value for the domain.
func (d ValueDomain) Contains(v int) bool {
	switch d.Kind {
	case DomainBool:
		return v == 0 || v == 1
	case DomainIntRange:
		return v >= d.Min && v <= d.Max
	case DomainEnum:
		for _, b := range d.Values {
			if int(b) == v {
				return true
			}
		}
	}
	return false
}

// Validation errors. Always local and synchronous; values are never
// silently clamped.
var (
	ErrUnsupportedSetting = errors.New("setting not supported by this model")
	ErrOutOfRange         = errors.New("value outside the setting's domain")
)

// Set is the capability set of one hardware model: the settings it exposes
// and their value domains.
type Set struct {
	ModelName string
	domains   map[Setting]ValueDomain
}

// Supports reports whether the model exposes the setting at all.
func (s Set) Supports(setting Setting) bool {
	_, ok := s.domains[setting]
	return ok
}

// Domain returns the value domain for a supported setting.
func (s Set) Domain(setting Setting) (ValueDomain, bool) {
	d, ok := s.domains[setting]
	return d, ok
}

// Validate checks a requested value against the capability set.
func (s Set) Validate(setting Setting, value int) error {
	d, ok := s.domains[setting]
	if !ok {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedSetting, setting, s.ModelName)
	}
	if !d.Contains(value) {
		return fmt.Errorf("%w: %s=%d", ErrOutOfRange, setting, value)
	}
	return nil
}

// Settings returns the settings the set exposes, in declaration order.
func (s Set) Settings() []Setting {
	out := make([]Setting, 0, len(s.domains))
	for setting := Setting(0); setting < numSettings; setting++ {
		if _, ok := s.domains[setting]; ok {
			out = append(out, setting)
		}
	}
	return out
}
