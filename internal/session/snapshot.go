package session

import (
	"time"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
)

// ComponentBattery is the battery reading for one accessory component.
type ComponentBattery struct {
	Level    uint8
	Charging bool
}

// Snapshot is an immutable view of the connected accessory's state. Fields
// start unknown (nil / zero) and are populated as notification frames
// arrive. A snapshot handed to an observer is never mutated afterwards;
// every state change produces a fresh copy.
type Snapshot struct {
	State State

	VendorID  uint16
	ProductID uint16
	ModelName string

	// Device metadata, empty until the metadata frame arrives.
	Name            string
	ModelNumber     string
	SerialNumber    string
	FirmwareVersion string

	// Battery per component, nil while unobserved or absent.
	Left  *ComponentBattery
	Right *ComponentBattery
	Case  *ComponentBattery

	// NoiseMode mirrors Settings[capability.NoiseControlMode].
	NoiseMode aacp.NoiseMode

	// Settings holds the last observed value of every reported setting.
	Settings map[capability.Setting]int

	PrimaryInEar   *bool
	SecondaryInEar *bool

	// ConversationLevel is the detected speech level while conversation
	// awareness is active, nil otherwise.
	ConversationLevel *uint8

	// Proximity pairing key material, nil until the device hands it out.
	IRK           []byte
	EncryptionKey []byte

	// LastFrame is the liveness marker: when the most recent frame was
	// decoded.
	LastFrame time.Time
}

// clone deep-copies the snapshot so the original can keep mutating.
func (s Snapshot) clone() Snapshot {
	c := s
	if s.Settings != nil {
		c.Settings = make(map[capability.Setting]int, len(s.Settings))
		for k, v := range s.Settings {
			c.Settings[k] = v
		}
	}
	c.Left = cloneBattery(s.Left)
	c.Right = cloneBattery(s.Right)
	c.Case = cloneBattery(s.Case)
	c.PrimaryInEar = cloneBool(s.PrimaryInEar)
	c.SecondaryInEar = cloneBool(s.SecondaryInEar)
	c.ConversationLevel = cloneByte(s.ConversationLevel)
	c.IRK = append([]byte(nil), s.IRK...)
	c.EncryptionKey = append([]byte(nil), s.EncryptionKey...)
	return c
}

func cloneBattery(b *ComponentBattery) *ComponentBattery {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneByte(b *uint8) *uint8 {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
