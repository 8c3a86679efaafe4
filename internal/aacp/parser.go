package aacp

import (
	"encoding/binary"
	"fmt"
)

// Battery is one component's battery reading.
type Battery struct {
	Component BatteryComponent
	Level     uint8 // 0-100
	Status    BatteryStatus
}

// ParseBattery parses an OpBatteryState payload.
// Format: [count] then count entries of [component] 01 [level] [status] 01.
func ParseBattery(payload []byte) ([]Battery, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("battery payload too short")
	}
	count := int(payload[0])
	batteries := make([]Battery, 0, count)
	offset := 1
	for i := 0; i < count; i++ {
		if offset+5 > len(payload) {
			return nil, fmt.Errorf("incomplete battery entry %d at offset %d", i, offset)
		}
		batteries = append(batteries, Battery{
			Component: BatteryComponent(payload[offset]),
			Level:     payload[offset+2],
			Status:    BatteryStatus(payload[offset+3]),
		})
		offset += 5
	}
	return batteries, nil
}

// ControlCommand is a decoded setting write or status notification.
type ControlCommand struct {
	ID    ControlID
	Value []byte // 1-4 bytes, setting dependent
}

// Byte returns the first value byte, the usual shape for toggles and enums.
func (c ControlCommand) Byte() uint8 {
	if len(c.Value) == 0 {
		return 0
	}
	return c.Value[0]
}

// ParseControlCommand parses an OpControlCommand payload:
// [identifier] followed by the value bytes.
func ParseControlCommand(payload []byte) (ControlCommand, error) {
	if len(payload) < 2 {
		return ControlCommand{}, fmt.Errorf("control command payload too short: %d bytes", len(payload))
	}
	return ControlCommand{
		ID:    ControlID(payload[0]),
		Value: append([]byte(nil), payload[1:]...),
	}, nil
}

// EarDetection reports whether each bud is currently in an ear.
// On the wire 0x00 means in ear.
type EarDetection struct {
	PrimaryInEar   bool
	SecondaryInEar bool
}

// ParseEarDetection parses an OpEarDetection payload of two status bytes.
func ParseEarDetection(payload []byte) (EarDetection, error) {
	if len(payload) < 2 {
		return EarDetection{}, fmt.Errorf("ear detection payload too short: %d bytes", len(payload))
	}
	return EarDetection{
		PrimaryInEar:   payload[0] == 0x00,
		SecondaryInEar: payload[1] == 0x00,
	}, nil
}

// StemPress is a physical press event from the device.
type StemPress struct {
	Action StemAction
	Bud    BatteryComponent // ComponentLeft or ComponentRight
}

// ParseStemPress parses an OpStemPress payload: [action] [bud].
func ParseStemPress(payload []byte) (StemPress, error) {
	if len(payload) < 2 {
		return StemPress{}, fmt.Errorf("stem press payload too short: %d bytes", len(payload))
	}
	return StemPress{
		Action: StemAction(payload[0]),
		Bud:    BatteryComponent(payload[1]),
	}, nil
}

// Identification is the handshake response: the vendor/product code pair
// the accessory identifies as. The product id selects the capability set.
type Identification struct {
	VendorID  uint16
	ProductID uint16
}

// ParseIdentification parses an OpIdentification payload.
func ParseIdentification(payload []byte) (Identification, error) {
	if len(payload) < 4 {
		return Identification{}, fmt.Errorf("identification payload too short: %d bytes", len(payload))
	}
	return Identification{
		VendorID:  binary.LittleEndian.Uint16(payload[0:]),
		ProductID: binary.LittleEndian.Uint16(payload[2:]),
	}, nil
}

// Metadata carries the device information strings.
type Metadata struct {
	Name             string
	ModelNumber      string
	Manufacturer     string
	SerialNumber     string
	Firmware1        string
	Firmware2        string
	Firmware3        string
	HardwareRevision string
	UpdaterID        string
	LeftSerial       string
	RightSerial      string
}

// ParseMetadata parses an OpMetadata payload: [count] then count entries of
// [field tag] [length] [bytes]. Unknown field tags are skipped.
func ParseMetadata(payload []byte) (Metadata, error) {
	if len(payload) < 1 {
		return Metadata{}, fmt.Errorf("metadata payload too short")
	}
	var md Metadata
	count := int(payload[0])
	offset := 1
	for i := 0; i < count; i++ {
		if offset+2 > len(payload) {
			return Metadata{}, fmt.Errorf("incomplete metadata field %d at offset %d", i, offset)
		}
		tag := payload[offset]
		n := int(payload[offset+1])
		offset += 2
		if offset+n > len(payload) {
			return Metadata{}, fmt.Errorf("metadata field 0x%02X truncated: need %d bytes, have %d", tag, n, len(payload)-offset)
		}
		value := string(payload[offset : offset+n])
		offset += n
		switch tag {
		case metaName:
			md.Name = value
		case metaModelNumber:
			md.ModelNumber = value
		case metaManufacture:
			md.Manufacturer = value
		case metaSerial:
			md.SerialNumber = value
		case metaFirmware1:
			md.Firmware1 = value
		case metaFirmware2:
			md.Firmware2 = value
		case metaFirmware3:
			md.Firmware3 = value
		case metaHardwareRev:
			md.HardwareRevision = value
		case metaUpdaterID:
			md.UpdaterID = value
		case metaLeftSerial:
			md.LeftSerial = value
		case metaRightSerial:
			md.RightSerial = value
		}
	}
	return md, nil
}

// ProximityKey is one encryption key retrieved from the device.
type ProximityKey struct {
	Type ProximityKeyType
	Data []byte
}

// ParseProximityKeys parses an OpProximityKeys payload.
//
// Format:
//
//	Offset 0:  unknown
//	Offset 1:  key count
//
// For each key:
//
//	+0:  key type (0x01=IRK, 0x04=ENC_KEY)
//	+1:  unknown
//	+2:  key length
//	+3:  unknown
//	+4:  key data (length bytes)
func ParseProximityKeys(payload []byte) ([]ProximityKey, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("key payload too short: %d bytes", len(payload))
	}
	count := int(payload[1])
	if count == 0 || count > 10 {
		return nil, fmt.Errorf("suspicious key count %d", count)
	}
	keys := make([]ProximityKey, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		if offset+4 > len(payload) {
			return nil, fmt.Errorf("key %d header truncated at offset %d", i, offset)
		}
		keyType := ProximityKeyType(payload[offset])
		n := int(payload[offset+2])
		offset += 4
		if offset+n > len(payload) {
			return nil, fmt.Errorf("key %d data truncated: need %d bytes, have %d", i, n, len(payload)-offset)
		}
		keys = append(keys, ProximityKey{
			Type: keyType,
			Data: append([]byte(nil), payload[offset:offset+n]...),
		})
		offset += n
	}
	return keys, nil
}

// FindKey returns the key of the given type, or nil if absent.
func FindKey(keys []ProximityKey, t ProximityKeyType) []byte {
	for _, k := range keys {
		if k.Type == t {
			return k.Data
		}
	}
	return nil
}

// ParseConversationAwareness parses an OpConversationAwareness payload.
// The single byte is the detected speech level, 1 (speaking loudly) to
// 9 (silence restored).
func ParseConversationAwareness(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("conversation awareness payload empty")
	}
	return payload[0], nil
}
