// Package aacp implements the wire codec for the Apple Accessory Control
// Protocol (AACP) spoken by AirPods and Beats headphones.
//
// AACP gives access to features that are not reachable through standard
// Bluetooth profiles:
//   - Per-component battery levels (left, right, case) at 1% precision
//   - Noise control modes (Off, Noise Cancellation, Transparency, Adaptive)
//   - Ear detection and conversation awareness
//   - Stem press configuration and numerous per-model toggles
//
// Communication happens over an L2CAP channel on PSM 4097 (0x1001). The
// protocol is reverse engineered; opcode and identifier values in this file
// are field observed and must be preserved bit for bit.
//
// Based on reverse engineering work from:
//   - LibrePods: https://github.com/kavishdevar/librepods
//   - OpenPods: https://github.com/adolfintel/OpenPods
package aacp

// Opcode identifies the kind of an AACP frame.
type Opcode uint16

const (
	// OpIdentification is the device's handshake response advertising the
	// vendor/product code pair the accessory identifies as.
	OpIdentification Opcode = 0x0001

	// OpBatteryState carries per-component battery levels and charging flags.
	OpBatteryState Opcode = 0x0004

	// OpEarDetection reports in-ear status for the primary and secondary bud.
	OpEarDetection Opcode = 0x0006

	// OpControlCommand carries a setting write (host to device) or a setting
	// status notification (device to host). Same layout in both directions;
	// the device echoes a status after processing a write.
	OpControlCommand Opcode = 0x0009

	// OpNotifications requests that the device start pushing state
	// notifications for all feature categories.
	OpNotifications Opcode = 0x000F

	// OpStemPress reports a physical press on an earbud stem.
	OpStemPress Opcode = 0x0019

	// OpMetadata carries device information strings (name, model number,
	// serial numbers, firmware versions).
	OpMetadata Opcode = 0x001D

	// OpProximityKeysReq requests the proximity pairing encryption keys.
	OpProximityKeysReq Opcode = 0x0030

	// OpProximityKeys is the response carrying IRK and ENC_KEY material used
	// to decrypt BLE proximity advertisements.
	OpProximityKeys Opcode = 0x0031

	// OpConversationAwareness reports the detected speech level while
	// conversation awareness is active.
	OpConversationAwareness Opcode = 0x004B

	// OpFeatureFlags enables the extended feature set after the handshake.
	OpFeatureFlags Opcode = 0x004D

	// OpInitExt unlocks Adaptive ANC on models that gate it behind an
	// extended init exchange (AirPods Pro 2/3, USB-C, AirPods 4 ANC).
	OpInitExt Opcode = 0x004E
)

// ControlID identifies a setting inside an OpControlCommand payload.
// Values are field observed; several have no official documentation.
type ControlID uint8

const (
	IDMicrophoneMode     ControlID = 0x01
	IDButtonSendMode     ControlID = 0x05
	IDListeningMode      ControlID = 0x0D
	IDDoubleClickSpeed   ControlID = 0x17
	IDClickHoldDuration  ControlID = 0x18
	IDAllowOffOption     ControlID = 0x1A
	IDOneBudANC          ControlID = 0x1B
	IDChimeVolume        ControlID = 0x1F
	IDVolumeSwipeLength  ControlID = 0x23
	IDVolumeSwipeMode    ControlID = 0x25
	IDAdaptiveVolume     ControlID = 0x26
	IDConversationDetect ControlID = 0x28
	IDAutoANCStrength    ControlID = 0x2C
	IDAutoConnect        ControlID = 0x2E
	IDOwnsConnection     ControlID = 0x33
)

// NoiseMode is the wire encoding of the noise control mode.
type NoiseMode uint8

const (
	NoiseModeUnknown      NoiseMode = 0x00
	NoiseModeOff          NoiseMode = 0x01
	NoiseModeANC          NoiseMode = 0x02
	NoiseModeTransparency NoiseMode = 0x03
	NoiseModeAdaptive     NoiseMode = 0x04
)

func (m NoiseMode) String() string {
	switch m {
	case NoiseModeOff:
		return "off"
	case NoiseModeANC:
		return "noise_cancellation"
	case NoiseModeTransparency:
		return "transparency"
	case NoiseModeAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseNoiseMode maps a user-facing mode name to its wire value.
func ParseNoiseMode(s string) (NoiseMode, bool) {
	switch s {
	case "off":
		return NoiseModeOff, true
	case "anc", "noise_cancellation":
		return NoiseModeANC, true
	case "transparency":
		return NoiseModeTransparency, true
	case "adaptive":
		return NoiseModeAdaptive, true
	}
	return NoiseModeUnknown, false
}

// BatteryComponent identifies which part of the accessory a battery
// reading belongs to.
type BatteryComponent uint8

const (
	ComponentUnknown   BatteryComponent = 0x00
	ComponentRight     BatteryComponent = 0x02
	ComponentLeft      BatteryComponent = 0x04
	ComponentCase      BatteryComponent = 0x08
	ComponentHeadphone BatteryComponent = 0x01
)

func (c BatteryComponent) String() string {
	switch c {
	case ComponentRight:
		return "right"
	case ComponentLeft:
		return "left"
	case ComponentCase:
		return "case"
	case ComponentHeadphone:
		return "headphone"
	default:
		return "unknown"
	}
}

// BatteryStatus is the charging state of one battery component.
type BatteryStatus uint8

const (
	StatusUnknown      BatteryStatus = 0x00
	StatusCharging     BatteryStatus = 0x01
	StatusDischarging  BatteryStatus = 0x02
	StatusDisconnected BatteryStatus = 0x04
)

func (s BatteryStatus) String() string {
	switch s {
	case StatusCharging:
		return "charging"
	case StatusDischarging:
		return "discharging"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StemAction is a stem press kind, both as reported by the device and as
// requested by the host.
type StemAction uint8

const (
	StemSinglePress StemAction = 0x01
	StemDoublePress StemAction = 0x02
	StemTriplePress StemAction = 0x03
	StemLongPress   StemAction = 0x04
)

func (a StemAction) String() string {
	switch a {
	case StemSinglePress:
		return "single_press"
	case StemDoublePress:
		return "double_press"
	case StemTriplePress:
		return "triple_press"
	case StemLongPress:
		return "long_press"
	default:
		return "unknown"
	}
}

// ParseStemAction maps a user-facing action name to its wire value.
func ParseStemAction(s string) (StemAction, bool) {
	switch s {
	case "single", "single_press":
		return StemSinglePress, true
	case "double", "double_press":
		return StemDoublePress, true
	case "triple", "triple_press":
		return StemTriplePress, true
	case "long", "long_press":
		return StemLongPress, true
	}
	return 0, false
}

// ProximityKeyType distinguishes the encryption keys the device hands out.
type ProximityKeyType uint8

const (
	KeyTypeIRK    ProximityKeyType = 0x01 // Identity Resolving Key
	KeyTypeEncKey ProximityKeyType = 0x04 // advertisement encryption key
)

// Metadata field tags inside an OpMetadata payload.
const (
	metaName        = 0x01
	metaModelNumber = 0x02
	metaManufacture = 0x03
	metaSerial      = 0x04
	metaFirmware1   = 0x05
	metaFirmware2   = 0x06
	metaHardwareRev = 0x07
	metaUpdaterID   = 0x08
	metaLeftSerial  = 0x09
	metaRightSerial = 0x0A
	metaFirmware3   = 0x0B
)

// Bootstrap packets, carried verbatim. The handshake is the only packet that
// does not use the framed layout; it opens the channel with its own preamble.
var (
	// PacketHandshake is sent first after the L2CAP connection opens.
	PacketHandshake = []byte{0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// payloadFeatureFlags enables conversation awareness, adaptive
	// transparency and the rest of the extended feature set.
	payloadFeatureFlags = []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// payloadNotifications subscribes to every notification category.
	payloadNotifications = []byte{0xFF, 0xFF, 0xFF, 0xFF}

	// payloadProximityKeysReq asks for both IRK and ENC_KEY.
	payloadProximityKeysReq = []byte{0x05, 0x00}

	// payloadInitExt is the extended init blob for Adaptive ANC models.
	payloadInitExt = []byte{0x00, 0x00, 0x01, 0x00}
)
