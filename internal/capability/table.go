package capability

import "aacpctl/internal/aacp"

// AppleVendorID is the Bluetooth SIG vendor id Apple accessories report.
const AppleVendorID = 0x004C

// ModelInfo is one row of the model table: the feature flags a hardware
// revision ships with. The capability set is derived from these flags.
type ModelInfo struct {
	Name     string
	ANC      bool // has noise cancellation / transparency
	Adaptive bool // has Adaptive mode (and adaptive audio family)
	Stem     bool // has press-sensitive stem controls
	ConvAwE  bool // has conversation awareness
}

// Table maps a product id to its model info. The registry is seeded from a
// table so that callers (and tests) can supply their own.
type Table map[uint16]ModelInfo

// DefaultTable returns the shipped model table.
func DefaultTable() Table {
	return Table{
		//                                                      ANC    Adaptive Stem   CA
		0x2002: {Name: "AirPods (1st gen)"},
		0x200F: {Name: "AirPods (2nd gen)"},
		0x2013: {Name: "AirPods (3rd gen)", Stem: true},
		0x2019: {Name: "AirPods (4th gen)", Stem: true},
		0x201B: {Name: "AirPods 4 ANC", ANC: true, Adaptive: true, Stem: true, ConvAwE: true},
		0x200E: {Name: "AirPods Pro", ANC: true, Stem: true},
		0x2014: {Name: "AirPods Pro 2", ANC: true, Adaptive: true, Stem: true, ConvAwE: true},
		0x2027: {Name: "AirPods Pro 3", ANC: true, Adaptive: true, Stem: true, ConvAwE: true},
		0x2024: {Name: "AirPods Pro (USB-C)", ANC: true, Adaptive: true, Stem: true, ConvAwE: true},
		0x200A: {Name: "AirPods Max", ANC: true},
		0x201F: {Name: "AirPods Max (2024)", ANC: true},
		0x200B: {Name: "Powerbeats Pro"},
		0x201D: {Name: "Powerbeats Pro 2", ANC: true},
		0x2006: {Name: "Beats Solo3"},
		0x200C: {Name: "Beats Solo Pro", ANC: true},
		0x2009: {Name: "Beats Studio3", ANC: true},
		0x2005: {Name: "Beats X"},
		0x2010: {Name: "Beats Flex"},
		0x2003: {Name: "Powerbeats3"},
		0x200D: {Name: "Powerbeats4"},
		0x2012: {Name: "Beats Fit Pro", ANC: true},
		0x2011: {Name: "Beats Studio Buds", ANC: true},
		0x2016: {Name: "Beats Studio Buds+", ANC: true},
		0x2017: {Name: "Beats Studio Pro", ANC: true},
		0x2025: {Name: "Beats Solo 4", ANC: true},
		0x2026: {Name: "Beats Solo Buds"},
	}
}

// NeedsInitExt reports whether a model requires the extended init frame
// after the handshake to unlock Adaptive ANC.
func NeedsInitExt(productID uint16) bool {
	switch productID {
	case 0x201B, 0x2014, 0x2027, 0x2024:
		return true
	}
	return false
}

// Registry resolves product ids to capability sets. It is a pure lookup
// over the seeded table; no mutable state.
type Registry struct {
	table Table
}

// NewRegistry builds a registry from a table.
func NewRegistry(table Table) *Registry {
	return &Registry{table: table}
}

// Lookup returns the capability set for a product id. Unknown ids resolve
// to a conservative default: battery reporting works for everything, noise
// control is limited to the basic modes, and nothing else is offered.
func (r *Registry) Lookup(productID uint16) Set {
	info, ok := r.table[productID]
	if !ok {
		return Set{
			ModelName: "Apple Headphones",
			domains: map[Setting]ValueDomain{
				NoiseControlMode: {Kind: DomainEnum, Values: []byte{
					byte(aacp.NoiseModeOff), byte(aacp.NoiseModeANC), byte(aacp.NoiseModeTransparency),
				}},
			},
		}
	}
	return buildSet(info)
}

// buildSet expands a model's feature flags into its capability set.
func buildSet(info ModelInfo) Set {
	domains := map[Setting]ValueDomain{
		AutoConnect: {Kind: DomainBool},
	}

	if info.ANC {
		modes := []byte{byte(aacp.NoiseModeOff), byte(aacp.NoiseModeANC), byte(aacp.NoiseModeTransparency)}
		if info.Adaptive {
			modes = append(modes, byte(aacp.NoiseModeAdaptive))
		}
		domains[NoiseControlMode] = ValueDomain{Kind: DomainEnum, Values: modes}
		domains[AllowOffMode] = ValueDomain{Kind: DomainBool}
	}

	// One-bud ANC only exists on earbuds, which in this table are exactly
	// the ANC models with stem controls.
	if info.ANC && info.Stem {
		domains[OneBudANC] = ValueDomain{Kind: DomainBool}
	}

	if info.Adaptive {
		domains[AdaptiveNoiseLevel] = ValueDomain{Kind: DomainIntRange, Min: 0, Max: 100}
		domains[AdaptiveVolume] = ValueDomain{Kind: DomainBool}
		domains[VolumeSwipe] = ValueDomain{Kind: DomainBool}
		domains[VolumeSwipeLength] = ValueDomain{Kind: DomainEnum, Values: []byte{0x00, 0x01, 0x02}}
	}

	if info.ConvAwE {
		domains[ConversationAwareness] = ValueDomain{Kind: DomainBool}
	}

	if info.Stem {
		domains[PressSpeed] = ValueDomain{Kind: DomainEnum, Values: []byte{0x00, 0x01, 0x02}}
		domains[PressHoldDuration] = ValueDomain{Kind: DomainEnum, Values: []byte{0x00, 0x01, 0x02}}
		domains[ToneVolume] = ValueDomain{Kind: DomainIntRange, Min: 15, Max: 100}
	}

	return Set{ModelName: info.Name, domains: domains}
}
