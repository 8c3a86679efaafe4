package aacp

// Builders for outbound frames. Each returns a complete Frame ready for
// Encode; the canned bootstrap payloads live in opcodes.go.

// NewControlCommand builds a setting write.
func NewControlCommand(id ControlID, value ...byte) Frame {
	payload := make([]byte, 1+len(value))
	payload[0] = byte(id)
	copy(payload[1:], value)
	return Frame{Opcode: OpControlCommand, Payload: payload}
}

// NewStemAction builds a stem action request for the given bud.
func NewStemAction(action StemAction, bud BatteryComponent) Frame {
	return Frame{Opcode: OpStemPress, Payload: []byte{byte(action), byte(bud)}}
}

// NewFeatureFlags builds the post-handshake feature enable frame.
func NewFeatureFlags() Frame {
	return Frame{Opcode: OpFeatureFlags, Payload: append([]byte(nil), payloadFeatureFlags...)}
}

// NewNotificationsRequest builds the notification subscription frame.
func NewNotificationsRequest() Frame {
	return Frame{Opcode: OpNotifications, Payload: append([]byte(nil), payloadNotifications...)}
}

// NewProximityKeysRequest builds the encryption key request frame.
func NewProximityKeysRequest() Frame {
	return Frame{Opcode: OpProximityKeysReq, Payload: append([]byte(nil), payloadProximityKeysReq...)}
}

// NewInitExt builds the extended init frame for Adaptive ANC models.
func NewInitExt() Frame {
	return Frame{Opcode: OpInitExt, Payload: append([]byte(nil), payloadInitExt...)}
}
