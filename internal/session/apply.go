package session

import (
	"encoding/hex"
	"fmt"
	"time"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
)

func (s *Session) writeFrame(f aacp.Frame) error {
	if _, err := s.conn.Write(aacp.Encode(f)); err != nil {
		return fmt.Errorf("write frame 0x%04X: %w", uint16(f.Opcode), err)
	}
	return nil
}

// applyFrame classifies one decoded frame: state notifications mutate the
// snapshot and fire exactly one change notification, command statuses also
// resolve the matching pending command, and unrecognized opcodes are logged
// and dropped.
func (s *Session) applyFrame(f aacp.Frame) {
	switch f.Opcode {
	case aacp.OpBatteryState:
		batteries, err := aacp.ParseBattery(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad battery frame")
			return
		}
		s.updateState(func(sn *Snapshot) {
			for _, b := range batteries {
				cb := &ComponentBattery{Level: b.Level, Charging: b.Status == aacp.StatusCharging}
				switch b.Component {
				case aacp.ComponentLeft:
					sn.Left = cb
				case aacp.ComponentRight:
					sn.Right = cb
				case aacp.ComponentCase:
					sn.Case = cb
				case aacp.ComponentHeadphone:
					// Over-ear models report a single battery; surface it
					// on both sides so consumers need no special case.
					sn.Left = cb
					sn.Right = &ComponentBattery{Level: b.Level, Charging: cb.Charging}
				}
			}
		})

	case aacp.OpControlCommand:
		cmd, err := aacp.ParseControlCommand(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad control command frame")
			return
		}
		setting, ok := capability.SettingForControlID(cmd.ID)
		if !ok {
			s.log.Debug().Uint8("identifier", uint8(cmd.ID)).Msg("ignoring unmapped control identifier")
			return
		}
		value := int(cmd.Byte())
		s.updateState(func(sn *Snapshot) {
			sn.Settings[setting] = value
			if setting == capability.NoiseControlMode {
				sn.NoiseMode = aacp.NoiseMode(value)
			}
		})
		// Resolve after the snapshot update so a caller that observes the
		// outcome already sees the new value.
		if p, ok := s.pending[setting]; ok {
			if p.value == value {
				p.resolve(OutcomeConfirmed)
			} else {
				p.resolve(OutcomeFailed)
			}
			delete(s.pending, setting)
		}

	case aacp.OpEarDetection:
		ed, err := aacp.ParseEarDetection(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad ear detection frame")
			return
		}
		s.updateState(func(sn *Snapshot) {
			p, q := ed.PrimaryInEar, ed.SecondaryInEar
			sn.PrimaryInEar = &p
			sn.SecondaryInEar = &q
		})

	case aacp.OpMetadata:
		md, err := aacp.ParseMetadata(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad metadata frame")
			return
		}
		s.updateState(func(sn *Snapshot) {
			if md.Name != "" {
				sn.Name = md.Name
			}
			if md.ModelNumber != "" {
				sn.ModelNumber = md.ModelNumber
			}
			if md.SerialNumber != "" {
				sn.SerialNumber = md.SerialNumber
			}
			if md.Firmware1 != "" {
				sn.FirmwareVersion = md.Firmware1
			}
		})

	case aacp.OpProximityKeys:
		keys, err := aacp.ParseProximityKeys(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad proximity keys frame")
			return
		}
		s.updateState(func(sn *Snapshot) {
			if irk := aacp.FindKey(keys, aacp.KeyTypeIRK); irk != nil {
				sn.IRK = irk
			}
			if enc := aacp.FindKey(keys, aacp.KeyTypeEncKey); enc != nil {
				sn.EncryptionKey = enc
			}
		})

	case aacp.OpConversationAwareness:
		level, err := aacp.ParseConversationAwareness(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad conversation awareness frame")
			return
		}
		s.updateState(func(sn *Snapshot) {
			l := level
			sn.ConversationLevel = &l
		})

	case aacp.OpStemPress:
		press, err := aacp.ParseStemPress(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad stem press frame")
			return
		}
		s.mu.RLock()
		observers := append(([]func(aacp.StemPress))(nil), s.stemObs...)
		s.mu.RUnlock()
		for _, fn := range observers {
			fn(press)
		}

	case aacp.OpIdentification:
		// Already handled during the handshake; a repeat is harmless.
		s.log.Debug().Msg("duplicate identification frame")

	default:
		// Forward compatibility: firmware newer than this build may send
		// frames we do not understand.
		s.log.Debug().
			Uint16("opcode", uint16(f.Opcode)).
			Str("payload", hex.EncodeToString(f.Payload)).
			Msg("dropping unrecognized opcode")
	}
}

// updateState mutates the owned snapshot and delivers one immutable copy to
// every observer, in frame-decode order.
func (s *Session) updateState(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	s.snap.LastFrame = time.Now()
	snap := s.snap.clone()
	observers := append(([]func(Snapshot))(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}
