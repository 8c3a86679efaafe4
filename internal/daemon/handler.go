package daemon

import (
	"fmt"
	"time"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
	"aacpctl/internal/ipc"
	"aacpctl/internal/session"
)

// outcomeWait bounds how long a control request may sit unresolved. The
// session's own retry policy resolves far sooner; this is a backstop.
const outcomeWait = 10 * time.Second

// Handle implements ipc.Handler.
func (d *Daemon) Handle(req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CmdStatus:
		return ipc.Response{Status: d.status()}

	case ipc.CmdCapabilities:
		sess := d.session()
		if sess == nil {
			return ipc.Response{Error: "no accessory connected"}
		}
		caps := sess.Capabilities()
		settings := caps.Settings()
		names := make([]string, len(settings))
		for i, s := range settings {
			names[i] = s.String()
		}
		return ipc.Response{Settings: names}

	case ipc.CmdSet:
		setting, ok := capability.ParseSetting(req.Setting)
		if !ok {
			return ipc.Response{Error: fmt.Sprintf("unknown setting %q", req.Setting)}
		}
		return d.request(setting, req.Value)

	case ipc.CmdMode:
		mode, ok := aacp.ParseNoiseMode(req.Mode)
		if !ok {
			return ipc.Response{Error: fmt.Sprintf("unknown noise mode %q", req.Mode)}
		}
		return d.request(capability.NoiseControlMode, int(mode))

	case ipc.CmdStem:
		action, ok := aacp.ParseStemAction(req.Action)
		if !ok {
			return ipc.Response{Error: fmt.Sprintf("unknown stem action %q", req.Action)}
		}
		sess := d.session()
		if sess == nil {
			return ipc.Response{Error: "no accessory connected"}
		}
		if err := sess.RequestStemAction(action); err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{Outcome: "sent"}

	default:
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

// request submits a setting write and waits for its outcome.
func (d *Daemon) request(setting capability.Setting, value int) ipc.Response {
	sess := d.session()
	if sess == nil {
		return ipc.Response{Error: "no accessory connected"}
	}
	outcome, err := sess.RequestSetting(setting, value)
	if err != nil {
		return ipc.Response{Error: err.Error()}
	}
	select {
	case o := <-outcome:
		return ipc.Response{Outcome: o.String()}
	case <-time.After(outcomeWait):
		return ipc.Response{Error: "timed out waiting for the device"}
	}
}

func (d *Daemon) status() *ipc.Status {
	sess := d.session()
	if sess == nil {
		return &ipc.Status{State: session.StateDisconnected.String()}
	}
	d.mu.RLock()
	address := d.device.Address
	d.mu.RUnlock()
	return statusFromSnapshot(sess.Snapshot(), address)
}

// statusFromSnapshot converts the session's state into the wire shape.
func statusFromSnapshot(snap session.Snapshot, address string) *ipc.Status {
	st := &ipc.Status{
		State:          snap.State.String(),
		Address:        address,
		Model:          snap.ModelName,
		Firmware:       snap.FirmwareVersion,
		Left:           batteryStatus(snap.Left),
		Right:          batteryStatus(snap.Right),
		Case:           batteryStatus(snap.Case),
		PrimaryInEar:   snap.PrimaryInEar,
		SecondaryInEar: snap.SecondaryInEar,
	}
	if snap.NoiseMode != aacp.NoiseModeUnknown {
		st.NoiseMode = snap.NoiseMode.String()
	}
	if len(snap.Settings) > 0 {
		st.Settings = make(map[string]int, len(snap.Settings))
		for s, v := range snap.Settings {
			st.Settings[s.String()] = v
		}
	}
	return st
}

func batteryStatus(b *session.ComponentBattery) *ipc.Battery {
	if b == nil {
		return nil
	}
	return &ipc.Battery{Level: b.Level, Charging: b.Charging}
}
