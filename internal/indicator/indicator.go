// Package indicator is the optional system tray surface. It polls the
// daemon over the control socket, shows per-component battery levels, and
// lets the user switch noise control modes from the tray menu.
package indicator

import (
	"fmt"
	"time"

	"fyne.io/systray"
	"github.com/rs/zerolog"

	"aacpctl/internal/ipc"
	"aacpctl/internal/logx"
)

const pollInterval = 5 * time.Second

// noise mode menu order, stable across runs
var modeOrder = []struct {
	name  string
	title string
	hint  string
}{
	{"transparency", "Transparency", "Hear the world around you"},
	{"adaptive", "Adaptive", "Automatically adjusts"},
	{"anc", "Noise Cancellation", "Block background noise"},
	{"off", "Off", "Noise control disabled"},
}

// Indicator manages the tray icon and menu. All menu state is owned by the
// single loop goroutine systray hands us.
type Indicator struct {
	socket string
	log    zerolog.Logger

	statusItem   *systray.MenuItem
	batteryItems [3]*systray.MenuItem
	modeItems    map[string]*systray.MenuItem
}

// New builds an indicator talking to the daemon on the given socket.
func New(socketPath string) *Indicator {
	return &Indicator{
		socket:    socketPath,
		log:       logx.Log.With().Str("component", "indicator").Logger(),
		modeItems: make(map[string]*systray.MenuItem),
	}
}

// Run blocks until the user quits the tray.
func (ind *Indicator) Run() {
	systray.Run(ind.onReady, ind.onExit)
}

func (ind *Indicator) onReady() {
	systray.SetTitle("aacpctl")
	systray.SetTooltip("Waiting for accessory...")

	ind.statusItem = systray.AddMenuItem("Disconnected", "Connection state")
	ind.statusItem.Disable()
	systray.AddSeparator()

	ind.batteryItems[0] = systray.AddMenuItem(formatBattery("Left ", nil), "Left battery")
	ind.batteryItems[0].Disable()
	ind.batteryItems[1] = systray.AddMenuItem(formatBattery("Right", nil), "Right battery")
	ind.batteryItems[1].Disable()
	ind.batteryItems[2] = systray.AddMenuItem(formatBattery("Case ", nil), "Case battery")
	ind.batteryItems[2].Disable()

	systray.AddSeparator()
	systray.AddMenuItem("Noise Control", "Noise control mode").Disable()
	for _, m := range modeOrder {
		ind.modeItems[m.name] = systray.AddMenuItemCheckbox(m.title, m.hint, false)
	}

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Close the tray")

	go ind.loop(mQuit)
}

func (ind *Indicator) onExit() {
	ind.log.Debug().Msg("tray exited")
}

// loop polls the daemon and services menu clicks.
func (ind *Indicator) loop(quit *systray.MenuItem) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	ind.refresh()
	for {
		select {
		case <-ticker.C:
			ind.refresh()
		case <-ind.modeItems["transparency"].ClickedCh:
			ind.setMode("transparency")
		case <-ind.modeItems["adaptive"].ClickedCh:
			ind.setMode("adaptive")
		case <-ind.modeItems["anc"].ClickedCh:
			ind.setMode("anc")
		case <-ind.modeItems["off"].ClickedCh:
			ind.setMode("off")
		case <-quit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (ind *Indicator) refresh() {
	resp, err := ipc.Call(ind.socket, ipc.Request{Command: ipc.CmdStatus})
	if err != nil {
		ind.log.Debug().Err(err).Msg("daemon unreachable")
		ind.applyStatus(nil)
		return
	}
	if resp.Error != "" {
		ind.log.Warn().Str("error", resp.Error).Msg("status request rejected")
		return
	}
	ind.applyStatus(resp.Status)
}

func (ind *Indicator) applyStatus(st *ipc.Status) {
	if st == nil || st.State != "ready" {
		ind.statusItem.SetTitle("Disconnected")
		systray.SetTooltip("Waiting for accessory...")
		for i, label := range []string{"Left ", "Right", "Case "} {
			ind.batteryItems[i].SetTitle(formatBattery(label, nil))
		}
		for _, item := range ind.modeItems {
			item.Uncheck()
		}
		return
	}

	ind.statusItem.SetTitle(st.Model)
	if lowest, ok := lowestLevel(st.Left, st.Right, st.Case); ok {
		systray.SetTooltip(fmt.Sprintf("%s - %d%%", st.Model, lowest))
	} else {
		systray.SetTooltip(st.Model)
	}

	ind.batteryItems[0].SetTitle(formatBattery("Left ", st.Left))
	ind.batteryItems[1].SetTitle(formatBattery("Right", st.Right))
	ind.batteryItems[2].SetTitle(formatBattery("Case ", st.Case))

	for name, item := range ind.modeItems {
		if modeMatches(name, st.NoiseMode) {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func (ind *Indicator) setMode(name string) {
	resp, err := ipc.Call(ind.socket, ipc.Request{Command: ipc.CmdMode, Mode: name})
	if err != nil {
		ind.log.Warn().Err(err).Msg("mode request failed")
		return
	}
	if resp.Error != "" {
		ind.log.Warn().Str("error", resp.Error).Str("mode", name).Msg("mode rejected")
		return
	}
	ind.refresh()
}

// modeMatches maps the menu's short names onto the daemon's mode strings.
func modeMatches(menuName, status string) bool {
	if menuName == "anc" {
		return status == "noise_cancellation"
	}
	return menuName == status
}

// formatBattery renders one battery menu line.
func formatBattery(label string, b *ipc.Battery) string {
	if b == nil {
		return fmt.Sprintf("  %s  --", label)
	}
	charging := ""
	if b.Charging {
		charging = " +"
	}
	return fmt.Sprintf("  %s  %d%%%s", label, b.Level, charging)
}

// lowestLevel returns the minimum known battery level.
func lowestLevel(batteries ...*ipc.Battery) (uint8, bool) {
	var lowest uint8 = 101
	for _, b := range batteries {
		if b != nil && b.Level < lowest {
			lowest = b.Level
		}
	}
	if lowest > 100 {
		return 0, false
	}
	return lowest, true
}
