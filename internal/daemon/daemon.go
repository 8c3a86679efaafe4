// Package daemon supervises the accessory lifecycle. It finds the accessory
// through BlueZ, opens the AACP channel, runs one session per physical
// connection, republishes battery state to BlueZ, and serves the control
// socket the CLI talks to.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aacpctl/internal/bluez"
	"aacpctl/internal/capability"
	"aacpctl/internal/config"
	"aacpctl/internal/ipc"
	"aacpctl/internal/logx"
	"aacpctl/internal/session"
)

// Daemon owns the adapter connection and at most one live session.
type Daemon struct {
	cfg      *config.Config
	adapter  *bluez.Adapter
	provider *bluez.BatteryProvider
	log      zerolog.Logger

	mu     sync.RWMutex
	sess   *session.Session
	device bluez.Device
}

// New connects to BlueZ. The battery provider is best effort: older BlueZ
// builds ship without the provider API and the daemon still works.
func New(cfg *config.Config) (*Daemon, error) {
	adapter, err := bluez.NewAdapter(cfg.Device.Adapter)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:     cfg,
		adapter: adapter,
		log:     logx.Log.With().Str("component", "daemon").Logger(),
	}
	provider, err := bluez.NewBatteryProvider(cfg.Device.Adapter)
	if err != nil {
		d.log.Warn().Err(err).Msg("battery provider unavailable, continuing without")
	} else {
		d.provider = provider
	}
	return d, nil
}

// Close releases the bus connections.
func (d *Daemon) Close() error {
	if d.provider != nil {
		_ = d.provider.Close()
	}
	return d.adapter.Close()
}

// Run serves the control socket and supervises sessions until the context
// ends. Every disconnect tears the session down completely; reconnects get
// a brand new one.
func (d *Daemon) Run(ctx context.Context) error {
	srv, err := ipc.NewServer(d.cfg.Daemon.SocketPath, d)
	if err != nil {
		return err
	}
	defer srv.Close()
	go srv.Serve()
	d.log.Info().Str("socket", d.cfg.Daemon.SocketPath).Msg("control socket ready")

	events, err := d.adapter.WatchConnections(ctx)
	if err != nil {
		return err
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		device, err := d.adapter.FindAccessory(d.cfg.Device.Address)
		if err != nil {
			d.log.Debug().Err(err).Msg("waiting for accessory")
			if !d.waitForLink(ctx, events, attempt) {
				return nil
			}
			attempt++
			continue
		}

		start := time.Now()
		if err := d.runSession(ctx, device); err != nil {
			d.log.Warn().Err(err).Str("address", device.Address).Msg("session ended")
		}
		if ctx.Err() != nil {
			return nil
		}
		if !d.cfg.Daemon.Reconnect {
			return nil
		}
		if time.Since(start) > time.Minute {
			attempt = 0
		}
		if !sleepCtx(ctx, reconnectDelay(attempt)) {
			return nil
		}
		attempt++
	}
}

// waitForLink blocks until some device connects, the backoff elapses, or
// the context ends. False means the daemon should stop.
func (d *Daemon) waitForLink(ctx context.Context, events <-chan bluez.ConnectEvent, attempt int) bool {
	timer := time.NewTimer(reconnectDelay(attempt))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.Connected {
				d.log.Info().Str("address", ev.Address).Msg("device connected")
				return true
			}
		}
	}
}

// runSession dials the AACP channel and runs one session to completion.
func (d *Daemon) runSession(ctx context.Context, device bluez.Device) error {
	conn, err := bluez.DialL2CAP(device.Address, bluez.PSMAACP)
	if err != nil {
		return err
	}

	sess := session.New(conn, capability.NewRegistry(capability.DefaultTable()),
		session.WithHandshakeTimeout(d.cfg.Session.HandshakeTimeout.Std()),
		session.WithAckTimeout(d.cfg.Session.AckTimeout.Std()),
	)
	sess.OnStateChanged(func(snap session.Snapshot) {
		d.publishBattery(device, snap)
	})

	d.mu.Lock()
	d.sess = sess
	d.device = device
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.sess = nil
		d.mu.Unlock()
		if d.provider != nil {
			d.provider.RemoveAll()
		}
	}()

	d.log.Info().Str("address", device.Address).Str("alias", device.Alias).Msg("session starting")
	return sess.Run(ctx)
}

// publishBattery mirrors the snapshot's battery readings into the BlueZ
// battery provider.
func (d *Daemon) publishBattery(device bluez.Device, snap session.Snapshot) {
	if d.provider == nil {
		return
	}
	components := map[string]*session.ComponentBattery{
		"left":  snap.Left,
		"right": snap.Right,
		"case":  snap.Case,
	}
	for name, b := range components {
		if b == nil {
			continue
		}
		if err := d.provider.Publish(device.Path, name, b.Level); err != nil {
			d.log.Warn().Err(err).Str("component", name).Msg("battery publish failed")
		}
	}
}

// session returns the live session, nil while disconnected.
func (d *Daemon) session() *session.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sess
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
