// Package bluez talks to the BlueZ daemon over the system D-Bus. It finds
// Apple accessories among the managed devices, reports connect/disconnect
// events, and publishes battery readings through the BlueZ battery provider
// API. The AACP channel itself is a raw L2CAP socket, see l2cap.go.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"aacpctl/internal/capability"
	"aacpctl/internal/logx"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	omIface      = "org.freedesktop.DBus.ObjectManager"
)

// Device is one Bluetooth device as BlueZ sees it, with the vendor/product
// pair decoded from its modalias when present.
type Device struct {
	Path      dbus.ObjectPath
	Address   string
	Alias     string
	VendorID  uint16
	ProductID uint16
	Connected bool
}

// Apple reports whether the device identifies with Apple's vendor id.
func (d Device) Apple() bool { return d.VendorID == capability.AppleVendorID }

// ConnectEvent reports a device gaining or losing its Bluetooth link.
type ConnectEvent struct {
	Address   string
	Connected bool
}

// Adapter wraps a system bus connection scoped to one Bluetooth adapter.
type Adapter struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	log  zerolog.Logger
}

// NewAdapter connects to the system bus and verifies BlueZ is present.
func NewAdapter(name string) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &Adapter{
		conn: conn,
		path: dbus.ObjectPath("/org/bluez/" + name),
		log:  logx.Log.With().Str("component", "bluez").Logger(),
	}, nil
}

// Close drops the bus connection.
func (a *Adapter) Close() error { return a.conn.Close() }

// Powered reports whether the adapter radio is on.
func (a *Adapter) Powered() (bool, error) {
	obj := a.conn.Object(busName, a.path)
	v, err := obj.GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("Powered property is not bool")
	}
	return on, nil
}

// Accessories lists every Apple accessory BlueZ currently knows about on
// this adapter, connected or not.
func (a *Adapter) Accessories() ([]Device, error) {
	obj := a.conn.Object(busName, "/")
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call(omIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	var out []Device
	prefix := string(a.path) + "/"
	for path, interfaces := range objects {
		props, ok := interfaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		d := deviceFromProps(path, props)
		if d.Apple() {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindAccessory resolves the accessory to manage. With an address it returns
// that device; otherwise the first connected Apple accessory wins.
func (a *Adapter) FindAccessory(address string) (Device, error) {
	devices, err := a.Accessories()
	if err != nil {
		return Device{}, err
	}
	if address != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Address, address) {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("accessory %s not known to BlueZ", address)
	}
	for _, d := range devices {
		if d.Connected {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("no connected Apple accessory found")
}

// Connect asks BlueZ to establish the Bluetooth link.
func (a *Adapter) Connect(address string) error {
	obj := a.conn.Object(busName, a.devicePath(address))
	return obj.Call(deviceIface+".Connect", 0).Err
}

// Disconnect asks BlueZ to drop the Bluetooth link.
func (a *Adapter) Disconnect(address string) error {
	obj := a.conn.Object(busName, a.devicePath(address))
	return obj.Call(deviceIface+".Disconnect", 0).Err
}

// WatchConnections streams Connected property flips for devices on this
// adapter until the context is canceled.
func (a *Adapter) WatchConnections(ctx context.Context) (<-chan ConnectEvent, error) {
	rule := "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='" + string(a.path) + "'"
	if err := a.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return nil, fmt.Errorf("add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	a.conn.Signal(signals)

	events := make(chan ConnectEvent, 16)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				a.conn.RemoveSignal(signals)
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ev, ok := a.connectEvent(sig)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					a.conn.RemoveSignal(signals)
					return
				}
			}
		}
	}()
	return events, nil
}

// connectEvent filters a PropertiesChanged signal down to a Connected flip
// on a device object.
func (a *Adapter) connectEvent(sig *dbus.Signal) (ConnectEvent, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return ConnectEvent{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return ConnectEvent{}, false
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ConnectEvent{}, false
	}
	v, ok := changes["Connected"]
	if !ok {
		return ConnectEvent{}, false
	}
	connected, ok := v.Value().(bool)
	if !ok {
		return ConnectEvent{}, false
	}
	addr := a.addressFromPath(sig.Path)
	if addr == "" {
		return ConnectEvent{}, false
	}
	return ConnectEvent{Address: addr, Connected: connected}, true
}

// devicePath converts "AA:BB:CC:DD:EE:FF" to the BlueZ object path
// ".../dev_AA_BB_CC_DD_EE_FF".
func (a *Adapter) devicePath(address string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(string(a.path) + "/dev_" + escaped)
}

// addressFromPath is the inverse of devicePath; empty when the path does not
// belong to this adapter.
func (a *Adapter) addressFromPath(path dbus.ObjectPath) string {
	prefix := string(a.path) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// deviceFromProps builds a Device from a BlueZ property bag.
func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	d := Device{Path: path}
	if v, ok := props["Address"]; ok {
		d.Address, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		d.Alias, _ = v.Value().(string)
	}
	if v, ok := props["Connected"]; ok {
		d.Connected, _ = v.Value().(bool)
	}
	if v, ok := props["Modalias"]; ok {
		if s, sok := v.Value().(string); sok {
			if vendor, product, ok := capability.ParseModalias(s); ok {
				d.VendorID = vendor
				d.ProductID = product
			}
		}
	}
	return d
}
