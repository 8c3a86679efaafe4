package bluez

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"

	"aacpctl/internal/logx"
)

const (
	batteryManagerIface  = "org.bluez.BatteryProviderManager1"
	batteryProviderIface = "org.bluez.BatteryProvider1"
	providerPath         = "/io/aacpctl/battery"
	providerSource       = "aacpctl"
)

const providerIntrospect = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.freedesktop.DBus.ObjectManager">
		<method name="GetManagedObjects">
			<arg name="objects" type="a{oa{sa{sv}}}" direction="out"/>
		</method>
		<signal name="InterfacesAdded">
			<arg name="object_path" type="o"/>
			<arg name="interfaces_and_properties" type="a{sa{sv}}"/>
		</signal>
		<signal name="InterfacesRemoved">
			<arg name="object_path" type="o"/>
			<arg name="interfaces" type="as"/>
		</signal>
	</interface>
</node>`

const cellIntrospect = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.bluez.BatteryProvider1">
		<property name="Percentage" type="y" access="read"/>
		<property name="Device" type="o" access="read"/>
		<property name="Source" type="s" access="read"/>
	</interface>
	<interface name="org.freedesktop.DBus.Properties">
		<method name="Get">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="property_name" type="s" direction="in"/>
			<arg name="value" type="v" direction="out"/>
		</method>
		<method name="GetAll">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="properties" type="a{sv}" direction="out"/>
		</method>
	</interface>
</node>`

// batteryCell is one exported battery object (left, right, or case).
type batteryCell struct {
	path       dbus.ObjectPath
	percentage uint8
	device     dbus.ObjectPath
}

// BatteryProvider publishes per-component battery readings to BlueZ so the
// desktop battery widgets pick them up. It keeps its own persistent bus
// connection: BlueZ ties the provider registration to the connection, and
// the InterfacesAdded signal must be emitted on the same one.
type BatteryProvider struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	log     zerolog.Logger

	mu    sync.RWMutex
	cells map[string]*batteryCell
}

// NewBatteryProvider exports the ObjectManager root and registers with the
// adapter's BatteryProviderManager1.
func NewBatteryProvider(adapter string) (*BatteryProvider, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	p := &BatteryProvider{
		conn:    conn,
		adapter: dbus.ObjectPath("/org/bluez/" + adapter),
		log:     logx.Log.With().Str("component", "battery-provider").Logger(),
		cells:   make(map[string]*batteryCell),
	}

	if err := conn.Export(p, providerPath, omIface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export provider: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(providerIntrospect), providerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	obj := conn.Object(busName, p.adapter)
	if call := obj.Call(batteryManagerIface+".RegisterBatteryProvider", 0, dbus.ObjectPath(providerPath)); call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("register battery provider: %w", call.Err)
	}
	return p, nil
}

// Publish creates or updates the battery object for one component. New
// objects are announced with InterfacesAdded, existing ones with
// PropertiesChanged.
func (p *BatteryProvider) Publish(device dbus.ObjectPath, component string, percentage uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cell, ok := p.cells[component]; ok {
		if cell.percentage == percentage {
			return nil
		}
		cell.percentage = percentage
		changes := map[string]dbus.Variant{"Percentage": dbus.MakeVariant(percentage)}
		return p.conn.Emit(cell.path, propsIface+".PropertiesChanged",
			batteryProviderIface, changes, []string{})
	}

	cell := &batteryCell{
		path:       dbus.ObjectPath(fmt.Sprintf("%s/%s", providerPath, component)),
		percentage: percentage,
		device:     device,
	}
	if err := p.conn.Export(cell, cell.path, propsIface); err != nil {
		return err
	}
	if err := p.conn.Export(introspect.Introspectable(cellIntrospect), cell.path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}
	p.cells[component] = cell

	interfaces := map[string]map[string]dbus.Variant{
		batteryProviderIface: {
			"Percentage": dbus.MakeVariant(percentage),
			"Device":     dbus.MakeVariant(device),
			"Source":     dbus.MakeVariant(providerSource),
		},
	}
	if err := p.conn.Emit(providerPath, omIface+".InterfacesAdded", cell.path, interfaces); err != nil {
		return fmt.Errorf("emit InterfacesAdded: %w", err)
	}
	p.log.Debug().Str("component", component).Uint8("percentage", percentage).Msg("battery published")
	return nil
}

// Remove withdraws one component's battery object.
func (p *BatteryProvider) Remove(component string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cell, ok := p.cells[component]
	if !ok {
		return nil
	}
	if err := p.conn.Emit(providerPath, omIface+".InterfacesRemoved",
		cell.path, []string{batteryProviderIface}); err != nil {
		return fmt.Errorf("emit InterfacesRemoved: %w", err)
	}
	_ = p.conn.Export(nil, cell.path, propsIface)
	_ = p.conn.Export(nil, cell.path, "org.freedesktop.DBus.Introspectable")
	delete(p.cells, component)
	return nil
}

// RemoveAll withdraws every exported battery object, used on disconnect.
func (p *BatteryProvider) RemoveAll() {
	p.mu.RLock()
	components := make([]string, 0, len(p.cells))
	for name := range p.cells {
		components = append(components, name)
	}
	p.mu.RUnlock()
	for _, name := range components {
		if err := p.Remove(name); err != nil {
			p.log.Warn().Err(err).Str("component", name).Msg("battery removal failed")
		}
	}
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager.
func (p *BatteryProvider) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(p.cells))
	for _, cell := range p.cells {
		objects[cell.path] = map[string]map[string]dbus.Variant{
			batteryProviderIface: {
				"Percentage": dbus.MakeVariant(cell.percentage),
				"Device":     dbus.MakeVariant(cell.device),
				"Source":     dbus.MakeVariant(providerSource),
			},
		}
	}
	return objects, nil
}

// Close unregisters the provider and drops its bus connection.
func (p *BatteryProvider) Close() error {
	obj := p.conn.Object(busName, p.adapter)
	call := obj.Call(batteryManagerIface+".UnregisterBatteryProvider", 0, dbus.ObjectPath(providerPath))
	err := call.Err
	p.conn.Close()
	return err
}

// Get implements org.freedesktop.DBus.Properties for one battery object.
func (c *batteryCell) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	switch property {
	case "Percentage":
		return dbus.MakeVariant(c.percentage), nil
	case "Device":
		return dbus.MakeVariant(c.device), nil
	case "Source":
		return dbus.MakeVariant(providerSource), nil
	default:
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
}

// GetAll implements org.freedesktop.DBus.Properties for one battery object.
func (c *batteryCell) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	return map[string]dbus.Variant{
		"Percentage": dbus.MakeVariant(c.percentage),
		"Device":     dbus.MakeVariant(c.device),
		"Source":     dbus.MakeVariant(providerSource),
	}, nil
}

// Set rejects writes, all provider properties are read-only.
func (c *batteryCell) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{property})
}
