package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestParseBDAddr(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    [6]byte
		wantErr bool
	}{
		{
			name: "colon separated",
			in:   "A0:B1:C2:D3:E4:F5",
			// kernel order is reversed
			want: [6]byte{0xF5, 0xE4, 0xD3, 0xC2, 0xB1, 0xA0},
		},
		{
			name: "lowercase",
			in:   "a0:b1:c2:d3:e4:f5",
			want: [6]byte{0xF5, 0xE4, 0xD3, 0xC2, 0xB1, 0xA0},
		},
		{
			name:    "too short",
			in:      "A0:B1:C2",
			wantErr: true,
		},
		{
			name:    "bad hex",
			in:      "GG:B1:C2:D3:E4:F5",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBDAddr(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseBDAddr(%q) = %x, want %x", tt.in, got, tt.want)
			}
		})
	}
}

func TestDevicePathRoundTrip(t *testing.T) {
	a := &Adapter{path: "/org/bluez/hci0"}

	path := a.devicePath("aa:bb:cc:dd:ee:ff")
	if path != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Fatalf("devicePath = %q", path)
	}
	if addr := a.addressFromPath(path); addr != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("addressFromPath = %q", addr)
	}
	if addr := a.addressFromPath("/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF"); addr != "" {
		t.Errorf("foreign adapter path resolved to %q", addr)
	}
}

func TestDeviceFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"Address":   dbus.MakeVariant("11:22:33:44:55:66"),
		"Alias":     dbus.MakeVariant("Someone's AirPods Pro"),
		"Connected": dbus.MakeVariant(true),
		"Modalias":  dbus.MakeVariant("bluetooth:v004Cp2014dB087"),
	}
	d := deviceFromProps("/org/bluez/hci0/dev_11_22_33_44_55_66", props)
	if d.Address != "11:22:33:44:55:66" || !d.Connected {
		t.Errorf("device = %+v", d)
	}
	if d.VendorID != 0x004C || d.ProductID != 0x2014 {
		t.Errorf("ids = %04X/%04X, want 004C/2014", d.VendorID, d.ProductID)
	}
	if !d.Apple() {
		t.Error("vendor 0x004C should be Apple")
	}

	// A device without a modalias is kept but not Apple.
	d = deviceFromProps("/org/bluez/hci0/dev_xx", map[string]dbus.Variant{
		"Address": dbus.MakeVariant("11:22:33:44:55:66"),
	})
	if d.Apple() {
		t.Error("device without modalias must not match Apple")
	}
}

func TestConnectEventFilter(t *testing.T) {
	a := &Adapter{path: "/org/bluez/hci0"}
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	sig := &dbus.Signal{
		Path: path,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			deviceIface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
			[]string{},
		},
	}
	ev, ok := a.connectEvent(sig)
	if !ok {
		t.Fatal("connected flip not recognized")
	}
	if ev.Address != "AA:BB:CC:DD:EE:FF" || !ev.Connected {
		t.Errorf("event = %+v", ev)
	}

	// Property changes that are not Connected flips are ignored.
	sig.Body[1] = map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}
	if _, ok := a.connectEvent(sig); ok {
		t.Error("RSSI change reported as connect event")
	}

	// Signals from other interfaces are ignored.
	sig.Body[0] = "org.bluez.MediaControl1"
	sig.Body[1] = map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}
	if _, ok := a.connectEvent(sig); ok {
		t.Error("non-device interface reported as connect event")
	}
}
