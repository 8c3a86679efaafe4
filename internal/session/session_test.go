package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
)

// fakeConn is a scripted transport. Every session write rendezvouses with
// the test (the bytes arrive on writes, the write call blocks until ack),
// which makes command coalescing and retry timing fully deterministic.
type fakeConn struct {
	writes  chan []byte
	release chan struct{}
	readc   chan []byte
	readBuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes:  make(chan []byte),
		release: make(chan struct{}),
		readc:   make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	b := append([]byte(nil), p...)
	select {
	case c.writes <- b:
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
	select {
	case <-c.release:
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		select {
		case b := <-c.readc:
			c.readBuf = b
		case <-c.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// device drives the accessory side of a scripted session.
type device struct {
	t    *testing.T
	conn *fakeConn
}

func (d *device) expectWrite() []byte {
	d.t.Helper()
	select {
	case b := <-d.conn.writes:
		return b
	case <-time.After(2 * time.Second):
		d.t.Fatal("timed out waiting for a session write")
		return nil
	}
}

func (d *device) ack() {
	d.t.Helper()
	select {
	case d.conn.release <- struct{}{}:
	case <-time.After(2 * time.Second):
		d.t.Fatal("timed out releasing a session write")
	}
}

// expectFrame receives one write and decodes it as a single frame.
func (d *device) expectFrame() aacp.Frame {
	d.t.Helper()
	raw := d.expectWrite()
	d.ack()
	var dec aacp.Decoder
	dec.Feed(raw)
	f, ok, err := dec.Next()
	if err != nil || !ok {
		d.t.Fatalf("session wrote %x, not a frame: ok=%v err=%v", raw, ok, err)
	}
	return f
}

func (d *device) send(f aacp.Frame) {
	d.t.Helper()
	d.conn.readc <- aacp.Encode(f)
}

// completeHandshake plays the device side of the bootstrap sequence and
// identifies as the given product id.
func (d *device) completeHandshake(productID uint16) {
	d.t.Helper()
	raw := d.expectWrite()
	if !bytes.Equal(raw, aacp.PacketHandshake) {
		d.t.Fatalf("first write = %x, want handshake packet", raw)
	}
	d.ack()
	if f := d.expectFrame(); f.Opcode != aacp.OpFeatureFlags {
		d.t.Fatalf("second write opcode = 0x%04X, want feature flags", uint16(f.Opcode))
	}
	if f := d.expectFrame(); f.Opcode != aacp.OpNotifications {
		d.t.Fatalf("third write opcode = 0x%04X, want notifications request", uint16(f.Opcode))
	}
	d.send(aacp.Frame{Opcode: aacp.OpIdentification, Payload: []byte{
		0x4C, 0x00, byte(productID), byte(productID >> 8),
	}})
	if capability.NeedsInitExt(productID) {
		if f := d.expectFrame(); f.Opcode != aacp.OpInitExt {
			d.t.Fatalf("expected init ext, got opcode 0x%04X", uint16(f.Opcode))
		}
	}
	if f := d.expectFrame(); f.Opcode != aacp.OpProximityKeysReq {
		d.t.Fatalf("expected proximity keys request, got opcode 0x%04X", uint16(f.Opcode))
	}
}

func testTable() capability.Table {
	table := capability.DefaultTable()
	// Interop model used by the scenario tests: a full-featured set under a
	// product id outside the shipped table.
	table[0x0A20] = capability.ModelInfo{Name: "Test Buds", ANC: true, Adaptive: true, Stem: true, ConvAwE: true}
	return table
}

func startSession(t *testing.T, productID uint16, opts ...Option) (*Session, *device, chan error) {
	t.Helper()
	conn := newFakeConn()
	d := &device{t: t, conn: conn}
	opts = append([]Option{
		WithHandshakeTimeout(2 * time.Second),
		WithAckTimeout(100 * time.Millisecond),
	}, opts...)
	s := New(conn, capability.NewRegistry(testTable()), opts...)
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(context.Background())
		close(runErr)
	}()
	d.completeHandshake(productID)
	waitState(t, s, StateReady)
	t.Cleanup(func() {
		s.Close()
		<-runErr
	})
	return s, d, runErr
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session state = %v, want %v", s.State(), want)
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command outcome")
		return 0
	}
}

func TestHandshakeDerivesCapabilities(t *testing.T) {
	s, _, _ := startSession(t, 0x0A20)

	caps := s.Capabilities()
	if caps.ModelName != "Test Buds" {
		t.Errorf("model = %q", caps.ModelName)
	}
	if !caps.Supports(capability.ConversationAwareness) {
		t.Error("model 0x0A20 should support conversation awareness")
	}
	snap := s.Snapshot()
	if snap.ProductID != 0x0A20 || snap.VendorID != 0x004C {
		t.Errorf("snapshot ids = %04X/%04X", snap.VendorID, snap.ProductID)
	}
	if snap.Left != nil || snap.Right != nil || snap.Case != nil {
		t.Error("battery must start unknown")
	}
}

func TestRequestSettingEncodesFrame(t *testing.T) {
	s, d, _ := startSession(t, 0x0A20)

	outcome, err := s.RequestSetting(capability.ConversationAwareness, 1)
	if err != nil {
		t.Fatal(err)
	}
	f := d.expectFrame()
	if f.Opcode != aacp.OpControlCommand {
		t.Fatalf("opcode = 0x%04X", uint16(f.Opcode))
	}
	if !bytes.Equal(f.Payload, []byte{byte(aacp.IDConversationDetect), 0x01}) {
		t.Fatalf("payload = %x, want identifier 0x28 value 0x01", f.Payload)
	}

	// The device acknowledges by echoing the new value.
	d.send(aacp.NewControlCommand(aacp.IDConversationDetect, 0x01))
	if o := waitOutcome(t, outcome); o != OutcomeConfirmed {
		t.Errorf("outcome = %v, want confirmed", o)
	}
	snap := s.Snapshot()
	if v, ok := snap.Settings[capability.ConversationAwareness]; !ok || v != 1 {
		t.Errorf("snapshot setting = %d (%v)", v, ok)
	}
}

func TestCapabilityGating(t *testing.T) {
	// AirPods (2nd gen): no conversation awareness, no noise control.
	s, d, _ := startSession(t, 0x200F)

	if _, err := s.RequestSetting(capability.ConversationAwareness, 1); !errors.Is(err, capability.ErrUnsupportedSetting) {
		t.Fatalf("err = %v, want ErrUnsupportedSetting", err)
	}
	if _, err := s.RequestSetting(capability.NoiseControlMode, int(aacp.NoiseModeANC)); !errors.Is(err, capability.ErrUnsupportedSetting) {
		t.Fatalf("err = %v, want ErrUnsupportedSetting", err)
	}

	// Nothing was transmitted: the next frame on the wire is the valid
	// request below, not a rejected one.
	outcome, err := s.RequestSetting(capability.AutoConnect, 1)
	if err != nil {
		t.Fatal(err)
	}
	f := d.expectFrame()
	if !bytes.Equal(f.Payload, []byte{byte(aacp.IDAutoConnect), 0x01}) {
		t.Fatalf("unexpected frame on wire: %v", f)
	}
	d.send(aacp.NewControlCommand(aacp.IDAutoConnect, 0x01))
	waitOutcome(t, outcome)
}

func TestOutOfRangeNeverClamped(t *testing.T) {
	s, _, _ := startSession(t, 0x0A20)

	if _, err := s.RequestSetting(capability.ToneVolume, 101); !errors.Is(err, capability.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if _, err := s.RequestSetting(capability.NoiseControlMode, 0x09); !errors.Is(err, capability.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestSupersedeTransmitsOnlyLatest(t *testing.T) {
	s, d, _ := startSession(t, 0x0A20)

	// Park the protocol loop inside a write so the two setting requests
	// below are queued and coalesced together.
	if err := s.RequestStemAction(aacp.StemSinglePress); err != nil {
		t.Fatal(err)
	}
	stemRaw := d.expectWrite() // loop is now blocked in this write

	first, err := s.RequestSetting(capability.ConversationAwareness, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.RequestSetting(capability.ConversationAwareness, 1)
	if err != nil {
		t.Fatal(err)
	}

	d.ack() // release the stem write
	var dec aacp.Decoder
	dec.Feed(stemRaw)
	if f, ok, _ := dec.Next(); !ok || f.Opcode != aacp.OpStemPress {
		t.Fatalf("parked write was %x", stemRaw)
	}

	if o := waitOutcome(t, first); o != OutcomeSuperseded {
		t.Fatalf("first outcome = %v, want superseded", o)
	}

	// Exactly one frame reflecting the second request's value.
	f := d.expectFrame()
	if !bytes.Equal(f.Payload, []byte{byte(aacp.IDConversationDetect), 0x01}) {
		t.Fatalf("transmitted frame = %v, want conversation awareness on", f)
	}
	select {
	case extra := <-d.conn.writes:
		t.Fatalf("unexpected extra write: %x", extra)
	case <-time.After(50 * time.Millisecond):
	}

	d.send(aacp.NewControlCommand(aacp.IDConversationDetect, 0x01))
	if o := waitOutcome(t, second); o != OutcomeConfirmed {
		t.Errorf("second outcome = %v, want confirmed", o)
	}
}

func TestAckTimeoutRetriesOnceThenFails(t *testing.T) {
	s, d, _ := startSession(t, 0x0A20, WithAckTimeout(50*time.Millisecond))

	outcome, err := s.RequestSetting(capability.ConversationAwareness, 1)
	if err != nil {
		t.Fatal(err)
	}
	sent := d.expectWrite()
	d.ack()

	// No acknowledgment: the single retry must carry the same bytes.
	retried := d.expectWrite()
	d.ack()
	if !bytes.Equal(sent, retried) {
		t.Errorf("retry bytes differ: %x vs %x", sent, retried)
	}

	if o := waitOutcome(t, outcome); o != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", o)
	}

	// Never a third send.
	select {
	case extra := <-d.conn.writes:
		t.Fatalf("third transmission after failure: %x", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestBatteryNotification(t *testing.T) {
	s, d, _ := startSession(t, 0x0A20)

	snaps := make(chan Snapshot, 8)
	s.OnStateChanged(func(sn Snapshot) { snaps <- sn })

	d.send(aacp.Frame{Opcode: aacp.OpBatteryState, Payload: []byte{
		0x02,
		0x04, 0x01, 0x50, 0x02, 0x01, // left 80%
		0x02, 0x01, 0x4B, 0x02, 0x01, // right 75%
	}})

	var snap Snapshot
	select {
	case snap = <-snaps:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
	if snap.Left == nil || snap.Left.Level != 80 {
		t.Errorf("left = %+v, want 80%%", snap.Left)
	}
	if snap.Right == nil || snap.Right.Level != 75 {
		t.Errorf("right = %+v, want 75%%", snap.Right)
	}
	if snap.Case != nil {
		t.Errorf("case = %+v, want unknown", snap.Case)
	}

	// Exactly one notification for one frame.
	select {
	case extra := <-snaps:
		t.Fatalf("second notification for a single frame: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	// A later case reading must not disturb the earlier snapshot.
	d.send(aacp.Frame{Opcode: aacp.OpBatteryState, Payload: []byte{
		0x01,
		0x08, 0x01, 0x32, 0x01, 0x01, // case 50% charging
	}})
	var second Snapshot
	select {
	case second = <-snaps:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for the case reading")
	}
	if second.Case == nil || second.Case.Level != 50 || !second.Case.Charging {
		t.Errorf("case = %+v, want 50%% charging", second.Case)
	}
	if second.Left == nil || second.Left.Level != 80 {
		t.Errorf("left lost across partial update: %+v", second.Left)
	}
	if snap.Case != nil {
		t.Error("earlier snapshot mutated after handoff")
	}
}

func TestUnknownOpcodeDropped(t *testing.T) {
	s, d, runErr := startSession(t, 0x0A20)

	d.send(aacp.Frame{Opcode: aacp.Opcode(0x0777), Payload: []byte{0x01, 0x02}})
	d.send(aacp.Frame{Opcode: aacp.OpConversationAwareness, Payload: []byte{0x03}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lvl := s.Snapshot().ConversationLevel; lvl != nil && *lvl == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if lvl := s.Snapshot().ConversationLevel; lvl == nil || *lvl != 3 {
		t.Fatal("frame after unknown opcode was not processed")
	}
	select {
	case err := <-runErr:
		t.Fatalf("session died on unknown opcode: %v", err)
	default:
	}
}

func TestFramingErrorIsFatal(t *testing.T) {
	_, d, runErr := startSession(t, 0x0A20)

	d.conn.readc <- []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, 0x00}
	select {
	case err := <-runErr:
		if !errors.Is(err, aacp.ErrFraming) {
			t.Fatalf("err = %v, want ErrFraming", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a framing error")
	}
}

func TestDisconnectFailsPendingCommands(t *testing.T) {
	s, d, runErr := startSession(t, 0x0A20)

	outcome, err := s.RequestSetting(capability.ConversationAwareness, 1)
	if err != nil {
		t.Fatal(err)
	}
	d.expectWrite()
	d.ack()

	d.conn.Close()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the dead transport")
	}
	if o := waitOutcome(t, outcome); o != OutcomeFailed {
		t.Errorf("outcome = %v, want failed", o)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _, runErr := startSession(t, 0x0A20)

	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close on a disconnected session: %v", err)
	}
	if _, err := s.RequestSetting(capability.ConversationAwareness, 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("request after close: err = %v, want ErrNotReady", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	conn := newFakeConn()
	d := &device{t: t, conn: conn}
	s := New(conn, capability.NewRegistry(testTable()),
		WithHandshakeTimeout(50*time.Millisecond))
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	// Swallow the bootstrap writes but never identify.
	d.expectWrite()
	d.ack()
	d.expectWrite()
	d.ack()
	d.expectWrite()
	d.ack()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Fatalf("err = %v, want ErrHandshakeTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never timed out")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestInitExtSentForAdaptiveModels(t *testing.T) {
	// completeHandshake asserts the init-ext frame for 0x2014.
	s, _, _ := startSession(t, 0x2014)
	if got := s.Capabilities().ModelName; got != "AirPods Pro 2" {
		t.Errorf("model = %q", got)
	}
}
