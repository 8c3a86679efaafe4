package bluez

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"unsafe"
)

// AACP listens on L2CAP PSM 4097 (0x1001).
const PSMAACP = 0x1001

// Bluetooth socket constants from <bluetooth/bluetooth.h>; the x/sys
// package does not cover the L2CAP address family.
const (
	afBluetooth   = 31
	sockSeqpacket = 5
	btprotoL2CAP  = 0
)

// sockaddrL2 mirrors struct sockaddr_l2.
type sockaddrL2 struct {
	family     uint16
	psm        uint16
	bdaddr     [6]byte
	cid        uint16
	bdaddrType uint8
}

// L2CAPConn is a connected SEQPACKET L2CAP socket. Each Read returns one
// complete packet; the codec still treats the stream as byte-oriented.
type L2CAPConn struct {
	fd        int
	closeOnce sync.Once
	closeErr  error
}

// DialL2CAP opens an L2CAP SEQPACKET channel to the given accessory on the
// given PSM. The Bluetooth link must already be up; BlueZ owns paging and
// pairing.
func DialL2CAP(address string, psm uint16) (*L2CAPConn, error) {
	bdaddr, err := parseBDAddr(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	fd, err := syscall.Socket(afBluetooth, sockSeqpacket, btprotoL2CAP)
	if err != nil {
		return nil, fmt.Errorf("create L2CAP socket: %w", err)
	}

	sa := sockaddrL2{
		family: afBluetooth,
		psm:    psm,
		bdaddr: bdaddr,
		// cid 0, bdaddrType 0: dynamic channel over BR/EDR
	}
	_, _, errno := syscall.Syscall(syscall.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("connect L2CAP psm 0x%04X: %w", psm, errno)
	}
	return &L2CAPConn{fd: fd}, nil
}

func (c *L2CAPConn) Read(p []byte) (int, error) {
	n, err := syscall.Read(c.fd, p)
	if err != nil {
		return 0, fmt.Errorf("l2cap read: %w", err)
	}
	return n, nil
}

func (c *L2CAPConn) Write(p []byte) (int, error) {
	n, err := syscall.Write(c.fd, p)
	if err != nil {
		return n, fmt.Errorf("l2cap write: %w", err)
	}
	if n != len(p) {
		return n, fmt.Errorf("l2cap short write: %d/%d bytes", n, len(p))
	}
	return n, nil
}

func (c *L2CAPConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = syscall.Close(c.fd) })
	return c.closeErr
}

// parseBDAddr converts "XX:XX:XX:XX:XX:XX" to the kernel's bdaddr_t, which
// stores the bytes in reverse order.
func parseBDAddr(address string) ([6]byte, error) {
	var bdaddr [6]byte
	cleaned := strings.ReplaceAll(address, ":", "")
	if len(cleaned) != 12 {
		return bdaddr, fmt.Errorf("want 6 octets, got %d characters", len(cleaned))
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return bdaddr, fmt.Errorf("bad hex: %w", err)
	}
	for i := 0; i < 6; i++ {
		bdaddr[i] = raw[5-i]
	}
	return bdaddr, nil
}
