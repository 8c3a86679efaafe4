// Package ipc is the control surface between the daemon and the CLI: one
// JSON request and one JSON response per unix socket connection.
package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"

	"aacpctl/internal/logx"
)

// Commands understood by the daemon.
const (
	CmdStatus       = "status"
	CmdCapabilities = "capabilities"
	CmdSet          = "set"
	CmdMode         = "mode"
	CmdStem         = "stem"
)

// Request is one command from a client.
type Request struct {
	Command string `json:"command"`
	Setting string `json:"setting,omitempty"` // for set
	Value   int    `json:"value,omitempty"`   // for set
	Mode    string `json:"mode,omitempty"`    // for mode
	Action  string `json:"action,omitempty"`  // for stem
}

// Battery is a JSON-friendly battery reading.
type Battery struct {
	Level    uint8 `json:"level"`
	Charging bool  `json:"charging"`
}

// Status is the externally visible device state.
type Status struct {
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	Model     string `json:"model,omitempty"`
	Firmware  string `json:"firmware,omitempty"`
	NoiseMode string `json:"noise_mode,omitempty"`

	Left  *Battery `json:"left,omitempty"`
	Right *Battery `json:"right,omitempty"`
	Case  *Battery `json:"case,omitempty"`

	PrimaryInEar   *bool `json:"primary_in_ear,omitempty"`
	SecondaryInEar *bool `json:"secondary_in_ear,omitempty"`

	Settings map[string]int `json:"settings,omitempty"`
}

// Response is the daemon's answer. Error is set instead of the payload
// fields when the command failed.
type Response struct {
	Error    string   `json:"error,omitempty"`
	Outcome  string   `json:"outcome,omitempty"`
	Status   *Status  `json:"status,omitempty"`
	Settings []string `json:"supported_settings,omitempty"`
}

// Handler processes one request. Implementations must be safe for
// concurrent use; each connection is served on its own goroutine.
type Handler interface {
	Handle(Request) Response
}

// Server accepts connections on a unix socket and dispatches to a Handler.
type Server struct {
	path string
	ln   net.Listener
	h    Handler
	log  zerolog.Logger
}

// NewServer binds the socket, replacing a stale one from a previous run.
func NewServer(path string, h Handler) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return &Server{
		path: path,
		ln:   ln,
		h:    h,
		log:  logx.Log.With().Str("component", "ipc").Logger(),
	}, nil
}

// Serve accepts until the listener is closed. A closed listener is a clean
// shutdown, not an error.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(Response{Error: "invalid request: " + err.Error()})
		return
	}
	resp := s.h.Handle(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("response write failed")
	}
}

// Close stops accepting and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Call performs one request against a running daemon.
func Call(path string, req Request) (Response, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("connect to daemon: %w (is `aacpctl daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
