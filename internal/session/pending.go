package session

import (
	"time"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
)

// Outcome is the terminal result of a setting request.
type Outcome int

const (
	// OutcomeConfirmed means the device acknowledged the new value.
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeFailed means the device rejected the value or never
	// acknowledged it within the retry budget.
	OutcomeFailed
	// OutcomeSuperseded means a newer request for the same setting
	// replaced this one before it resolved.
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// pendingCommand is one setting write awaiting device acknowledgment.
// At most one exists per setting; a newer request supersedes the older one.
type pendingCommand struct {
	setting  capability.Setting
	value    int
	frame    []byte // encoded wire bytes, reused verbatim for the retry
	issued   time.Time
	attempts int
	sent     bool // false while queued for the coalescing flush
	seq      uint64
	outcome  chan Outcome
	timer    *time.Timer
}

// resolve delivers the outcome and stops the ack timer. The outcome channel
// is buffered so delivery never blocks the protocol loop.
func (p *pendingCommand) resolve(o Outcome) {
	if p.timer != nil {
		p.timer.Stop()
	}
	select {
	case p.outcome <- o:
	default:
	}
}

// request kinds flowing into the protocol loop.
type commandRequest struct {
	setting capability.Setting
	value   int
	stem    *aacp.StemAction // set for stem action requests
	outcome chan Outcome
}

// timeoutEvent is posted by a pending command's ack timer.
type timeoutEvent struct {
	setting capability.Setting
	seq     uint64
}
