// Package tape implements deterministic request fingerprinting and
// encrypted record/replay of flows, per spec §4.6/§4.7.
package tape

import (
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
)

// Entry is one recorded flow: its fingerprint, the response that was
// returned, the chaos applied to it, and bookkeeping for diagnostics.
type Entry struct {
	Fingerprint         flow.Fingerprint    `json:"fingerprint"`
	Response            flow.ResponseSnapshot `json:"response"`
	ChaosContext        flow.ChaosContext   `json:"chaos_context"`
	Timestamp           string              `json:"timestamp"`
	Sequence            int64               `json:"sequence"`
	Redacted            bool                `json:"redacted"`
	RequestBodyRedacted string              `json:"request_body_redacted,omitempty"`
}

// Tape is the full document persisted to and loaded from disk.
type Tape struct {
	Version      string  `json:"version"`
	ExperimentID string  `json:"experiment_id,omitempty"`
	Entries      []Entry `json:"entries"`
	sequence     int64
}

// nextSequence returns the next monotonic, non-negative sequence number.
func (t *Tape) nextSequence() int64 {
	seq := t.sequence
	t.sequence++
	return seq
}

func newTape(experimentID string) *Tape {
	return &Tape{Version: "1.0", ExperimentID: experimentID}
}
