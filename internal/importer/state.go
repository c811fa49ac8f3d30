package importer

import (
	"fmt"
	"slices"

	"github.com/franz/photor/internal/fingerprint"
)

// State is a step in the per-file import lifecycle
type State int

const (
	StateDiscovered State = iota
	StateFingerprinted
	StateLookedUp
	StateSkippedDuplicate
	StateMetadataRead
	StateDateResolved
	StatePlaced
	StateCataloged
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateDiscovered:       "discovered",
	StateFingerprinted:    "fingerprinted",
	StateLookedUp:         "looked_up",
	StateSkippedDuplicate: "skipped_duplicate",
	StateMetadataRead:     "metadata_read",
	StateDateResolved:     "date_resolved",
	StatePlaced:           "placed",
	StateCataloged:        "cataloged",
	StateDone:             "done",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal successors of each state. Failed is reachable
// from every state after Discovered.
var transitions = map[State][]State{
	StateDiscovered:       {StateFingerprinted, StateFailed},
	StateFingerprinted:    {StateLookedUp, StateFailed},
	StateLookedUp:         {StateSkippedDuplicate, StateMetadataRead, StateFailed},
	StateSkippedDuplicate: {StateDone},
	StateMetadataRead:     {StateDateResolved, StateFailed},
	StateDateResolved:     {StatePlaced, StateFailed},
	StatePlaced:           {StateCataloged, StateFailed},
	StateCataloged:        {StateDone},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Outcome is the result of importing one candidate file
type Outcome struct {
	Path         string
	State        State   // Done, Failed, or Discovered if never started
	Trail        []State // every state visited, in order
	Cause        error   // *StepError when State is Failed
	Fingerprint  fingerprint.Fingerprint
	Bucket       string
	Dest         string // archive path of the placed file, or of the existing record for duplicates
	ID           int64  // catalog ID of the new or existing record
	NoDate       bool   // filed under the sentinel bucket
	BytesWritten int64
}

func newOutcome(path string) *Outcome {
	return &Outcome{
		Path:  path,
		State: StateDiscovered,
		Trail: []State{StateDiscovered},
	}
}

// advance moves the outcome to the next state, refusing illegal transitions
func (o *Outcome) advance(to State) {
	if !canTransition(o.State, to) {
		o.fail(&StepError{
			Step: StepInternal,
			Path: o.Path,
			Err:  fmt.Errorf("illegal transition %s -> %s", o.State, to),
		})
		return
	}
	o.State = to
	o.Trail = append(o.Trail, to)
}

func (o *Outcome) fail(err error) {
	o.Cause = err
	o.State = StateFailed
	o.Trail = append(o.Trail, StateFailed)
}

// Visited reports whether the outcome passed through s
func (o *Outcome) Visited(s State) bool {
	return slices.Contains(o.Trail, s)
}

// Cataloged reports whether the file was placed and recorded
func (o *Outcome) Cataloged() bool {
	return o.State == StateDone && o.Visited(StateCataloged)
}

// Duplicate reports whether the file was skipped as already cataloged
func (o *Outcome) Duplicate() bool {
	return o.State == StateDone && o.Visited(StateSkippedDuplicate)
}
