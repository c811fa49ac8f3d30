package importer

import (
	"slices"
	"sync"
	"testing"

	"github.com/franz/photor/internal/fingerprint"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDiscovered, StateFingerprinted, true},
		{StateDiscovered, StateFailed, true},
		{StateLookedUp, StateSkippedDuplicate, true},
		{StateLookedUp, StateMetadataRead, true},
		{StateSkippedDuplicate, StateDone, true},
		{StatePlaced, StateCataloged, true},
		{StateCataloged, StateDone, true},
		// Cataloged only after Placed, Placed only after DateResolved
		{StateDateResolved, StateCataloged, false},
		{StateMetadataRead, StatePlaced, false},
		{StateLookedUp, StatePlaced, false},
		{StateSkippedDuplicate, StateFailed, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateDone, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOutcomeAdvance(t *testing.T) {
	o := newOutcome("/in/a.jpg")
	for _, s := range []State{StateFingerprinted, StateLookedUp, StateSkippedDuplicate, StateDone} {
		o.advance(s)
	}
	if !o.Duplicate() || o.Cataloged() {
		t.Errorf("expected a duplicate outcome, trail %v", o.Trail)
	}

	bad := newOutcome("/in/b.jpg")
	bad.advance(StatePlaced)
	if bad.State != StateFailed {
		t.Fatalf("illegal transition should fail the outcome, got %s", bad.State)
	}
	if step, _ := FailedStep(bad.Cause); step != StepInternal {
		t.Errorf("illegal transition step = %q", step)
	}
	if want := []State{StateDiscovered, StateFailed}; !slices.Equal(bad.Trail, want) {
		t.Errorf("trail = %v, want %v", bad.Trail, want)
	}
}

func TestStateString(t *testing.T) {
	if StateSkippedDuplicate.String() != "skipped_duplicate" {
		t.Errorf("unexpected name %q", StateSkippedDuplicate.String())
	}
	if State(99).String() != "state(99)" {
		t.Errorf("unexpected name for unknown state %q", State(99).String())
	}
}

func TestKeyLock(t *testing.T) {
	locks := newKeyLock()
	var key fingerprint.Fingerprint
	key[0] = 1

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if len(locks.locks) != 0 {
		t.Errorf("released keys should be forgotten, %d remain", len(locks.locks))
	}
}
