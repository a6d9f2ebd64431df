package system

import "testing"

func TestSquelchCycle(t *testing.T) {
	// Ensure clean state
	Unsquelch()

	if IsSquelched() {
		t.Error("expected not squelched initially")
	}

	Squelch()
	if !IsSquelched() {
		t.Error("expected squelched after Squelch()")
	}

	Unsquelch()
	if IsSquelched() {
		t.Error("expected not squelched after Unsquelch()")
	}
}

func TestDoubleSquelch(t *testing.T) {
	Unsquelch()

	Squelch()
	Squelch() // should not panic
	if !IsSquelched() {
		t.Error("expected still squelched")
	}

	Unsquelch()
}

func TestDoubleUnsquelch(t *testing.T) {
	Unsquelch()
	Unsquelch() // should not panic
	if IsSquelched() {
		t.Error("expected not squelched")
	}
}
