package transport

import "testing"

func TestSendHealthOpensBreakerAfterThreshold(t *testing.T) {
	var h SendHealth
	for i := uint32(0); i < breakerThreshold-1; i++ {
		h.RecordFailure()
		if h.Degraded() {
			t.Fatalf("breaker opened early at failure %d", i)
		}
	}
	h.RecordFailure()
	if !h.Degraded() {
		t.Fatal("breaker should be open at threshold")
	}
	if !h.ShouldSkip() {
		t.Fatal("the first attempt after the breaker opens should be skipped")
	}
}

func TestSendHealthProbesPeriodically(t *testing.T) {
	var h SendHealth
	for i := uint32(0); i < breakerThreshold; i++ {
		h.RecordFailure()
	}
	skipped, allowed := 0, 0
	for i := 0; i < int(breakerProbeInterval)*3; i++ {
		if h.ShouldSkip() {
			skipped++
		} else {
			allowed++
		}
	}
	if allowed == 0 {
		t.Fatal("expected at least one probe attempt to be allowed through")
	}
	if skipped == 0 {
		t.Fatal("expected most attempts to be skipped while breaker is open")
	}
}

func TestSendHealthRecoversOnSuccess(t *testing.T) {
	var h SendHealth
	for i := uint32(0); i < breakerThreshold; i++ {
		h.RecordFailure()
	}
	if !h.Degraded() {
		t.Fatal("breaker should be open")
	}
	wasOpen := h.RecordSuccess()
	if !wasOpen {
		t.Fatal("RecordSuccess should report the breaker had been open")
	}
	if h.Degraded() {
		t.Fatal("breaker should close after a recorded success")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindDatagram:    "datagram",
		KindFramed:      "framed",
		KindDataChannel: "datachannel",
		Kind(99):        "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
