package main

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestState(t *testing.T) *RadioState {
	t.Helper()
	cfg := DefaultConfig()
	events := NewEventBus(nil)
	rs := NewRadioState(cfg, nil, events, nil, &StaticTokenProvider{}, nil, nil)
	go rs.Run()
	t.Cleanup(rs.Close)
	return rs
}

func postStatus(rs *RadioState, line string) {
	pl := ParseLine(line)
	rs.post(func() { rs.handleStatus(*pl.Status) })
}

func TestSliceStatusMerge(t *testing.T) {
	rs := newTestState(t)
	postStatus(rs, "S12AB|slice 0 rf_frequency=14.225000 mode=USB nr=1 filter_lo=200 filter_hi=2700")

	snap := rs.TakeSnapshot()
	if snap.Slice == nil {
		t.Fatal("no slice in snapshot")
	}
	s := snap.Slice
	if s.Index != 0 || s.Frequency != 14_225_000 || s.Mode != "USB" ||
		!s.NR || s.FilterLow != 200 || s.FilterHigh != 2700 {
		t.Errorf("slice state: %+v", s)
	}
}

func TestSliceStatusGatedToActiveSlice(t *testing.T) {
	rs := newTestState(t)
	// First index seen is adopted as the active slice.
	postStatus(rs, "S1|slice 0 mode=USB")
	// Updates for other slices are ignored by the core.
	postStatus(rs, "S1|slice 1 mode=CW rf_frequency=7.030000")

	snap := rs.TakeSnapshot()
	if snap.Slice.Mode != "USB" || snap.Slice.Frequency != 0 {
		t.Errorf("foreign slice merged: %+v", snap.Slice)
	}
}

func TestSliceUnknownKeysPassThrough(t *testing.T) {
	rs := newTestState(t)
	postStatus(rs, "S1|slice 0 mode=USB wide=0 record=1")
	snap := rs.TakeSnapshot()
	if snap.Slice.Extra["wide"] != "0" || snap.Slice.Extra["record"] != "1" {
		t.Errorf("pass-through keys: %v", snap.Slice.Extra)
	}
}

func TestSliceModeValidation(t *testing.T) {
	rs := newTestState(t)
	postStatus(rs, "S1|slice 0 mode=USB")
	postStatus(rs, "S1|slice 0 mode=BOGUS")
	snap := rs.TakeSnapshot()
	if snap.Slice.Mode != "USB" {
		t.Errorf("unknown mode accepted: %q", snap.Slice.Mode)
	}
}

func TestEQStatusMerge(t *testing.T) {
	rs := newTestState(t)
	postStatus(rs, "S1|eq rxsc mode=1 63hz=3 125hz=0 250hz=0 500hz=0 1000hz=0 2000hz=0 4000hz=0 8000hz=0")

	snap := rs.TakeSnapshot()
	var rx *EqualizerState
	for i := range snap.EQ {
		if snap.EQ[i].Kind == "rxsc" {
			rx = &snap.EQ[i]
		}
	}
	if rx == nil {
		t.Fatal("no rxsc equalizer in snapshot")
	}
	if !rx.Enabled {
		t.Error("EQ not enabled")
	}
	if len(rx.Bands) != 8 {
		t.Errorf("band map has %d entries", len(rx.Bands))
	}
	if rx.Bands[63] != 3 {
		t.Errorf("63 Hz band: %d", rx.Bands[63])
	}
	for _, hz := range eqBands[1:] {
		if rx.Bands[hz] != 0 {
			t.Errorf("%d Hz band: %d", hz, rx.Bands[hz])
		}
	}
}

func TestEQPartialUpdateKeepsEightBands(t *testing.T) {
	rs := newTestState(t)
	postStatus(rs, "S1|eq txsc 500hz=-7")
	snap := rs.TakeSnapshot()
	for _, eq := range snap.EQ {
		if len(eq.Bands) != 8 {
			t.Errorf("%s band map has %d entries", eq.Kind, len(eq.Bands))
		}
		if eq.Kind == "txsc" && eq.Bands[500] != -7 {
			t.Errorf("txsc 500 Hz: %d", eq.Bands[500])
		}
	}
}

func TestRXStreamIDExtraction(t *testing.T) {
	rs := newTestState(t)
	rs.call(func() { rs.handleRXStreamCreated("0", "0xC0000001|") })

	if got := rs.audioRX.expectedStream.Load(); got != 0xC0000001 {
		t.Errorf("stream filter: 0x%08X", got)
	}

	// A failed create leaves the filter untouched.
	rs.call(func() { rs.handleTXStreamCreated("50000002", "") })
	var txID uint32
	rs.call(func() { txID = rs.txStreamID })
	if txID != 0 {
		t.Errorf("failed TX create stored an ID: 0x%08X", txID)
	}
}

func TestTXStreamIDExtraction(t *testing.T) {
	rs := newTestState(t)
	rs.call(func() { rs.handleTXStreamCreated("00000000", "  84000002 |") })
	var txID uint32
	rs.call(func() { txID = rs.txStreamID })
	if txID != 0x84000002 {
		t.Errorf("TX stream ID: 0x%08X", txID)
	}
}

func TestPTTOptimisticUpdateAndReconcile(t *testing.T) {
	rs := newTestState(t)
	rs.call(func() {
		rs.connState = StateConnected
		rs.hasSlice = true
	})

	rs.SetPTT(true)
	snap := rs.TakeSnapshot()
	if !snap.PTT || !snap.Slice.TX {
		t.Errorf("optimistic TX flag not set: %+v", snap)
	}

	// The radio's status reconciles the flag.
	postStatus(rs, "S1|slice 0 tx=0")
	snap = rs.TakeSnapshot()
	if snap.PTT || snap.Slice.TX {
		t.Errorf("status did not reconcile TX: %+v", snap)
	}
}

func TestErrorLogBounded(t *testing.T) {
	rs := newTestState(t)
	for i := 0; i < errLogCap+50; i++ {
		err := fmt.Errorf("failure %d", i)
		rs.post(func() { rs.reportError(err) })
	}
	snap := rs.TakeSnapshot()
	if len(snap.Errors) != errLogCap {
		t.Errorf("error log has %d entries", len(snap.Errors))
	}
	// Oldest entries are discarded.
	if snap.Errors[0].Message != "failure 50" {
		t.Errorf("oldest retained entry: %q", snap.Errors[0].Message)
	}
}

func TestSliceListBootstrap(t *testing.T) {
	rs := newTestState(t)
	rs.call(func() { rs.handleSliceList("00000000", " 2 3 ") })
	snap := rs.TakeSnapshot()
	if snap.Slice == nil || snap.Slice.Index != 2 {
		t.Errorf("slice list did not bind the first slice: %+v", snap.Slice)
	}
}

func TestSliceListFailureLogged(t *testing.T) {
	rs := newTestState(t)
	events, cancel := rs.events.Subscribe()
	defer cancel()

	rs.call(func() { rs.handleSliceList("50000001", "") })

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventErrorLogged {
				entry := ev.Payload.(ErrorEntry)
				if entry.Message == "" {
					t.Error("empty error entry")
				}
				return
			}
		case <-deadline:
			t.Fatal("no error event")
		}
	}
}

func TestConnectWANWithoutTokenFails(t *testing.T) {
	rs := newTestState(t)
	events, cancel := rs.events.Subscribe()
	defer cancel()

	rs.ConnectWAN(DiscoveredRadio{Serial: "6600-1", Source: SourceBroker, PublicIP: "203.0.113.9"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventErrorLogged {
				entry := ev.Payload.(ErrorEntry)
				if entry.Message == "" {
					t.Error("empty error entry")
				}
				// The failed attempt releases the target radio.
				var current *DiscoveredRadio
				rs.call(func() { current = rs.current })
				if current != nil {
					t.Errorf("target radio retained after auth failure: %+v", current)
				}
				return
			}
		case <-deadline:
			t.Fatal("token failure never surfaced")
		}
	}
}

func TestConnectRadioRoutesBySource(t *testing.T) {
	tests := []struct {
		radio DiscoveredRadio
		wan   bool
	}{
		{DiscoveredRadio{Serial: "L1", Source: SourceLAN, IP: "192.168.1.20"}, false},
		{DiscoveredRadio{Serial: "M1", Source: SourceManual, IP: "192.168.1.30"}, false},
		{DiscoveredRadio{Serial: "B1", Source: SourceBroker, PublicIP: "203.0.113.9"}, true},
		{DiscoveredRadio{Serial: "W1", Source: SourceLAN, PublicIP: "203.0.113.10"}, true},
	}
	for _, tt := range tests {
		if got := isWANRadio(tt.radio); got != tt.wan {
			t.Errorf("%s: expected wan=%t, got %t", tt.radio.Serial, tt.wan, got)
		}
	}
}

func TestStaticTokenProvider(t *testing.T) {
	p := &StaticTokenProvider{}
	if _, err := p.EnsureValidToken(nil); !errors.Is(err, ErrAuth) {
		t.Errorf("empty token: %v", err)
	}
	p.Token = "bearer-xyz"
	token, err := p.EnsureValidToken(nil)
	if err != nil || token != "bearer-xyz" {
		t.Errorf("token: %q err=%v", token, err)
	}
}
