package main

import (
	"errors"
	"testing"
	"time"
)

func TestBrokerRadioListParsing(t *testing.T) {
	radios := make(chan DiscoveredRadio, 4)
	s := NewSmartLinkClient("", nil, func(r DiscoveredRadio) { radios <- r }, nil, nil)

	s.handleLine("radio list serial=6600-1234 model=FLEX-6600 callsign=W9XYZ " +
		"public_ip=203.0.113.10 public_tls_port=4994 public_udp_port=4995 wan_connected=1")

	select {
	case radio := <-radios:
		if radio.Serial != "6600-1234" || radio.Source != SourceBroker {
			t.Errorf("identity: %+v", radio)
		}
		if radio.PublicIP != "203.0.113.10" || radio.PublicTLSPort != 4994 ||
			radio.PublicUDPPort != 4995 || !radio.WanConnected {
			t.Errorf("WAN endpoints: %+v", radio)
		}
	case <-time.After(time.Second):
		t.Fatal("radio list line not surfaced")
	}
}

func TestBrokerRadioListDefaults(t *testing.T) {
	radios := make(chan DiscoveredRadio, 1)
	s := NewSmartLinkClient("", nil, func(r DiscoveredRadio) { radios <- r }, nil, nil)

	s.handleLine("radio list serial=S1 radio_type=FLEX-6400 nickname=Remote")
	radio := <-radios
	if radio.Model != "FLEX-6400" || radio.Callsign != "Remote" {
		t.Errorf("fallback keys: %+v", radio)
	}
	if radio.PublicTLSPort != controlPortWAN {
		t.Errorf("TLS port default: %d", radio.PublicTLSPort)
	}
}

func TestBrokerRadioListRequiresSerial(t *testing.T) {
	called := false
	s := NewSmartLinkClient("", nil, func(DiscoveredRadio) { called = true }, nil, nil)
	s.handleLine("radio list model=FLEX-6600")
	if called {
		t.Error("radio without serial surfaced")
	}
}

func TestBrokerConnectReady(t *testing.T) {
	handles := make(chan [2]string, 1)
	s := NewSmartLinkClient("", nil, nil, func(handle, serial string) {
		handles <- [2]string{handle, serial}
	}, nil)

	s.handleLine("radio connect_ready handle=9F2D41 serial=6600-1234")
	select {
	case got := <-handles:
		if got[0] != "9F2D41" || got[1] != "6600-1234" {
			t.Errorf("handle delivery: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handle never delivered")
	}

	// A connect_ready without a handle is ignored.
	s.handleLine("radio connect_ready serial=XYZ")
	select {
	case got := <-handles:
		t.Errorf("empty handle surfaced: %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrokerRegisterRejection(t *testing.T) {
	errs := make(chan error, 1)
	s := NewSmartLinkClient("", nil, nil, nil, func(err error) { errs <- err })

	s.handleLine("application register error=invalid_token")
	select {
	case err := <-errs:
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("rejection not surfaced")
	}
}

func TestBrokerSendWhileClosed(t *testing.T) {
	s := NewSmartLinkClient("", nil, nil, nil, nil)
	if err := s.RequestConnect("X"); err == nil {
		t.Error("expected ErrNotConnected")
	}
}
