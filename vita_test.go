package main

import (
	"encoding/binary"
	"math"
	"testing"
)

// buildBeacon constructs a discovery beacon datagram: extension context
// packet with stream ID 0x800, the FlexRadio class OUI and a key=value
// payload padded to a word boundary.
func buildBeacon(t *testing.T, payload string, withClassID bool, oui uint32) []byte {
	t.Helper()
	for len(payload)%4 != 0 {
		payload += "\x00"
	}
	headerWords := 2 // header + stream ID
	if withClassID {
		headerWords += 2
	}
	sizeWords := headerWords + len(payload)/4

	buf := make([]byte, sizeWords*4)
	word0 := uint32(vitaTypeExtContext) << vitaPacketTypeShift
	if withClassID {
		word0 |= vitaClassIDPresent
	}
	word0 |= uint32(sizeWords)
	binary.BigEndian.PutUint32(buf, word0)
	binary.BigEndian.PutUint32(buf[4:], flexDiscoveryStreamID)
	off := 8
	if withClassID {
		binary.BigEndian.PutUint32(buf[off:], oui)
		binary.BigEndian.PutUint32(buf[off+4:], 0xFFFF0001)
		off += 8
	}
	copy(buf[off:], payload)
	return buf
}

func TestParseVitaShortDatagram(t *testing.T) {
	for _, n := range []int{0, 1, 4, 7} {
		if _, err := ParseVita(make([]byte, n)); err == nil {
			t.Errorf("ParseVita(%d bytes): expected error", n)
		}
	}
}

func TestParseVitaSizeOverflow(t *testing.T) {
	buf := make([]byte, 12)
	// Declares 100 words but the datagram has 3.
	binary.BigEndian.PutUint32(buf, uint32(vitaTypeIFDataStream)<<vitaPacketTypeShift|100)
	if _, err := ParseVita(buf); err == nil {
		t.Error("expected packet-size overflow error")
	}
}

func TestParseVitaTrailerAccounting(t *testing.T) {
	// header + stream ID + 2 payload words + trailer = 5 words.
	buf := make([]byte, 20)
	word0 := uint32(vitaTypeIFDataStream)<<vitaPacketTypeShift | vitaTrailerPresent | 5
	binary.BigEndian.PutUint32(buf, word0)
	binary.BigEndian.PutUint32(buf[4:], 0xC0000001)
	pkt, err := ParseVita(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkt.Payload) != 8 {
		t.Errorf("trailer accounting: expected 8 payload bytes, got %d", len(pkt.Payload))
	}
	if !pkt.TrailerPresent {
		t.Error("trailer flag lost")
	}
}

func TestTXAudioPacketRoundTrip(t *testing.T) {
	samples := make([]float32, txSamplesPerPacket)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 30))
	}
	const (
		streamID    = uint32(0x84000002)
		seq         = 21
		epoch       = uint32(1700000000)
		sampleCount = uint64(96000)
	)
	packet := BuildTXAudioPacket(nil, streamID, seq, epoch, sampleCount, samples)

	pkt, err := ParseVita(packet)
	if err != nil {
		t.Fatalf("parse of built packet failed: %v", err)
	}
	if pkt.Type != vitaTypeIFDataStream {
		t.Errorf("type: expected 1, got %d", pkt.Type)
	}
	if pkt.StreamID != streamID {
		t.Errorf("stream ID: expected 0x%08X, got 0x%08X", streamID, pkt.StreamID)
	}
	if pkt.ClassIDPresent {
		t.Error("class ID must be absent on TX audio")
	}
	if pkt.TSI != vitaTSIUTC || pkt.TSF != vitaTSFFree {
		t.Errorf("timestamp modes: TSI=%d TSF=%d", pkt.TSI, pkt.TSF)
	}
	if pkt.PacketCount != seq%16 {
		t.Errorf("packet count: expected %d, got %d", seq%16, pkt.PacketCount)
	}
	if pkt.TimestampInt != epoch {
		t.Errorf("integer timestamp: expected %d, got %d", epoch, pkt.TimestampInt)
	}
	if pkt.TimestampFrac != sampleCount {
		t.Errorf("sample count timestamp: expected %d, got %d", sampleCount, pkt.TimestampFrac)
	}
	if len(pkt.Payload) != txSamplesPerPacket*8 {
		t.Fatalf("payload: expected %d bytes, got %d", txSamplesPerPacket*8, len(pkt.Payload))
	}

	// Each stereo pair carries the mono sample on both channels.
	mono := make([]float32, txSamplesPerPacket)
	n := DecodeFloatStereoPayload(pkt.Payload, mono)
	if n != txSamplesPerPacket {
		t.Fatalf("expected %d pairs, got %d", txSamplesPerPacket, n)
	}
	for i, s := range mono {
		if s != samples[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, samples[i], s)
		}
	}
}

func TestTXAudioPacketCountWraps(t *testing.T) {
	samples := make([]float32, txSamplesPerPacket)
	for _, seq := range []int{15, 16, 17, 255} {
		packet := BuildTXAudioPacket(nil, 1, seq, 0, 0, samples)
		pkt, err := ParseVita(packet)
		if err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
		if pkt.PacketCount != seq%16 {
			t.Errorf("seq %d: packet count %d", seq, pkt.PacketCount)
		}
	}
}

func TestDiscoveryBeaconParsing(t *testing.T) {
	payload := "serial=ABC123 ip=192.168.1.20 model=6600 callsign=W9XYZ"
	data := buildBeacon(t, payload, true, flexOUI)
	pkt, err := ParseVita(data)
	if err != nil {
		t.Fatalf("beacon parse failed: %v", err)
	}
	if !pkt.IsDiscovery() {
		t.Fatal("beacon not recognized as discovery")
	}
	props := ParseDiscoveryPayload(pkt.Payload)
	want := map[string]string{
		"serial": "ABC123", "ip": "192.168.1.20",
		"model": "6600", "callsign": "W9XYZ",
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, props[k])
		}
	}
}

func TestDiscoveryOUICheck(t *testing.T) {
	payload := "serial=X ip=1.2.3.4"
	// Wrong OUI with class ID present is rejected.
	if pkt, err := ParseVita(buildBeacon(t, payload, true, 0xBADBAD)); err != nil {
		t.Fatalf("parse: %v", err)
	} else if pkt.IsDiscovery() {
		t.Error("wrong OUI accepted")
	}
	// No class ID skips the OUI check.
	if pkt, err := ParseVita(buildBeacon(t, payload, false, 0)); err != nil {
		t.Fatalf("parse: %v", err)
	} else if !pkt.IsDiscovery() {
		t.Error("beacon without class ID rejected")
	}
}

func TestDecodeFloatStereoDownmix(t *testing.T) {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[0:], math.Float32bits(1.0))  // L
	binary.BigEndian.PutUint32(payload[4:], math.Float32bits(0.0))  // R
	binary.BigEndian.PutUint32(payload[8:], math.Float32bits(-0.5)) // L
	binary.BigEndian.PutUint32(payload[12:], math.Float32bits(0.5)) // R
	out := make([]float32, 2)
	if n := DecodeFloatStereoPayload(payload, out); n != 2 {
		t.Fatalf("expected 2 pairs, got %d", n)
	}
	if out[0] != 0.5 || out[1] != 0 {
		t.Errorf("downmix: got %v", out)
	}
}
