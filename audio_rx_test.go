package main

import (
	"testing"
	"time"
)

func rxPacket(streamID uint32, samples []float32) []byte {
	return BuildTXAudioPacket(nil, streamID, 0, 0, 0, samples)
}

func TestAudioRXStreamFilter(t *testing.T) {
	delivered := make(chan int, 8)
	rx := NewAudioRX(false, nil, nil, func(mono []float32) { delivered <- len(mono) }, nil)
	rx.SetStreamID(0xC0000001)

	samples := make([]float32, 240) // above the native-rate threshold: passthrough

	// Mismatched stream ID drops silently.
	rx.handleDatagram(rxPacket(0xC0000002, samples))
	select {
	case <-delivered:
		t.Fatal("mismatched stream ID delivered")
	case <-time.After(50 * time.Millisecond):
	}

	// Matching ID is delivered.
	rx.handleDatagram(rxPacket(0xC0000001, samples))
	select {
	case n := <-delivered:
		if n != 240 {
			t.Errorf("expected 240 passthrough samples, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("matching packet not delivered")
	}
}

func TestAudioRXNoFilterDropsAll(t *testing.T) {
	delivered := make(chan int, 1)
	rx := NewAudioRX(false, nil, nil, func(mono []float32) { delivered <- len(mono) }, nil)

	// No stream ID installed yet: everything is dropped.
	rx.handleDatagram(rxPacket(0xC0000001, make([]float32, 100)))
	select {
	case <-delivered:
		t.Fatal("packet delivered before a stream was created")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAudioRXUpsamplesNativeRate(t *testing.T) {
	delivered := make(chan []float32, 2)
	rx := NewAudioRX(false, nil, nil, func(mono []float32) {
		out := make([]float32, len(mono))
		copy(out, mono)
		delivered <- out
	}, nil)
	rx.SetStreamID(1)

	samples := make([]float32, 160) // 24 kHz native rate
	for i := range samples {
		samples[i] = float32(i)
	}
	rx.handleDatagram(rxPacket(1, samples))

	select {
	case mono := <-delivered:
		if len(mono) != 320 {
			t.Fatalf("expected 320 upsampled samples, got %d", len(mono))
		}
		// First call seeds the carry: out[0] == in[0].
		if mono[0] != 0 || mono[1] != 0 || mono[2] != 0.5 || mono[3] != 1 {
			t.Errorf("upsampled head: %v", mono[:4])
		}
	case <-time.After(time.Second):
		t.Fatal("nothing delivered")
	}
}

func TestAudioRXDropsShortAndNonAudio(t *testing.T) {
	delivered := make(chan int, 1)
	rx := NewAudioRX(false, nil, nil, func(mono []float32) { delivered <- len(mono) }, nil)
	rx.SetStreamID(1)

	rx.handleDatagram([]byte{0x01, 0x02, 0x03}) // under 8 bytes
	rx.handleDatagram(buildBeacon(t, "serial=X ip=1.2.3.4", true, flexOUI))

	select {
	case <-delivered:
		t.Fatal("malformed or non-audio datagram delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAudioRXStatsBatching(t *testing.T) {
	stats := make(chan AudioRXStats, 4)
	rx := NewAudioRX(false, nil, nil, nil, func(s AudioRXStats) { stats <- s })
	rx.SetStreamID(1)

	packet := rxPacket(1, make([]float32, 240))
	for i := 0; i < statsBatchSize-1; i++ {
		rx.handleDatagram(packet)
	}
	select {
	case <-stats:
		t.Fatal("stats surfaced before the batch boundary")
	case <-time.After(50 * time.Millisecond):
	}

	rx.handleDatagram(packet)
	select {
	case s := <-stats:
		if s.Packets != statsBatchSize {
			t.Errorf("expected %d packets, got %d", statsBatchSize, s.Packets)
		}
	case <-time.After(time.Second):
		t.Fatal("stats never surfaced")
	}
}

func TestAudioRXStartStop(t *testing.T) {
	rx := NewAudioRX(false, nil, nil, nil, nil)
	if err := rx.Start(0); err != nil {
		t.Skipf("cannot bind DAX port in this environment: %v", err)
	}
	rx.SetStreamID(7)
	rx.Stop()
	if got := rx.expectedStream.Load(); got != 0 {
		t.Errorf("stream filter not cleared on stop: 0x%08X", got)
	}
	// Repeated stop is safe.
	rx.Stop()
	// Restart works.
	if err := rx.Start(0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rx.Stop()
}
