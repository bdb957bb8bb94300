package main

import (
	"net"
	"testing"
	"time"
)

// udpSink captures datagrams sent by the mic pipeline.
type udpSink struct {
	conn    *net.UDPConn
	packets chan []byte
}

func newUDPSink(t *testing.T) *udpSink {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := &udpSink{conn: conn, packets: make(chan []byte, 16)}
	go func() {
		buf := make([]byte, 16384)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			packet := make([]byte, n)
			copy(packet, buf[:n])
			sink.packets <- packet
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return sink
}

func (s *udpSink) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

func (s *udpSink) next(t *testing.T) []byte {
	t.Helper()
	select {
	case packet := <-s.packets:
		return packet
	case <-time.After(2 * time.Second):
		t.Fatal("no packet received")
		return nil
	}
}

func TestMicTXFrameAssembly(t *testing.T) {
	sink := newUDPSink(t)
	tx := NewMicTX(nil)
	if err := tx.Start("127.0.0.1", sink.port(), 0x84000002); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tx.Stop()

	// 300 samples do not complete a frame.
	tx.Append(make([]float32, 300), micSampleRate)
	select {
	case <-sink.packets:
		t.Fatal("packet sent before a full frame accumulated")
	case <-time.After(100 * time.Millisecond):
	}

	// 200 more cross the 480 boundary: exactly one packet.
	tx.Append(make([]float32, 200), micSampleRate)
	packet := sink.next(t)

	pkt, err := ParseVita(packet)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.Type != vitaTypeIFDataStream || pkt.StreamID != 0x84000002 {
		t.Errorf("header: type=%d stream=0x%08X", pkt.Type, pkt.StreamID)
	}
	if len(pkt.Payload) != txSamplesPerPacket*8 {
		t.Errorf("payload: %d bytes", len(pkt.Payload))
	}
	if pkt.PacketCount != 0 || pkt.TimestampFrac != 0 {
		t.Errorf("first frame counters: count=%d samples=%d", pkt.PacketCount, pkt.TimestampFrac)
	}
}

func TestMicTXCountersAdvance(t *testing.T) {
	sink := newUDPSink(t)
	tx := NewMicTX(nil)
	if err := tx.Start("127.0.0.1", sink.port(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tx.Stop()

	// Three full frames in one append.
	tx.Append(make([]float32, txSamplesPerPacket*3), micSampleRate)
	for i := 0; i < 3; i++ {
		pkt, err := ParseVita(sink.next(t))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if pkt.PacketCount != i {
			t.Errorf("frame %d: packet count %d", i, pkt.PacketCount)
		}
		if want := uint64(i * txSamplesPerPacket); pkt.TimestampFrac != want {
			t.Errorf("frame %d: sample count %d, expected %d", i, pkt.TimestampFrac, want)
		}
	}
}

func TestMicTXResamplesHostRate(t *testing.T) {
	sink := newUDPSink(t)
	tx := NewMicTX(nil)
	if err := tx.Start("127.0.0.1", sink.port(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tx.Stop()

	// 960 samples at 48 kHz resample to 480 at 24 kHz: one frame.
	tx.Append(make([]float32, 960), 48000)
	pkt, err := ParseVita(sink.next(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pkt.Payload) != txSamplesPerPacket*8 {
		t.Errorf("payload: %d bytes", len(pkt.Payload))
	}
}

func TestMicTXRepeatedStartStop(t *testing.T) {
	sink := newUDPSink(t)
	tx := NewMicTX(nil)
	for i := 0; i < 3; i++ {
		if err := tx.Start("127.0.0.1", sink.port(), 1); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		tx.Append(make([]float32, txSamplesPerPacket), micSampleRate)
		sink.next(t)
		tx.Stop()
		tx.Stop() // double stop is safe
	}

	// Appends after stop are ignored.
	tx.Append(make([]float32, txSamplesPerPacket), micSampleRate)
	select {
	case <-sink.packets:
		t.Error("packet sent after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMicTXBadAddress(t *testing.T) {
	tx := NewMicTX(nil)
	if err := tx.Start("not-an-ip", 4991, 1); err == nil {
		t.Error("expected error for bad radio IP")
		tx.Stop()
	}
}
