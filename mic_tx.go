package main

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// DAX TX microphone pipeline. The host's realtime audio callback feeds
// 24 kHz mono capture buffers in; the pipeline accumulates fixed 480-sample
// frames (20 ms), hands them through a bounded frame queue to a serial send
// worker, and the worker builds one VITA-49 packet per frame and sends it
// with a single write. The callback path performs no allocation and no
// syscalls after start; frame buffers are pooled and both queue operations
// are non-blocking drops under pressure.

const (
	micSampleRate     = 24000
	micFrameQueueLen  = 16
	micAccumulatorCap = micSampleRate / 2 // half a second of backlog
)

type micFrame struct {
	buf         []float32
	seq         int
	sampleCount uint64
}

// MicTX is the TX audio pipeline.
type MicTX struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	running bool

	streamID    uint32
	acc         []float32
	sampleCount uint64
	seq         int

	frames chan micFrame
	pool   chan []float32
	stopCh chan struct{}

	metrics *Metrics
}

// NewMicTX creates the pipeline.
func NewMicTX(metrics *Metrics) *MicTX {
	return &MicTX{metrics: metrics}
}

// Start opens a send-only UDP socket toward the radio's effective endpoint
// and launches the send worker. All frame buffers are allocated here, once.
// Repeated start/stop cycles are safe.
func (m *MicTX) Start(radioIP string, port int, streamID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if port == 0 {
		port = daxUDPPort
	}

	ip := net.ParseIP(radioIP)
	if ip == nil {
		return fmt.Errorf("%w: bad radio IP %q", ErrStream, radioIP)
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return fmt.Errorf("%w: failed to open TX socket to %s:%d: %v", ErrStream, radioIP, port, err)
	}

	m.conn = conn
	m.streamID = streamID
	m.acc = make([]float32, 0, micAccumulatorCap)
	m.sampleCount = 0
	m.seq = 0
	m.frames = make(chan micFrame, micFrameQueueLen)
	m.pool = make(chan []float32, micFrameQueueLen)
	for i := 0; i < micFrameQueueLen; i++ {
		m.pool <- make([]float32, txSamplesPerPacket)
	}
	m.stopCh = make(chan struct{})
	m.running = true

	go m.sendWorker(conn, m.frames, m.pool, m.stopCh)
	log.Printf("Mic TX started toward %s:%d (stream 0x%08X)", radioIP, port, streamID)
	return nil
}

// Stop closes the socket, stops the worker and clears the accumulator.
func (m *MicTX) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.conn.Close()
	m.conn = nil
	m.acc = nil
	log.Println("Mic TX stopped")
}

// Append feeds captured audio from the host's realtime callback. The host
// collaborator normally delivers 24 kHz mono already; other rates are
// converted here (that path allocates and is not recommended on a realtime
// thread). Whole 480-sample frames are consumed as they complete.
func (m *MicTX) Append(samples []float32, sampleRate int) {
	if sampleRate != micSampleRate {
		samples = resampleLinear(samples, sampleRate, micSampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	free := cap(m.acc) - len(m.acc)
	if len(samples) > free {
		samples = samples[:free]
		if m.metrics != nil {
			m.metrics.micFramesDropped.Inc()
		}
	}
	m.acc = append(m.acc, samples...)

	for len(m.acc) >= txSamplesPerPacket {
		var buf []float32
		select {
		case buf = <-m.pool:
		default:
			// Pool exhausted; drop the frame rather than block the
			// realtime thread.
			m.acc = m.acc[:copy(m.acc, m.acc[txSamplesPerPacket:])]
			if m.metrics != nil {
				m.metrics.micFramesDropped.Inc()
			}
			continue
		}
		copy(buf, m.acc[:txSamplesPerPacket])
		m.acc = m.acc[:copy(m.acc, m.acc[txSamplesPerPacket:])]

		frame := micFrame{buf: buf, seq: m.seq, sampleCount: m.sampleCount}
		m.seq++
		m.sampleCount += txSamplesPerPacket

		select {
		case m.frames <- frame:
		default:
			m.pool <- buf
			if m.metrics != nil {
				m.metrics.micFramesDropped.Inc()
			}
		}
	}
}

// sendWorker drains completed frames, builds the VITA-49 packet and sends
// it with a single write. The packet buffer is reused across frames.
func (m *MicTX) sendWorker(conn *net.UDPConn, frames chan micFrame, pool chan []float32, stopCh chan struct{}) {
	packet := make([]byte, 0, (5+txSamplesPerPacket*2)*4)
	for {
		select {
		case frame := <-frames:
			packet = BuildTXAudioPacket(packet, m.streamID, frame.seq,
				uint32(time.Now().Unix()), frame.sampleCount, frame.buf)
			if _, err := conn.Write(packet); err != nil {
				m.mu.Lock()
				running := m.running
				m.mu.Unlock()
				if running {
					log.Printf("Mic TX send error: %v", err)
				}
				pool <- frame.buf
				return
			}
			if m.metrics != nil {
				m.metrics.micPacketsTx.Inc()
			}
			pool <- frame.buf
		case <-stopCh:
			return
		}
	}
}
