package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DAX RX audio pipeline: receives VITA-49 audio over UDP, filters by the
// stream ID assigned by the radio, decodes (big-endian float stereo on LAN,
// Opus on WAN), and delivers 48 kHz mono buffers downstream. A dedicated
// blocking-recv worker is used for reliability; readiness-driven loops
// interact poorly with SO_REUSEPORT contention on some platforms.

const (
	daxUDPPort      = 4991
	wanSampleRate   = 48000
	wanFrameSamples = 480 // 10 ms at 48 kHz

	// LAN payloads at the radio's native 24 kHz rate arrive as at most 160
	// stereo pairs per packet; anything larger is already 48 kHz.
	maxNativeRatePairs = 160

	// Receive statistics are surfaced upward at most once per this many
	// packets to avoid saturating the state layer.
	statsBatchSize = 100

	audioReadBufferLen = 8192
)

// AudioRXStats is the batched receive statistic surfaced to the state layer.
type AudioRXStats struct {
	Packets uint64
	LastAt  time.Time
}

// AudioRX is the RX audio pipeline.
type AudioRX struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	running bool

	// expectedStream is written by the state layer when the stream create
	// response arrives and read by the worker on every packet. Eventual
	// consistency is acceptable: a stale filter at worst discards a few
	// packets in the window after creation.
	expectedStream atomic.Uint32

	wan     bool
	opus    *OpusDecoder
	up      Upsampler2x
	nr      NoiseReducer
	deliver func([]float32)
	onStats func(AudioRXStats)

	packets   uint64
	monoBuf   []float32
	upBuf     []float32
	opusFails int

	metrics *Metrics
}

// NewAudioRX creates the pipeline. deliver receives 48 kHz mono buffers
// that are only valid for the duration of the call.
func NewAudioRX(wan bool, nr NoiseReducer, metrics *Metrics, deliver func([]float32), onStats func(AudioRXStats)) *AudioRX {
	if nr == nil {
		nr = passthroughNR{}
	}
	return &AudioRX{
		wan:     wan,
		nr:      nr,
		deliver: deliver,
		onStats: onStats,
		monoBuf: make([]float32, 1024),
		upBuf:   make([]float32, 2048),
		metrics: metrics,
	}
}

// Start binds the local UDP port and launches the receive worker. On WAN
// sessions the Opus decoder is created here; failure to initialize it is a
// resource error and audio is absent rather than fatal.
func (a *AudioRX) Start(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if port == 0 {
		port = daxUDPPort
	}

	if a.wan {
		dec, err := NewOpusDecoder()
		if err != nil {
			return err
		}
		a.opus = dec
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("%w: failed to bind audio port %d: %v", ErrStream, port, err)
	}
	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		log.Printf("Warning: failed to set audio read buffer size: %v", err)
	}

	a.conn = conn
	a.running = true
	a.packets = 0
	go a.receiveLoop(conn)
	log.Printf("Audio RX started on UDP :%d (wan=%v)", port, a.wan)
	return nil
}

// SetStreamID installs the RX-DAX stream filter. Packets whose stream ID
// differs are dropped silently.
func (a *AudioRX) SetStreamID(id uint32) {
	a.expectedStream.Store(id)
}

// Stop closes the socket; the worker exits on the resulting error. The
// upsampler carry resets so a later start begins clean.
func (a *AudioRX) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.conn.Close()
	a.conn = nil
	a.expectedStream.Store(0)
	a.up.Reset()
	log.Println("Audio RX stopped")
}

func (a *AudioRX) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, audioReadBufferLen)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Closing the socket is the normal shutdown path.
			if !errors.Is(err, net.ErrClosed) {
				a.mu.Lock()
				running := a.running
				a.mu.Unlock()
				if running {
					log.Printf("Audio RX receive error: %v", err)
				}
			}
			return
		}
		a.handleDatagram(buf[:n])
	}
}

func (a *AudioRX) handleDatagram(data []byte) {
	pkt, err := ParseVita(data)
	if err != nil {
		if a.metrics != nil {
			a.metrics.audioDrops.WithLabelValues("malformed").Inc()
		}
		return
	}
	if pkt.Type != vitaTypeIFDataStream && pkt.Type != vitaTypeExtDataStream {
		if a.metrics != nil {
			a.metrics.audioDrops.WithLabelValues("type").Inc()
		}
		return
	}
	expected := a.expectedStream.Load()
	if expected == 0 || pkt.StreamID != expected {
		if a.metrics != nil {
			a.metrics.audioDrops.WithLabelValues("stream_id").Inc()
		}
		return
	}

	if a.wan {
		a.handleOpusPayload(pkt.Payload)
	} else {
		a.handleFloatPayload(pkt.Payload)
	}

	a.packets++
	if a.metrics != nil {
		a.metrics.audioPacketsRx.Inc()
	}
	if a.packets%statsBatchSize == 0 && a.onStats != nil {
		a.onStats(AudioRXStats{Packets: a.packets, LastAt: time.Now()})
	}
}

// handleFloatPayload decodes the LAN path: big-endian float32 stereo
// interleaved. Payloads at the radio's native 24 kHz rate are upsampled 2x
// to 48 kHz; larger payloads are already 48 kHz and pass through.
func (a *AudioRX) handleFloatPayload(payload []byte) {
	pairs := len(payload) / 8
	if pairs == 0 {
		return
	}
	if pairs > len(a.monoBuf) {
		a.monoBuf = make([]float32, pairs)
	}
	n := DecodeFloatStereoPayload(payload, a.monoBuf)
	mono := a.monoBuf[:n]

	if n <= maxNativeRatePairs {
		a.upBuf = a.up.Process(mono, a.upBuf)
		mono = a.upBuf
	}
	a.nr.Process(mono)
	if a.deliver != nil {
		a.deliver(mono)
	}
}

// handleOpusPayload decodes the WAN path: one variable-length Opus frame
// per packet, 48 kHz mono.
func (a *AudioRX) handleOpusPayload(payload []byte) {
	mono, err := a.opus.Decode(payload)
	if err != nil {
		a.opusFails++
		if a.metrics != nil {
			a.metrics.opusDecodeErrors.Inc()
		}
		if a.opusFails == 1 || a.opusFails%1000 == 0 {
			log.Printf("Audio RX: opus decode failed (%d total): %v", a.opusFails, err)
		}
		return
	}
	a.nr.Process(mono)
	if a.deliver != nil {
		a.deliver(mono)
	}
}
