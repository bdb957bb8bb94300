package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// RadioState is the central observable model. It owns the control
// connection and (when WAN brokering is enabled) the SmartLink client,
// spawns the audio pipelines on DAX start and PTT, and merges response
// completions, status lines and audio statistics into one coherent view.
//
// All state mutations run on a single goroutine fed by an operation
// channel; callbacks from the I/O workers post closures onto it, so the
// model needs no internal locking.

// SliceState is one logical receiver on the radio.
type SliceState struct {
	Index        int               `json:"index"`
	Frequency    int64             `json:"frequency_hz"`
	Mode         string            `json:"mode"`
	FilterLow    int               `json:"filter_low"`
	FilterHigh   int               `json:"filter_high"`
	NR           bool              `json:"nr"`
	NB           bool              `json:"nb"`
	ANF          bool              `json:"anf"`
	AGCMode      string            `json:"agc_mode"`
	AGCThreshold int               `json:"agc_threshold"`
	RFGain       int               `json:"rf_gain"`
	AudioLevel   int               `json:"audio_level"`
	RXAnt        string            `json:"rx_ant"`
	AntList      []string          `json:"ant_list"`
	TX           bool              `json:"tx"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// sliceModes is the recognized demodulation mode set.
var sliceModes = map[string]bool{
	"LSB": true, "USB": true, "CW": true, "CWL": true, "AM": true,
	"SAM": true, "FM": true, "NFM": true, "DIGU": true, "DIGL": true,
	"RTTY": true,
}

// EqualizerState is one of the two radio equalizers.
type EqualizerState struct {
	Kind    string      `json:"kind"` // rxsc or txsc
	Enabled bool        `json:"enabled"`
	Bands   map[int]int `json:"bands"` // always exactly the eight fixed bands
}

func newEqualizerState(kind string) *EqualizerState {
	eq := &EqualizerState{Kind: kind, Bands: make(map[int]int, len(eqBands))}
	for _, hz := range eqBands {
		eq.Bands[hz] = 0
	}
	return eq
}

// ErrorEntry is one entry in the bounded error log.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

const (
	errLogCap          = 100
	stateOpQueueLen    = 256
	defaultSliceFreq   = 14.225 // MHz
	defaultSliceMode   = "USB"
	defaultSliceAnt    = "ANT1"
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// RadioState fuses the component event sources into the observable model.
type RadioState struct {
	cfg     *Config
	metrics *Metrics
	events  *EventBus

	discovery *DiscoveryListener
	control   *ControlConn
	smartlink *SmartLinkClient
	audioRX   *AudioRX
	micTX     *MicTX
	auth      TokenProvider
	output    AudioOutput
	nr        *GatedNR

	ops  chan func()
	done chan struct{}

	// Model fields below are touched only on the state goroutine.
	connState    ConnState
	current      *DiscoveredRadio
	kind         ConnKind
	wanHandle    string
	firmware     *goversion.Version
	slice        SliceState
	hasSlice     bool
	eq           map[string]*EqualizerState
	rxStreamID   uint32
	txStreamID   uint32
	daxRunning   bool
	ptt          bool
	rxStats      AudioRXStats
	errLog       []ErrorEntry
	lastAddr     string
	retryCount   int
	reconnecting bool
}

// NewRadioState wires the engine together. The discovery listener and
// monitor are owned by the caller; the control connection, broker client
// and audio pipelines are owned here.
func NewRadioState(cfg *Config, metrics *Metrics, events *EventBus, discovery *DiscoveryListener, auth TokenProvider, output AudioOutput, nrBackend NoiseReducer) *RadioState {
	if output == nil {
		output = NullAudioOutput{}
	}
	rs := &RadioState{
		cfg:       cfg,
		metrics:   metrics,
		events:    events,
		discovery: discovery,
		auth:      auth,
		output:    output,
		nr:        NewGatedNR(nrBackend, cfg.Audio.NREnabled),
		ops:       make(chan func(), stateOpQueueLen),
		done:      make(chan struct{}),
		eq: map[string]*EqualizerState{
			"rxsc": newEqualizerState("rxsc"),
			"txsc": newEqualizerState("txsc"),
		},
	}

	rs.control = NewControlConn(metrics,
		func(sm StatusMessage) { rs.post(func() { rs.handleStatus(sm) }) },
		func(state ConnState, err error) { rs.post(func() { rs.handleControlState(state, err) }) },
	)
	rs.smartlink = NewSmartLinkClient(cfg.SmartLink.Host, metrics,
		func(radio DiscoveredRadio) { rs.post(func() { rs.handleBrokerRadio(radio) }) },
		func(handle, serial string) { rs.post(func() { rs.handleWanHandle(handle, serial) }) },
		func(err error) { rs.post(func() { rs.reportError(err) }) },
	)
	rs.audioRX = NewAudioRX(false, rs.nr, metrics,
		func(mono []float32) { rs.output.Enqueue48kMono(mono) },
		func(stats AudioRXStats) { rs.post(func() { rs.handleAudioStats(stats) }) },
	)
	rs.micTX = NewMicTX(metrics)
	return rs
}

// Run drains the operation queue until Close. It is the state executor;
// every model mutation happens here.
func (rs *RadioState) Run() {
	for {
		select {
		case op := <-rs.ops:
			op()
		case <-rs.done:
			return
		}
	}
}

// Close tears everything down and stops the state executor.
func (rs *RadioState) Close() {
	rs.call(func() {
		rs.stopDAXLocked()
		rs.control.Disconnect()
		rs.smartlink.Close()
	})
	close(rs.done)
}

// post enqueues an operation for the state goroutine. A full queue blocks
// the poster; workers tolerate brief backpressure.
func (rs *RadioState) post(op func()) {
	select {
	case rs.ops <- op:
	case <-rs.done:
	}
}

// call runs op on the state goroutine and waits for completion. Used by
// the monitor surface to take consistent snapshots.
func (rs *RadioState) call(op func()) {
	doneCh := make(chan struct{})
	rs.post(func() {
		op()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-rs.done:
	}
}

// HandleDiscoveryUpdate is the discovery listener's upsert callback.
func (rs *RadioState) HandleDiscoveryUpdate(radio DiscoveredRadio) {
	rs.post(func() { rs.events.Publish(EventRadioDiscovered, radio) })
}

// HandleDiscoveryRemove is the discovery listener's eviction callback.
func (rs *RadioState) HandleDiscoveryRemove(serial string) {
	rs.post(func() { rs.events.Publish(EventRadioLost, serial) })
}

func (rs *RadioState) handleBrokerRadio(radio DiscoveredRadio) {
	if rs.discovery != nil {
		rs.discovery.Inject(radio)
	}
	rs.events.Publish(EventRadioDiscovered, radio)
}

// ConnectLAN connects to a radio over the local network.
func (rs *RadioState) ConnectLAN(radio DiscoveredRadio) {
	rs.post(func() {
		if rs.connState != StateDisconnected {
			return
		}
		r := radio
		rs.current = &r
		rs.kind = KindLAN
		port := radio.Port
		if port == 0 {
			port = controlPortLAN
		}
		rs.lastAddr = fmt.Sprintf("%s:%d", radio.IP, port)
		rs.retryCount = 0
		rs.control.Connect(rs.lastAddr, KindLAN)
	})
}

// StartSmartLink registers with the broker without targeting a radio, so
// the account's WAN inventory arrives and populates discovery. Called at
// startup when WAN brokering is enabled.
func (rs *RadioState) StartSmartLink() {
	rs.post(func() { rs.ensureSmartLink(nil, nil) })
}

// ensureSmartLink acquires a bearer token and registers with the broker,
// then runs next on the state goroutine. An established broker session is
// reused. Token acquisition may block on the network, so it runs off the
// state goroutine and posts back with the result.
func (rs *RadioState) ensureSmartLink(next, fail func()) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		token, err := rs.auth.EnsureValidToken(ctx)
		rs.post(func() {
			if err != nil {
				rs.reportError(err)
				if fail != nil {
					fail()
				}
				return
			}
			if err := rs.smartlink.Connect(rs.cfg.Client.Program, token); err != nil {
				rs.reportError(err)
				if fail != nil {
					fail()
				}
				return
			}
			if next != nil {
				next()
			}
		})
	}()
}

// ConnectWAN starts the WAN choreography: acquire a bearer token, register
// with the broker, request a connection, and dial the radio's public TLS
// endpoint once the wanHandle arrives.
func (rs *RadioState) ConnectWAN(radio DiscoveredRadio) {
	rs.post(func() {
		if rs.connState != StateDisconnected {
			return
		}
		r := radio
		rs.current = &r
		rs.kind = KindWAN

		rs.ensureSmartLink(func() {
			if rs.current == nil || rs.current.Serial != radio.Serial {
				return
			}
			if err := rs.smartlink.RequestConnect(radio.Serial); err != nil {
				rs.reportError(err)
				rs.current = nil
			}
		}, func() {
			rs.current = nil
		})
	})
}

func (rs *RadioState) handleWanHandle(handle, serial string) {
	if rs.current == nil || rs.kind != KindWAN {
		return
	}
	if serial != "" && serial != rs.current.Serial {
		if DebugMode {
			log.Printf("State: connect_ready for %s while targeting %s, ignored", serial, rs.current.Serial)
		}
		return
	}
	rs.wanHandle = handle
	port := rs.current.PublicTLSPort
	if port == 0 {
		port = controlPortWAN
	}
	rs.lastAddr = fmt.Sprintf("%s:%d", rs.current.PublicIP, port)
	rs.control.Connect(rs.lastAddr, KindWAN)
}

// Disconnect tears down the session and all streams.
func (rs *RadioState) Disconnect() {
	rs.post(func() {
		rs.reconnecting = false
		rs.stopDAXLocked()
		rs.control.Disconnect()
		rs.smartlink.Close()
	})
}

func (rs *RadioState) handleControlState(state ConnState, err error) {
	rs.connState = state
	if rs.metrics != nil {
		rs.metrics.connectionState.Set(float64(state))
	}

	switch state {
	case StateConnected:
		rs.retryCount = 0
		rs.reconnecting = false
		rs.parseFirmware()
		if rs.kind == KindWAN {
			// Validate the brokered session, then give the radio a
			// moment before the first subscription command.
			rs.control.Send(cmdWanValidate(rs.wanHandle), nil)
			rs.wanHandle = ""
			time.AfterFunc(wanValidateDelay, func() {
				rs.post(rs.sendSubscriptions)
			})
		} else {
			rs.sendSubscriptions()
		}

	case StateDisconnected:
		rs.stopDAXLocked()
		rs.slice = SliceState{}
		rs.hasSlice = false
		rs.eq = map[string]*EqualizerState{
			"rxsc": newEqualizerState("rxsc"),
			"txsc": newEqualizerState("txsc"),
		}
		rs.ptt = false
		rs.firmware = nil
		if err != nil {
			rs.reportError(err)
			rs.maybeReconnect()
		}
	}

	rs.events.Publish(EventConnectionChanged, map[string]interface{}{
		"state": state.String(),
		"error": errString(err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (rs *RadioState) parseFirmware() {
	raw := rs.control.Version()
	if raw == "" {
		return
	}
	// The V line may carry a build suffix; the dotted prefix is enough.
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(fields) == 0 {
		return
	}
	v, err := goversion.NewVersion(fields[0])
	if err != nil {
		if DebugMode {
			log.Printf("State: unparseable firmware version %q", raw)
		}
		return
	}
	rs.firmware = v
}

// legacyDAXTX reports whether the firmware wants the old slice-flag TX
// binding. Firmware 3.x+ rejects dax_tx on the slice when stream-based DAX
// is in use.
func (rs *RadioState) legacyDAXTX() bool {
	if rs.firmware == nil {
		return false
	}
	boundary := goversion.Must(goversion.NewVersion("3.0.0"))
	return rs.firmware.LessThan(boundary)
}

// sendSubscriptions performs the post-handshake command sequence.
func (rs *RadioState) sendSubscriptions() {
	if rs.connState != StateConnected {
		return
	}
	rs.control.Send(cmdClientProgram(rs.cfg.Client.Program), nil)
	rs.control.Send(cmdClientUDPPort(rs.effectiveLocalUDPPort()), nil)
	if rs.kind == KindWAN {
		rs.control.Send(cmdClientIP, nil)
	}
	rs.control.Send(cmdSubRadio, nil)
	rs.control.Send(cmdSubSliceAll, nil)
	rs.control.Send(cmdSubMeterList, nil)
	rs.control.Send(cmdSubAudioStream, nil)
	rs.control.Send(cmdEQInfo("rxsc"), nil)
	rs.control.Send(cmdEQInfo("txsc"), nil)
	rs.control.Send(cmdSliceList, func(result, message string) {
		rs.post(func() { rs.handleSliceList(result, message) })
	})
}

// handleSliceList binds the first existing slice, or creates one at the
// default frequency when the radio has none.
func (rs *RadioState) handleSliceList(result, message string) {
	if !ResultOK(result) {
		rs.reportError(fmt.Errorf("%w: slice list returned %s", ErrResponse, result))
		return
	}
	indices := strings.Fields(strings.TrimSpace(message))
	if len(indices) > 0 {
		if idx, err := strconv.Atoi(indices[0]); err == nil {
			rs.slice.Index = idx
			rs.hasSlice = true
			if DebugMode {
				log.Printf("State: bound to existing slice %d", idx)
			}
			return
		}
	}
	rs.control.Send(cmdSliceCreate(defaultSliceFreq, defaultSliceAnt, defaultSliceMode), func(result, message string) {
		rs.post(func() {
			if !ResultOK(result) {
				rs.reportError(fmt.Errorf("%w: slice create returned %s", ErrResponse, result))
				return
			}
			rs.hasSlice = true
		})
	})
}

func (rs *RadioState) maybeReconnect() {
	if !rs.cfg.Radio.Reconnect || rs.kind != KindLAN || rs.lastAddr == "" || rs.reconnecting {
		return
	}
	delay := reconnectMaxDelay
	if rs.retryCount < 6 {
		delay = reconnectBaseDelay << rs.retryCount
	}
	rs.retryCount++
	rs.reconnecting = true
	log.Printf("State: reconnecting to %s in %v (attempt %d)", rs.lastAddr, delay, rs.retryCount)
	time.AfterFunc(delay, func() {
		rs.post(func() {
			if !rs.reconnecting {
				return
			}
			rs.reconnecting = false
			rs.control.Teardown()
			rs.control.Connect(rs.lastAddr, KindLAN)
		})
	})
}

// handleStatus routes a status line to exactly one subsystem by its object
// type.
func (rs *RadioState) handleStatus(sm StatusMessage) {
	switch sm.Object {
	case "slice":
		rs.handleSliceStatus(sm)
	case "eq":
		rs.handleEQStatus(sm)
	case "audio_stream":
		rs.handleAudioStreamStatus(sm)
	case "radio", "meter", "panadapter", "waterfall", "slice_list":
		// Not modeled beyond diagnostics.
		if DebugMode {
			log.Printf("State: %s status: %v", sm.Object, sm.Props)
		}
	}
}

// handleSliceStatus applies a slice status line. Only the active slice is
// merged into the model; other indices are ignored. Before a slice is
// bound the first index seen is adopted.
func (rs *RadioState) handleSliceStatus(sm StatusMessage) {
	if !rs.hasSlice {
		rs.slice.Index = sm.Index
		rs.hasSlice = true
	}
	if sm.Index != rs.slice.Index {
		return
	}
	rs.applySliceProps(sm.Props)
	rs.events.Publish(EventSliceUpdated, rs.slice)
}

func (rs *RadioState) applySliceProps(props map[string]string) {
	for key, value := range props {
		switch key {
		case "rf_frequency":
			if mhz, err := strconv.ParseFloat(value, 64); err == nil {
				rs.slice.Frequency = int64(mhz*1e6 + 0.5)
			}
		case "mode":
			mode := strings.ToUpper(value)
			if sliceModes[mode] {
				rs.slice.Mode = mode
			}
		case "filter_lo":
			if n, err := strconv.Atoi(value); err == nil {
				rs.slice.FilterLow = n
			}
		case "filter_hi":
			if n, err := strconv.Atoi(value); err == nil {
				rs.slice.FilterHigh = n
			}
		case "nr":
			rs.slice.NR = value == "1"
		case "nb":
			rs.slice.NB = value == "1"
		case "anf":
			rs.slice.ANF = value == "1"
		case "agc_mode":
			rs.slice.AGCMode = value
		case "agc_threshold":
			if n, err := strconv.Atoi(value); err == nil {
				rs.slice.AGCThreshold = n
			}
		case "rfgain":
			if n, err := strconv.Atoi(value); err == nil {
				rs.slice.RFGain = n
			}
		case "audio_level":
			if n, err := strconv.Atoi(value); err == nil {
				rs.slice.AudioLevel = n
			}
		case "rxant":
			rs.slice.RXAnt = value
		case "ant_list":
			rs.slice.AntList = strings.Split(value, ",")
		case "tx":
			rs.slice.TX = value == "1"
			rs.ptt = rs.slice.TX
		default:
			// Unknown keys pass through verbatim for diagnostics.
			if rs.slice.Extra == nil {
				rs.slice.Extra = make(map[string]string)
			}
			rs.slice.Extra[key] = value
		}
	}
}

func (rs *RadioState) handleEQStatus(sm StatusMessage) {
	eq, ok := rs.eq[sm.EQKind]
	if !ok {
		return
	}
	if mode, found := sm.Props["mode"]; found {
		eq.Enabled = mode == "1"
	}
	for hz, value := range ParseEQBands(sm.Props) {
		eq.Bands[hz] = value
	}
	rs.events.Publish(EventEQUpdated, *eq)
}

func (rs *RadioState) handleAudioStreamStatus(sm StatusMessage) {
	// Late packets after in_use=0 are tolerated by the stream-ID filter;
	// nothing to do here beyond diagnostics.
	if DebugMode {
		log.Printf("State: audio_stream %s status: %v", sm.StreamID, sm.Props)
	}
}

func (rs *RadioState) handleAudioStats(stats AudioRXStats) {
	rs.rxStats = stats
	rs.events.Publish(EventAudioStats, stats)
}

// effectiveLocalUDPPort is the port the audio receiver binds and registers
// with the radio.
func (rs *RadioState) effectiveLocalUDPPort() int {
	return rs.cfg.Audio.UDPPort
}

// effectiveRemote is the radio's endpoint for TX audio.
func (rs *RadioState) effectiveRemote() (ip string, port int) {
	if rs.current == nil {
		return "", 0
	}
	if rs.kind == KindWAN {
		return rs.current.PublicIP, rs.current.PublicUDPPort
	}
	return rs.current.IP, daxUDPPort
}

// StartDAX binds the RX socket, then creates the RX and TX streams. The
// socket is bound before the stream exists so no early packets are lost to
// a missing listener; the stream filter admits packets once the create
// response delivers the ID.
func (rs *RadioState) StartDAX() {
	rs.post(func() {
		if rs.connState != StateConnected {
			rs.reportError(fmt.Errorf("%w: cannot start DAX", ErrNotConnected))
			return
		}
		if rs.daxRunning {
			return
		}
		wan := rs.kind == KindWAN
		rs.audioRX.wan = wan
		if err := rs.audioRX.Start(rs.effectiveLocalUDPPort()); err != nil {
			rs.reportError(err)
			return
		}
		rs.daxRunning = true

		rs.control.Send(cmdClientUDPRegister(rs.control.Handle()), nil)
		rs.control.Send(cmdStreamCreateDAXRX(rs.cfg.Audio.DAXChannel), func(result, message string) {
			rs.post(func() { rs.handleRXStreamCreated(result, message) })
		})
		rs.control.Send(cmdStreamCreateTX, func(result, message string) {
			rs.post(func() { rs.handleTXStreamCreated(result, message) })
		})

		// Old firmware binds DAX through the slice; newer firmware
		// ignores the flag when stream-based DAX is active.
		if rs.hasSlice {
			rs.control.Send(cmdSliceSet(rs.slice.Index, "dax", "1"), nil)
			if rs.legacyDAXTX() {
				rs.control.Send(cmdSliceSet(rs.slice.Index, "dax_tx", "1"), nil)
			}
		}
		rs.events.Publish(EventAudioStarted, nil)
	})
}

func (rs *RadioState) handleRXStreamCreated(result, message string) {
	if !ResultOK(result) {
		rs.reportError(fmt.Errorf("%w: dax_rx stream create returned %s", ErrResponse, result))
		return
	}
	id, err := ParseStreamID(message)
	if err != nil {
		rs.reportError(err)
		return
	}
	rs.rxStreamID = id
	rs.audioRX.SetStreamID(id)
	log.Printf("State: RX DAX stream 0x%08X", id)
}

func (rs *RadioState) handleTXStreamCreated(result, message string) {
	if !ResultOK(result) {
		rs.reportError(fmt.Errorf("%w: dax_tx stream create returned %s", ErrResponse, result))
		return
	}
	id, err := ParseStreamID(message)
	if err != nil {
		rs.reportError(err)
		return
	}
	rs.txStreamID = id
	log.Printf("State: TX DAX stream 0x%08X", id)
}

// StopDAX removes the streams and tears down both audio pipelines.
func (rs *RadioState) StopDAX() {
	rs.post(rs.stopDAXLocked)
}

func (rs *RadioState) stopDAXLocked() {
	if !rs.daxRunning {
		return
	}
	if rs.connState == StateConnected {
		if rs.rxStreamID != 0 {
			rs.control.Send(cmdStreamRemove(rs.rxStreamID), nil)
		}
		if rs.txStreamID != 0 {
			rs.control.Send(cmdStreamRemove(rs.txStreamID), nil)
		}
		if rs.hasSlice {
			rs.control.Send(cmdSliceSet(rs.slice.Index, "dax", "0"), nil)
		}
	}
	rs.audioRX.Stop()
	rs.micTX.Stop()
	rs.rxStreamID = 0
	rs.txStreamID = 0
	rs.rxStats = AudioRXStats{}
	rs.daxRunning = false
	rs.events.Publish(EventAudioStopped, nil)
}

// SetPTT keys or unkeys the transmitter. The TX flag is updated
// optimistically; the radio's slice status reconciles it. When mic TX is
// enabled, keying also starts the microphone pipeline.
func (rs *RadioState) SetPTT(on bool) {
	rs.post(func() {
		if rs.connState != StateConnected {
			rs.reportError(fmt.Errorf("%w: cannot key transmitter", ErrNotConnected))
			return
		}
		rs.control.Send(cmdXmit(on), nil)
		rs.ptt = on
		rs.slice.TX = on
		rs.events.Publish(EventTXChanged, on)

		if !rs.cfg.Audio.MicTX {
			return
		}
		if on {
			if rs.txStreamID == 0 {
				rs.reportError(fmt.Errorf("%w: no TX stream for mic audio", ErrStream))
				return
			}
			ip, port := rs.effectiveRemote()
			if err := rs.micTX.Start(ip, port, rs.txStreamID); err != nil {
				rs.reportError(err)
			}
		} else {
			rs.micTX.Stop()
		}
	})
}

// MicAppend feeds captured microphone audio. Safe to call from the host's
// audio callback; it forwards straight into the TX pipeline without
// touching the state goroutine.
func (rs *RadioState) MicAppend(samples []float32, sampleRate int) {
	rs.micTX.Append(samples, sampleRate)
}

// TuneSlice retunes the active slice.
func (rs *RadioState) TuneSlice(frequencyHz int64) {
	rs.post(func() {
		if rs.connState != StateConnected || !rs.hasSlice {
			return
		}
		rs.control.Send(cmdSliceTune(rs.slice.Index, float64(frequencyHz)/1e6), nil)
	})
}

// SetSliceParam sends a slice set command for the active slice.
func (rs *RadioState) SetSliceParam(key, value string) {
	rs.post(func() {
		if rs.connState != StateConnected || !rs.hasSlice {
			return
		}
		rs.control.Send(cmdSliceSet(rs.slice.Index, key, value), nil)
	})
}

// SetEQEnabled switches an equalizer on or off.
func (rs *RadioState) SetEQEnabled(kind string, enabled bool) {
	rs.post(func() {
		if rs.connState != StateConnected {
			return
		}
		rs.control.Send(cmdEQMode(kind, enabled), nil)
	})
}

// SetEQBand sets one band. Values are clamped to the radio's ±10 dB range.
func (rs *RadioState) SetEQBand(kind string, hz, value int) {
	rs.post(func() {
		if rs.connState != StateConnected {
			return
		}
		if value > 10 {
			value = 10
		}
		if value < -10 {
			value = -10
		}
		rs.control.Send(cmdEQBand(kind, hz, value), nil)
	})
}

// FlattenEQ zeroes all eight bands of an equalizer with a single command.
func (rs *RadioState) FlattenEQ(kind string) {
	rs.post(func() {
		if rs.connState != StateConnected {
			return
		}
		rs.control.Send(cmdEQFlat(kind), nil)
	})
}

// SetNREnabled toggles the local noise-reduction backend.
func (rs *RadioState) SetNREnabled(enabled bool) {
	rs.nr.SetEnabled(enabled)
}

func (rs *RadioState) reportError(err error) {
	entry := ErrorEntry{At: time.Now(), Message: err.Error()}
	rs.errLog = append(rs.errLog, entry)
	if len(rs.errLog) > errLogCap {
		rs.errLog = rs.errLog[len(rs.errLog)-errLogCap:]
	}
	log.Printf("State: %v", err)
	rs.events.Publish(EventErrorLogged, entry)
}

// Snapshot is a consistent copy of the observable model.
type Snapshot struct {
	Connection string           `json:"connection"`
	Kind       string           `json:"kind"`
	Radio      *DiscoveredRadio `json:"radio,omitempty"`
	Firmware   string           `json:"firmware,omitempty"`
	Handle     string           `json:"handle,omitempty"`
	Slice      *SliceState      `json:"slice,omitempty"`
	EQ         []EqualizerState `json:"eq"`
	DAXRunning bool             `json:"dax_running"`
	PTT        bool             `json:"ptt"`
	RXPackets  uint64           `json:"rx_packets"`
	Errors     []ErrorEntry     `json:"errors"`
}

// TakeSnapshot captures the model on the state goroutine.
func (rs *RadioState) TakeSnapshot() Snapshot {
	var snap Snapshot
	rs.call(func() {
		snap.Connection = rs.connState.String()
		if rs.kind == KindWAN {
			snap.Kind = "wan"
		} else {
			snap.Kind = "lan"
		}
		if rs.current != nil {
			r := *rs.current
			snap.Radio = &r
		}
		snap.Firmware = rs.control.Version()
		snap.Handle = rs.control.Handle()
		if rs.hasSlice {
			s := rs.slice
			snap.Slice = &s
		}
		for _, kind := range []string{"rxsc", "txsc"} {
			eq := *rs.eq[kind]
			bands := make(map[int]int, len(eq.Bands))
			for hz, v := range eq.Bands {
				bands[hz] = v
			}
			eq.Bands = bands
			snap.EQ = append(snap.EQ, eq)
		}
		snap.DAXRunning = rs.daxRunning
		snap.PTT = rs.ptt
		snap.RXPackets = rs.rxStats.Packets
		snap.Errors = append([]ErrorEntry(nil), rs.errLog...)
	})
	return snap
}
