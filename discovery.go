package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// LAN discovery listener. FlexRadio 6000-series radios broadcast a VITA-49
// beacon on UDP 4992 roughly once a second; the listener maintains an
// inventory of radios keyed by serial number and evicts LAN entries that
// stop beaconing. Broker-sourced and manually added radios are never
// evicted; they are removed only on explicit request.

// RadioSource tags how a radio entered the inventory.
type RadioSource string

const (
	SourceLAN    RadioSource = "lan"
	SourceBroker RadioSource = "broker"
	SourceManual RadioSource = "manual"
)

// DiscoveredRadio describes one radio known to the inventory. Identity is
// the serial number.
type DiscoveredRadio struct {
	Serial   string      `json:"serial"`
	Model    string      `json:"model"`
	Callsign string      `json:"callsign"`
	IP       string      `json:"ip"`
	Port     int         `json:"port"`
	Version  string      `json:"version"`
	Source   RadioSource `json:"source"`

	// WAN endpoints, populated for broker-sourced radios.
	PublicIP      string `json:"public_ip,omitempty"`
	PublicTLSPort int    `json:"public_tls_port,omitempty"`
	PublicUDPPort int    `json:"public_udp_port,omitempty"`
	WanConnected  bool   `json:"wan_connected,omitempty"`

	LastSeen time.Time `json:"last_seen"`
}

const (
	discoveryPort          = 4992
	defaultStaleAfter      = 5 * time.Second
	discoveryReadBufferLen = 2048
)

// DiscoveryListener receives LAN beacons and maintains the radio inventory.
type DiscoveryListener struct {
	mu     sync.RWMutex
	radios map[string]*DiscoveredRadio
	timers map[string]*time.Timer

	conn       *net.UDPConn
	staleAfter time.Duration
	running    bool

	onUpdate func(DiscoveredRadio)
	onRemove func(serial string)

	metrics *Metrics
}

// NewDiscoveryListener creates a listener. Callbacks fire on the listener's
// worker goroutine; the state layer re-posts them to its own executor.
func NewDiscoveryListener(staleAfter time.Duration, metrics *Metrics, onUpdate func(DiscoveredRadio), onRemove func(string)) *DiscoveryListener {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &DiscoveryListener{
		radios:     make(map[string]*DiscoveredRadio),
		timers:     make(map[string]*time.Timer),
		staleAfter: staleAfter,
		onUpdate:   onUpdate,
		onRemove:   onRemove,
		metrics:    metrics,
	}
}

// Start binds the discovery port and launches the receive worker. The
// socket is bound with SO_REUSEADDR, SO_REUSEPORT and SO_BROADCAST so that
// co-located SmartSDR clients can share the well-known port.
func (d *DiscoveryListener) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_BROADCAST: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", discoveryPort))
	if err != nil {
		return fmt.Errorf("%w: failed to bind discovery port %d: %v", ErrStream, discoveryPort, err)
	}
	d.conn = pc.(*net.UDPConn)
	d.running = true

	go d.receiveLoop(d.conn)
	log.Printf("Discovery listener started on UDP :%d (stale after %v)", discoveryPort, d.staleAfter)
	return nil
}

// Stop closes the socket; the receive worker exits on the close error.
// Eviction timers for LAN entries are cancelled and the LAN inventory is
// retained as-is for inspection.
func (d *DiscoveryListener) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	d.conn.Close()
	for serial, t := range d.timers {
		t.Stop()
		delete(d.timers, serial)
	}
	log.Println("Discovery listener stopped")
}

func (d *DiscoveryListener) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, discoveryReadBufferLen)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			d.mu.RLock()
			running := d.running
			d.mu.RUnlock()
			if running {
				log.Printf("Discovery receive error: %v", err)
			}
			return
		}
		d.handleDatagram(buf[:n])
	}
}

func (d *DiscoveryListener) handleDatagram(data []byte) {
	pkt, err := ParseVita(data)
	if err != nil {
		if DebugMode {
			log.Printf("Discovery: dropping datagram: %v", err)
		}
		return
	}
	if !pkt.IsDiscovery() {
		return
	}
	props := ParseDiscoveryPayload(pkt.Payload)
	radio, ok := radioFromBeacon(props)
	if !ok {
		if DebugMode {
			log.Printf("Discovery: beacon missing serial or ip: %v", props)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.discoveryBeacons.Inc()
	}
	d.upsert(radio)
}

// radioFromBeacon maps beacon properties to a DiscoveredRadio. The serial
// and ip keys are required; model falls back to radio_type then a generic
// label, callsign falls back to nickname.
func radioFromBeacon(props map[string]string) (DiscoveredRadio, bool) {
	serial := props["serial"]
	ip := props["ip"]
	if serial == "" || ip == "" {
		return DiscoveredRadio{}, false
	}

	model := props["model"]
	if model == "" {
		model = props["radio_type"]
	}
	if model == "" {
		model = "FLEX-6000"
	}
	callsign := props["callsign"]
	if callsign == "" {
		callsign = props["nickname"]
	}

	radio := DiscoveredRadio{
		Serial:   serial,
		Model:    model,
		Callsign: callsign,
		IP:       ip,
		Port:     controlPortLAN,
		Version:  props["version"],
		Source:   SourceLAN,
		LastSeen: time.Now(),
	}
	if v, ok := props["port"]; ok {
		fmt.Sscanf(v, "%d", &radio.Port)
	}
	if v, ok := props["publicip"]; ok {
		radio.PublicIP = v
	}
	if v, ok := props["publictlsport"]; ok {
		fmt.Sscanf(v, "%d", &radio.PublicTLSPort)
	}
	if v, ok := props["publicudpport"]; ok {
		fmt.Sscanf(v, "%d", &radio.PublicUDPPort)
	}
	if v, ok := props["wanconnected"]; ok {
		radio.WanConnected = v == "1" || v == "true"
	}
	return radio, true
}

// upsert inserts or refreshes an inventory entry. Repeat beacons never
// change an entry's source tag; the eviction timer is (re)armed only for
// LAN-sourced entries.
func (d *DiscoveryListener) upsert(radio DiscoveredRadio) {
	d.mu.Lock()
	if existing, ok := d.radios[radio.Serial]; ok {
		radio.Source = existing.Source
	}
	d.radios[radio.Serial] = &radio

	if radio.Source == SourceLAN {
		if t, ok := d.timers[radio.Serial]; ok {
			t.Reset(d.staleAfter)
		} else {
			serial := radio.Serial
			d.timers[serial] = time.AfterFunc(d.staleAfter, func() {
				d.evict(serial)
			})
		}
	}
	onUpdate := d.onUpdate
	d.mu.Unlock()

	if onUpdate != nil {
		onUpdate(radio)
	}
}

// evict removes a stale entry. Only LAN-sourced entries expire.
func (d *DiscoveryListener) evict(serial string) {
	d.mu.Lock()
	radio, ok := d.radios[serial]
	if !ok || radio.Source != SourceLAN {
		d.mu.Unlock()
		return
	}
	delete(d.radios, serial)
	delete(d.timers, serial)
	onRemove := d.onRemove
	d.mu.Unlock()

	if DebugMode {
		log.Printf("Discovery: radio %s went stale, evicted", serial)
	}
	if onRemove != nil {
		onRemove(serial)
	}
}

// Inject adds or refreshes a radio from an out-of-band source (broker
// inventory or manual configuration). The entry keeps the injected source
// tag on later beacon refreshes.
func (d *DiscoveryListener) Inject(radio DiscoveredRadio) {
	if radio.Serial == "" {
		return
	}
	radio.LastSeen = time.Now()
	d.mu.Lock()
	d.radios[radio.Serial] = &radio
	onUpdate := d.onUpdate
	d.mu.Unlock()
	if onUpdate != nil {
		onUpdate(radio)
	}
}

// Remove deletes an entry regardless of source. This is the explicit path
// for broker and manual entries.
func (d *DiscoveryListener) Remove(serial string) {
	d.mu.Lock()
	_, ok := d.radios[serial]
	delete(d.radios, serial)
	if t, found := d.timers[serial]; found {
		t.Stop()
		delete(d.timers, serial)
	}
	onRemove := d.onRemove
	d.mu.Unlock()
	if ok && onRemove != nil {
		onRemove(serial)
	}
}

// Get returns the entry for a serial, if present.
func (d *DiscoveryListener) Get(serial string) (DiscoveredRadio, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	radio, ok := d.radios[serial]
	if !ok {
		return DiscoveredRadio{}, false
	}
	return *radio, true
}

// Radios returns a snapshot of the inventory.
func (d *DiscoveryListener) Radios() []DiscoveredRadio {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiscoveredRadio, 0, len(d.radios))
	for _, r := range d.radios {
		out = append(out, *r)
	}
	return out
}
