package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SmartLink broker client. The broker arbitrates WAN sessions: the client
// registers with a bearer token, receives the account's radio inventory as
// unsolicited "radio list" lines, and requests a connection to a specific
// radio. The broker answers with a one-time wanHandle which the engine
// later presents to the radio over the TLS control channel.
//
// The protocol is the same line-framed ASCII scheme as the control channel
// but with its own vocabulary. The broker is stateless once the handle is
// delivered; streaming never passes through it.

const (
	defaultSmartLinkHost = "smartlink.flexradio.com:443"
	smartlinkDialTimeout = 15 * time.Second
)

// SmartLinkClient maintains the TLS session to the broker.
type SmartLinkClient struct {
	mu      sync.Mutex
	host    string
	conn    net.Conn
	running bool

	onRadio  func(DiscoveredRadio)
	onHandle func(handle, serial string)
	onError  func(error)

	metrics *Metrics
}

// NewSmartLinkClient creates a broker client. Callbacks fire on the
// client's worker goroutine.
func NewSmartLinkClient(host string, metrics *Metrics, onRadio func(DiscoveredRadio), onHandle func(handle, serial string), onError func(error)) *SmartLinkClient {
	if host == "" {
		host = defaultSmartLinkHost
	}
	return &SmartLinkClient{
		host:     host,
		onRadio:  onRadio,
		onHandle: onHandle,
		onError:  onError,
		metrics:  metrics,
	}
}

// Connect establishes the TLS session and registers the application with
// the given bearer token. The broker's certificate is accepted without
// hostname verification; the vendor infrastructure predates strict
// verification and the trust exception is scoped to this one endpoint.
func (s *SmartLinkClient) Connect(appName, token string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialer := &net.Dialer{Timeout: smartlinkDialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.host, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return fmt.Errorf("%w: broker dial %s: %v", ErrTransport, s.host, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.mu.Unlock()

	register := fmt.Sprintf("application register name=%s platform=%s token=%s",
		appName, runtime.GOOS, token)
	if err := s.send(register); err != nil {
		s.Close()
		return err
	}
	log.Printf("SmartLink: registered application %s with %s (token redacted)", appName, s.host)

	go s.receiveLoop(conn)
	return nil
}

// RequestConnect asks the broker to authorize a WAN session to the radio
// with the given serial. The wanHandle arrives via the handle callback.
func (s *SmartLinkClient) RequestConnect(serial string) error {
	return s.send(fmt.Sprintf("application connect serial=%s hole_punch_port=0", serial))
}

// Disconnect asks the broker to drop an authorized session.
func (s *SmartLinkClient) RequestDisconnect(serial string) error {
	return s.send(fmt.Sprintf("application disconnect serial=%s", serial))
}

func (s *SmartLinkClient) send(line string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: broker write: %v", ErrTransport, err)
	}
	return nil
}

// Close tears down the broker session.
func (s *SmartLinkClient) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	log.Println("SmartLink: disconnected")
}

func (s *SmartLinkClient) receiveLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		s.handleLine(scanner.Text())
	}

	s.mu.Lock()
	running := s.running
	s.running = false
	s.conn = nil
	s.mu.Unlock()
	if running && s.onError != nil {
		if err := scanner.Err(); err != nil {
			s.onError(fmt.Errorf("%w: broker read: %v", ErrTransport, err))
		} else {
			s.onError(fmt.Errorf("%w: broker closed the connection", ErrTransport))
		}
	}
}

func (s *SmartLinkClient) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	switch {
	case fields[0] == "radio" && fields[1] == "list":
		radio, ok := parseBrokerRadio(fields[2:])
		if !ok {
			if DebugMode {
				log.Printf("SmartLink: unparseable radio list line: %s", line)
			}
			return
		}
		if s.metrics != nil {
			s.metrics.brokerRadios.Inc()
		}
		if s.onRadio != nil {
			s.onRadio(radio)
		}

	case fields[0] == "radio" && fields[1] == "connect_ready":
		props := parseKeyValues(fields[2:])
		handle := props["handle"]
		if handle == "" {
			return
		}
		log.Println("SmartLink: connect_ready received (handle redacted)")
		if s.onHandle != nil {
			s.onHandle(handle, props["serial"])
		}

	case fields[0] == "application" && len(fields) >= 3 && fields[1] == "register" && strings.HasPrefix(fields[2], "error"):
		if s.onError != nil {
			s.onError(fmt.Errorf("%w: broker rejected registration", ErrAuth))
		}

	default:
		if DebugMode {
			log.Printf("SmartLink: ignoring line: %s", line)
		}
	}
}

// parseBrokerRadio maps a "radio list" line's key=value fields onto a
// broker-sourced DiscoveredRadio with the WAN endpoints populated.
func parseBrokerRadio(fields []string) (DiscoveredRadio, bool) {
	props := parseKeyValues(fields)
	serial := props["serial"]
	if serial == "" {
		return DiscoveredRadio{}, false
	}
	radio := DiscoveredRadio{
		Serial:   serial,
		Model:    props["model"],
		Callsign: props["callsign"],
		Version:  props["version"],
		Source:   SourceBroker,
		PublicIP: props["public_ip"],
		LastSeen: time.Now(),
	}
	if radio.Model == "" {
		radio.Model = props["radio_type"]
	}
	if radio.Callsign == "" {
		radio.Callsign = props["nickname"]
	}
	if v := props["public_tls_port"]; v != "" {
		radio.PublicTLSPort, _ = strconv.Atoi(v)
	}
	if radio.PublicTLSPort == 0 {
		radio.PublicTLSPort = controlPortWAN
	}
	if v := props["public_udp_port"]; v != "" {
		radio.PublicUDPPort, _ = strconv.Atoi(v)
	}
	if v := props["wan_connected"]; v != "" {
		radio.WanConnected = v == "1" || v == "true"
	}
	return radio, true
}

func parseKeyValues(fields []string) map[string]string {
	props := make(map[string]string)
	for _, tok := range fields {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		props[strings.ToLower(k)] = v
	}
	return props
}
