package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Local monitor surface. The GUI collaborator (and operators) read the
// engine through this: a JSON snapshot of the observable model, the radio
// inventory, Prometheus metrics, and a websocket feed of the event bus.
// Rendering stays outside the engine; this is its interface.

// Monitor is the local HTTP server.
type Monitor struct {
	state    *RadioState
	events   *EventBus
	metrics  *Metrics
	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]struct{}
}

// NewMonitor creates the server for the given listen address.
func NewMonitor(listen string, state *RadioState, events *EventBus, metrics *Metrics) *Monitor {
	m := &Monitor{
		state:   state,
		events:  events,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// The monitor binds loopback by default; cross-origin GUI
			// shells are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/status", m.handleStatus).Methods("GET")
	router.HandleFunc("/api/radios", m.handleRadios).Methods("GET")
	router.HandleFunc("/ws", m.handleWebSocket)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:         listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return m
}

// Start serves until Stop. Errors other than clean shutdown are logged.
func (m *Monitor) Start() {
	go func() {
		log.Printf("Monitor listening on http://%s", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Monitor server error: %v", err)
		}
	}()
}

// Stop shuts the server down.
func (m *Monitor) Stop() {
	m.server.Close()
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.state.TakeSnapshot())
}

func (m *Monitor) handleRadios(w http.ResponseWriter, r *http.Request) {
	if m.state.discovery == nil {
		writeJSON(w, []DiscoveredRadio{})
		return
	}
	writeJSON(w, m.state.discovery.Radios())
}

// handleWebSocket streams the event bus to the client as JSON frames.
func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Monitor: websocket upgrade failed: %v", err)
		return
	}
	clientID := uuid.New().String()
	m.mu.Lock()
	m.clients[clientID] = struct{}{}
	m.mu.Unlock()

	events, cancel := m.events.Subscribe()
	defer func() {
		cancel()
		conn.Close()
		m.mu.Lock()
		delete(m.clients, clientID)
		m.mu.Unlock()
	}()

	// Drain (and discard) client frames so pings and closes are handled.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Monitor: encode error: %v", err)
	}
}
