package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Environment variable takes precedence over the CLI flag.
	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configFile)
		config = DefaultConfig()
	}
	if config.Logging.Debug {
		DebugMode = true
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	metrics := NewMetrics()
	events := NewEventBus(metrics)

	var auth TokenProvider = &StaticTokenProvider{Token: config.SmartLink.Token}
	if config.SmartLink.Token == "" && config.SmartLink.TokenFile != "" {
		store, err := NewFileCredentialStore(config.SmartLink.TokenFile)
		if err != nil {
			log.Fatalf("Failed to open credential store: %v", err)
		}
		auth = &StoredTokenProvider{Store: store, Scope: ScopeDevice}
	}

	output := NewChannelAudioOutput()
	if err := output.Start(""); err != nil {
		log.Fatalf("Failed to start audio output: %v", err)
	}
	go drainAudio(output)

	// The inventory exists even when LAN listening is off; broker-sourced
	// radios are injected into it.
	state := NewRadioState(config, metrics, events, nil, auth, output, nil)
	discovery := NewDiscoveryListener(config.Discovery.StaleAfter, metrics,
		state.HandleDiscoveryUpdate,
		state.HandleDiscoveryRemove)
	state.discovery = discovery
	if config.Discovery.Enabled {
		if err := discovery.Start(); err != nil {
			log.Fatalf("Failed to start discovery: %v", err)
		}
	}
	go state.Run()

	if config.Monitor.Enabled {
		monitor := NewMonitor(config.Monitor.Listen, state, events, metrics)
		monitor.Start()
		defer monitor.Stop()
	}

	// Register with the broker up front so the account's WAN radios land
	// in the inventory alongside the LAN beacons.
	if config.SmartLink.Enabled {
		state.StartSmartLink()
	}

	// Manual endpoint bypasses discovery entirely.
	if config.Radio.ManualIP != "" {
		radio := DiscoveredRadio{
			Serial: "manual",
			Model:  "FLEX-6000",
			IP:     config.Radio.ManualIP,
			Port:   config.Radio.ManualPort,
			Source: SourceManual,
		}
		discovery.Inject(radio)
		state.ConnectLAN(radio)
	} else if config.Radio.Serial != "" || config.Discovery.Enabled || config.SmartLink.Enabled {
		go autoConnect(config, discovery, state)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	state.Close()
	discovery.Stop()
	output.Stop()
}

// autoConnect waits for the preferred radio (or the first one discovered,
// LAN beacons and broker inventory alike) and connects to it.
func autoConnect(config *Config, discovery *DiscoveryListener, state *RadioState) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if config.Radio.Serial != "" {
			if radio, ok := discovery.Get(config.Radio.Serial); ok {
				connectRadio(state, radio)
				return
			}
			continue
		}
		radios := discovery.Radios()
		if len(radios) > 0 {
			connectRadio(state, radios[0])
			return
		}
	}
}

// connectRadio picks the transport for a radio: broker-sourced (or
// WAN-only) radios run the SmartLink choreography, everything else
// connects directly over the LAN.
func connectRadio(state *RadioState, radio DiscoveredRadio) {
	if isWANRadio(radio) {
		log.Printf("Connecting to %s (%s) via SmartLink at %s", radio.Serial, radio.Model, radio.PublicIP)
		state.ConnectWAN(radio)
		return
	}
	log.Printf("Connecting to %s (%s) at %s", radio.Serial, radio.Model, radio.IP)
	state.ConnectLAN(radio)
}

// isWANRadio reports whether a radio is reachable only through the broker:
// broker-sourced entries, or entries with a public endpoint and no LAN
// address.
func isWANRadio(radio DiscoveredRadio) bool {
	return radio.Source == SourceBroker || (radio.IP == "" && radio.PublicIP != "")
}

// drainAudio consumes the playback queue. A real deployment replaces this
// with a playback device; headless runs simply discard the audio.
func drainAudio(output *ChannelAudioOutput) {
	frames := output.Frames()
	if frames == nil {
		return
	}
	for range frames {
	}
}
