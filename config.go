package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DebugMode gates verbose logging globally. Set from the CLI flag or the
// DEBUG environment variable at startup.
var DebugMode bool

// Config represents the application configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Radio     RadioConfig     `yaml:"radio"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	SmartLink SmartLinkConfig `yaml:"smartlink"`
	Audio     AudioConfig     `yaml:"audio"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClientConfig identifies this client to the radio.
type ClientConfig struct {
	Program string `yaml:"program"`
	Station string `yaml:"station"`
}

// RadioConfig selects the radio to connect to. An empty serial means the
// first discovered radio; a manual IP bypasses discovery entirely.
type RadioConfig struct {
	Serial     string `yaml:"serial"`
	ManualIP   string `yaml:"manual_ip"`
	ManualPort int    `yaml:"manual_port"`
	Reconnect  bool   `yaml:"reconnect"`
}

// DiscoveryConfig controls the LAN discovery listener.
type DiscoveryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// SmartLinkConfig controls WAN brokering.
type SmartLinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Token     string `yaml:"token"`      // static bearer; empty = use token file
	TokenFile string `yaml:"token_file"` // credential store path
}

// AudioConfig controls the DAX pipelines.
type AudioConfig struct {
	DAXChannel int  `yaml:"dax_channel"`
	UDPPort    int  `yaml:"udp_port"`
	NREnabled  bool `yaml:"nr_enabled"`
	MicTX      bool `yaml:"mic_tx"`
}

// MonitorConfig controls the local monitor HTTP surface.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// DefaultConfig returns a configuration suitable for LAN use with no file:
// discovery and the monitor surface are on, WAN brokering is off.
func DefaultConfig() *Config {
	config := &Config{}
	config.Discovery.Enabled = true
	config.Monitor.Enabled = true
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Client.Program == "" {
		c.Client.Program = "FlexAccess"
	}
	if c.Radio.ManualPort == 0 {
		c.Radio.ManualPort = controlPortLAN
	}
	if c.Discovery.StaleAfter == 0 {
		c.Discovery.StaleAfter = defaultStaleAfter
	}
	if c.SmartLink.Host == "" {
		c.SmartLink.Host = defaultSmartLinkHost
	}
	if c.Audio.DAXChannel == 0 {
		c.Audio.DAXChannel = 1
	}
	if c.Audio.UDPPort == 0 {
		c.Audio.UDPPort = daxUDPPort
	}
	if c.Monitor.Listen == "" {
		c.Monitor.Listen = "127.0.0.1:8090"
	}
}

// Validate rejects configurations the engine cannot act on.
func (c *Config) Validate() error {
	if c.Radio.ManualIP != "" && net.ParseIP(c.Radio.ManualIP) == nil {
		return fmt.Errorf("radio.manual_ip %q is not a valid IP address", c.Radio.ManualIP)
	}
	if c.SmartLink.Enabled && c.SmartLink.Token == "" && c.SmartLink.TokenFile == "" {
		return fmt.Errorf("smartlink.enabled requires smartlink.token or smartlink.token_file")
	}
	if c.Monitor.Enabled {
		if _, _, err := net.SplitHostPort(c.Monitor.Listen); err != nil {
			return fmt.Errorf("monitor.listen %q is not host:port: %w", c.Monitor.Listen, err)
		}
	}
	if c.Audio.DAXChannel < 1 || c.Audio.DAXChannel > 8 {
		return fmt.Errorf("audio.dax_channel %d out of range 1..8", c.Audio.DAXChannel)
	}
	return nil
}
