// Package config loads and validates the BDT stack configuration,
// the same way moto/config loads its rule set: a JSON file, an env
// override for its path, and a package-level Reload.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"time"
)

type logConfig struct {
	Level string `json:"level"`
	Path  string `json:"path"`
}

// StreamConfig holds stream-layer tunables (spec.md §6 stream.*).
type StreamConfig struct {
	ConnectTimeout time.Duration `json:"-"`
	ConnectTimeoutMs int64       `json:"connect_timeout_ms"`
	NagleMs          int64       `json:"nagle_ms"`
	RecvBuffer       int         `json:"recv_buffer"`
	SendBuffer       int         `json:"send_buffer"`
	Drain           float64      `json:"drain"`
	MaxAnswerBytes  int          `json:"-"`
}

// TunnelConfig holds tunnel-container tunables (spec.md §6 tunnel.*).
type TunnelConfig struct {
	ConnectTimeout   time.Duration `json:"-"`
	ConnectTimeoutMs int64         `json:"connect_timeout_ms"`
	RetainTimeout    time.Duration `json:"-"`
	RetainTimeoutMs  int64         `json:"retain_timeout_ms"`
}

// TCPConfig holds TCP sub-tunnel tunables (spec.md §6 tcp.*).
type TCPConfig struct {
	PingInterval       time.Duration `json:"-"`
	PingIntervalMs     int64         `json:"ping_interval_ms"`
	PingTimeout        time.Duration `json:"-"`
	PingTimeoutMs      int64         `json:"ping_timeout_ms"`
	ConnectTimeout     time.Duration `json:"-"`
	ConnectTimeoutMs   int64         `json:"connect_timeout_ms"`
	ConfirmTimeout     time.Duration `json:"-"`
	ConfirmTimeoutMs   int64         `json:"confirm_timeout_ms"`
	AcceptTimeout      time.Duration `json:"-"`
	AcceptTimeoutMs    int64         `json:"accept_timeout_ms"`
	RetainConnectDelay time.Duration `json:"-"`
	RetainConnectDelayMs int64       `json:"retain_connect_delay_ms"`
	PackageBuffer      int           `json:"package_buffer"`
	PieceBuffer        int           `json:"piece_buffer"`
	PieceIntervalMs    int64         `json:"piece_interval_ms"`
}

// UDPConfig holds UDP sub-tunnel tunables (spec.md §6 udp.*).
type UDPConfig struct {
	MTU              int           `json:"mtu"`
	PingInterval     time.Duration `json:"-"`
	PingIntervalMs   int64         `json:"ping_interval_ms"`
	PingTimeout      time.Duration `json:"-"`
	PingTimeoutMs    int64         `json:"ping_timeout_ms"`
	ReassemblyCache  int           `json:"reassembly_cache"`
}

// Config is the top-level BDT stack configuration.
type Config struct {
	Log    logConfig    `json:"log"`
	Stream StreamConfig `json:"stream"`
	Tunnel TunnelConfig `json:"tunnel"`
	TCP    TCPConfig    `json:"tcp"`
	UDP    UDPConfig    `json:"udp"`
}

// GlobalCfg is the effective configuration, reloadable at runtime.
var GlobalCfg *Config

func defaultConfig() *Config {
	return &Config{
		Log: logConfig{Level: "info", Path: "bdt.log"},
		Stream: StreamConfig{
			ConnectTimeoutMs: 30_000,
			NagleMs:          0,
			RecvBuffer:       256 * 1024,
			SendBuffer:       256 * 1024,
			Drain:            0.25,
			MaxAnswerBytes:   25 * 1024,
		},
		Tunnel: TunnelConfig{
			ConnectTimeoutMs: 10_000,
			RetainTimeoutMs:  60_000,
		},
		TCP: TCPConfig{
			PingIntervalMs:       8_000,
			PingTimeoutMs:        25_000,
			ConnectTimeoutMs:     5_000,
			ConfirmTimeoutMs:     5_000,
			AcceptTimeoutMs:      5_000,
			RetainConnectDelayMs: 200,
			PackageBuffer:        128,
			PieceBuffer:          256,
			PieceIntervalMs:      2,
		},
		UDP: UDPConfig{
			MTU:             1472,
			PingIntervalMs:  8_000,
			PingTimeoutMs:   25_000,
			ReassemblyCache: 1024,
		},
	}
}

func (c *Config) fillDefaults() {
	def := defaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Path == "" {
		c.Log.Path = def.Log.Path
	}
	if c.Stream.ConnectTimeoutMs == 0 {
		c.Stream.ConnectTimeoutMs = def.Stream.ConnectTimeoutMs
	}
	if c.Stream.RecvBuffer == 0 {
		c.Stream.RecvBuffer = def.Stream.RecvBuffer
	}
	if c.Stream.SendBuffer == 0 {
		c.Stream.SendBuffer = def.Stream.SendBuffer
	}
	if c.Stream.Drain == 0 {
		c.Stream.Drain = def.Stream.Drain
	}
	c.Stream.MaxAnswerBytes = def.Stream.MaxAnswerBytes
	if c.Tunnel.ConnectTimeoutMs == 0 {
		c.Tunnel.ConnectTimeoutMs = def.Tunnel.ConnectTimeoutMs
	}
	if c.Tunnel.RetainTimeoutMs == 0 {
		c.Tunnel.RetainTimeoutMs = def.Tunnel.RetainTimeoutMs
	}
	if c.TCP.PingIntervalMs == 0 {
		c.TCP.PingIntervalMs = def.TCP.PingIntervalMs
	}
	if c.TCP.PingTimeoutMs == 0 {
		c.TCP.PingTimeoutMs = def.TCP.PingTimeoutMs
	}
	if c.TCP.ConnectTimeoutMs == 0 {
		c.TCP.ConnectTimeoutMs = def.TCP.ConnectTimeoutMs
	}
	if c.TCP.ConfirmTimeoutMs == 0 {
		c.TCP.ConfirmTimeoutMs = def.TCP.ConfirmTimeoutMs
	}
	if c.TCP.AcceptTimeoutMs == 0 {
		c.TCP.AcceptTimeoutMs = def.TCP.AcceptTimeoutMs
	}
	if c.TCP.RetainConnectDelayMs == 0 {
		c.TCP.RetainConnectDelayMs = def.TCP.RetainConnectDelayMs
	}
	if c.TCP.PackageBuffer == 0 {
		c.TCP.PackageBuffer = def.TCP.PackageBuffer
	}
	if c.TCP.PieceBuffer == 0 {
		c.TCP.PieceBuffer = def.TCP.PieceBuffer
	}
	if c.TCP.PieceIntervalMs == 0 {
		c.TCP.PieceIntervalMs = def.TCP.PieceIntervalMs
	}
	if c.UDP.MTU == 0 {
		c.UDP.MTU = def.UDP.MTU
	}
	if c.UDP.PingIntervalMs == 0 {
		c.UDP.PingIntervalMs = def.UDP.PingIntervalMs
	}
	if c.UDP.PingTimeoutMs == 0 {
		c.UDP.PingTimeoutMs = def.UDP.PingTimeoutMs
	}
	if c.UDP.ReassemblyCache == 0 {
		c.UDP.ReassemblyCache = def.UDP.ReassemblyCache
	}

	c.Stream.ConnectTimeout = time.Duration(c.Stream.ConnectTimeoutMs) * time.Millisecond
	c.Tunnel.ConnectTimeout = time.Duration(c.Tunnel.ConnectTimeoutMs) * time.Millisecond
	c.Tunnel.RetainTimeout = time.Duration(c.Tunnel.RetainTimeoutMs) * time.Millisecond
	c.TCP.PingInterval = time.Duration(c.TCP.PingIntervalMs) * time.Millisecond
	c.TCP.PingTimeout = time.Duration(c.TCP.PingTimeoutMs) * time.Millisecond
	c.TCP.ConnectTimeout = time.Duration(c.TCP.ConnectTimeoutMs) * time.Millisecond
	c.TCP.ConfirmTimeout = time.Duration(c.TCP.ConfirmTimeoutMs) * time.Millisecond
	c.TCP.AcceptTimeout = time.Duration(c.TCP.AcceptTimeoutMs) * time.Millisecond
	c.TCP.RetainConnectDelay = time.Duration(c.TCP.RetainConnectDelayMs) * time.Millisecond
	c.UDP.PingInterval = time.Duration(c.UDP.PingIntervalMs) * time.Millisecond
	c.UDP.PingTimeout = time.Duration(c.UDP.PingTimeoutMs) * time.Millisecond
}

func init() {
	GlobalCfg = defaultConfig()
	GlobalCfg.fillDefaults()

	path := os.Getenv("BDT_CONFIG")
	if path == "" {
		return
	}
	if err := Reload(path); err != nil {
		fmt.Printf("failed to load bdt config from %s: %v\n", path, err)
	}
}

// Reload loads config from path, fills defaults, and swaps GlobalCfg in.
func Reload(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(buf, cfg); err != nil {
		return err
	}
	cfg.fillDefaults()
	GlobalCfg = cfg
	return nil
}
