// Package config loads the TOML configuration of an iframe-remote side.
//
//	[channel]
//	name            = "demo"
//	self_id         = "frame-1"
//	origin          = "tcp://frame"
//	expected_origin = "tcp://host"
//	timeout         = "5s"
//
//	[transport]
//	kind = "tcp"            # tcp | etcd
//	addr = "127.0.0.1:7070"
//
// Unset keys keep their defaults; unknown keys are an error.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mineclover/iframe-remote/codec"
)

// Duration is a time.Duration that reads "250ms" / "5s" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Channel struct {
	Name           string   `toml:"name"`
	SelfID         string   `toml:"self_id"`
	PeerID         string   `toml:"peer_id"`
	Origin         string   `toml:"origin"`
	ExpectedOrigin string   `toml:"expected_origin"`
	TargetOrigin   string   `toml:"target_origin"`
	Timeout        Duration `toml:"timeout"`
	Debug          bool     `toml:"debug"`
	Codec          string   `toml:"codec"`
}

// Transport kinds.
const (
	TransportTCP  = "tcp"
	TransportEtcd = "etcd"
)

type Transport struct {
	Kind          string   `toml:"kind"`
	Addr          string   `toml:"addr"`
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	EtcdPrefix    string   `toml:"etcd_prefix"`
	MessageTTL    int64    `toml:"message_ttl"` // seconds, etcd mailbox and registry leases
	Heartbeat     Duration `toml:"heartbeat"`
}

type Limits struct {
	Rate            float64  `toml:"rate"` // inbound dispatches per second, 0 disables
	Burst           int      `toml:"burst"`
	DispatchTimeout Duration `toml:"dispatch_timeout"` // 0 disables
}

type Devtools struct {
	FunctionPrefix        string         `toml:"function_prefix"`
	FunctionPattern       string         `toml:"function_pattern"`
	IncludeNamespaceProps bool           `toml:"include_namespace_props"`
	Settings              map[string]any `toml:"settings"`
}

type Metrics struct {
	Addr string `toml:"addr"` // empty disables the metrics listener
	Path string `toml:"path"`
}

type Config struct {
	Channel   Channel   `toml:"channel"`
	Transport Transport `toml:"transport"`
	Limits    Limits    `toml:"limits"`
	Devtools  Devtools  `toml:"devtools"`
	Metrics   Metrics   `toml:"metrics"`
}

func Default() Config {
	return Config{
		Channel: Channel{
			Name:         "default",
			TargetOrigin: "*",
			Timeout:      Duration{5 * time.Second},
			Codec:        "json",
		},
		Transport: Transport{
			Kind:       TransportTCP,
			Addr:       "127.0.0.1:7070",
			EtcdPrefix: "/iframe-remote",
			MessageTTL: 30,
			Heartbeat:  Duration{30 * time.Second},
		},
		Limits: Limits{
			Burst: 20,
		},
		Devtools: Devtools{
			FunctionPrefix: "__",
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return finish(cfg, meta)
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg, meta)
}

func finish(cfg Config, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Channel.Name = strings.TrimSpace(c.Channel.Name)
	c.Channel.SelfID = strings.TrimSpace(c.Channel.SelfID)
	c.Channel.PeerID = strings.TrimSpace(c.Channel.PeerID)
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	c.Channel.Codec = strings.ToLower(strings.TrimSpace(c.Channel.Codec))
	endpoints := make([]string, 0, len(c.Transport.EtcdEndpoints))
	for _, ep := range c.Transport.EtcdEndpoints {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	c.Transport.EtcdEndpoints = endpoints
}

func (c Config) Validate() error {
	if err := c.Channel.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	return c.Limits.Validate()
}

func (c Channel) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: channel.name is required")
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("config: channel.timeout must be positive, got %s", c.Timeout.Duration)
	}
	switch c.Codec {
	case "json", "binary":
	default:
		return fmt.Errorf("config: unknown channel.codec %q", c.Codec)
	}
	return nil
}

// CodecType maps channel.codec onto the wire codec.
func (c Channel) CodecType() codec.CodecType {
	return codec.ParseCodecType(c.Codec)
}

func (t Transport) Validate() error {
	switch t.Kind {
	case TransportTCP:
		if t.Addr == "" {
			return fmt.Errorf("config: transport.addr is required for tcp")
		}
	case TransportEtcd:
		if len(t.EtcdEndpoints) == 0 {
			return fmt.Errorf("config: transport.etcd_endpoints is required for etcd")
		}
		if t.MessageTTL <= 0 {
			return fmt.Errorf("config: transport.message_ttl must be positive")
		}
	default:
		return fmt.Errorf("config: unknown transport.kind %q", t.Kind)
	}
	if t.Heartbeat.Duration < 0 {
		return fmt.Errorf("config: transport.heartbeat must not be negative")
	}
	return nil
}

func (l Limits) Validate() error {
	if l.Rate < 0 {
		return fmt.Errorf("config: limits.rate must not be negative")
	}
	if l.Rate > 0 && l.Burst <= 0 {
		return fmt.Errorf("config: limits.burst must be positive when limits.rate is set")
	}
	if l.DispatchTimeout.Duration < 0 {
		return fmt.Errorf("config: limits.dispatch_timeout must not be negative")
	}
	return nil
}
