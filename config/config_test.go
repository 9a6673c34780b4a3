package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mineclover/iframe-remote/codec"
)

const sample = `
[channel]
name = "demo"
self_id = "frame-1"
origin = "tcp://frame"
expected_origin = "tcp://host"
timeout = "250ms"
codec = "binary"

[transport]
kind = "etcd"
etcd_endpoints = ["127.0.0.1:2379", " "]
message_ttl = 10
heartbeat = "0s"

[limits]
rate = 50
burst = 5
dispatch_timeout = "1s"

[devtools]
function_prefix = "dbg_"
include_namespace_props = true

[devtools.settings]
theme = "dark"

[metrics]
addr = "127.0.0.1:9100"
`

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iframe-remote.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Channel.Name != "demo" || cfg.Channel.SelfID != "frame-1" {
		t.Fatalf("unexpected channel: %+v", cfg.Channel)
	}
	if cfg.Channel.Timeout.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.Channel.Timeout)
	}
	if cfg.Channel.CodecType() != codec.CodecTypeBinary {
		t.Fatalf("unexpected codec: %q", cfg.Channel.Codec)
	}
	// 未设置的键保留默认值
	if cfg.Channel.TargetOrigin != "*" {
		t.Fatalf("unexpected target origin: %q", cfg.Channel.TargetOrigin)
	}
	if cfg.Transport.Kind != TransportEtcd {
		t.Fatalf("unexpected transport: %q", cfg.Transport.Kind)
	}
	if len(cfg.Transport.EtcdEndpoints) != 1 {
		t.Fatalf("unexpected endpoints: %+v", cfg.Transport.EtcdEndpoints)
	}
	if cfg.Transport.EtcdPrefix != "/iframe-remote" {
		t.Fatalf("unexpected prefix: %q", cfg.Transport.EtcdPrefix)
	}
	if cfg.Transport.Heartbeat.Duration != 0 {
		t.Fatalf("unexpected heartbeat: %v", cfg.Transport.Heartbeat)
	}
	if cfg.Limits.Rate != 50 || cfg.Limits.Burst != 5 {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}
	if cfg.Limits.DispatchTimeout.Duration != time.Second {
		t.Fatalf("unexpected dispatch timeout: %v", cfg.Limits.DispatchTimeout)
	}
	if cfg.Devtools.FunctionPrefix != "dbg_" || !cfg.Devtools.IncludeNamespaceProps {
		t.Fatalf("unexpected devtools: %+v", cfg.Devtools)
	}
	if cfg.Devtools.Settings["theme"] != "dark" {
		t.Fatalf("unexpected settings: %+v", cfg.Devtools.Settings)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("unexpected metrics: %+v", cfg.Metrics)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Channel.Timeout.Duration != 5*time.Second {
		t.Fatalf("unexpected default timeout: %v", cfg.Channel.Timeout)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse("[channel]\nname = \"x\"\nbogus = 1\n")
	if err == nil || !strings.Contains(err.Error(), "channel.bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "[channel]\ntimeout = \"soon\"\n",
		"zero timeout":  "[channel]\ntimeout = \"0s\"\n",
		"bad codec":     "[channel]\ncodec = \"xml\"\n",
		"bad transport": "[transport]\nkind = \"udp\"\n",
		"etcd no peers": "[transport]\nkind = \"etcd\"\n",
		"no burst":      "[limits]\nrate = 1.0\nburst = 0\n",
		"empty channel": "[channel]\nname = \" \"\n",
	}
	for name, doc := range cases {
		if _, err := Parse(doc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
