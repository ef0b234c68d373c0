package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/playout/internal/certs"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/session"
)

const sampleYAML = `
api:
  addr: ":9000"
logging:
  level: warn
defaults:
  framing: raw
  negotiation_timeout: 2s
  queue:
    max_packets: 50
streams:
  - id: cam1
    url: wss://example.com/live/cam1
    captions: true
  - id: cam2
    url: quic://127.0.0.1:4443
    framing: protocol
    disable_audio: true
    queue:
      max_packets: 10
      max_bytes: 4096
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.API.Addr != ":9000" {
		t.Errorf("api addr = %q", cfg.API.Addr)
	}
	if cfg.SlogLevel() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", cfg.SlogLevel())
	}
	if cfg.Defaults.NegotiationTimeout != 2*time.Second {
		t.Errorf("negotiation timeout = %v", cfg.Defaults.NegotiationTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Defaults.Queue.MaxBytes != playout.DefaultMaxBytes {
		t.Errorf("default max bytes = %d", cfg.Defaults.Queue.MaxBytes)
	}
	if cfg.Defaults.DialTimeout != 10*time.Second {
		t.Errorf("dial timeout = %v", cfg.Defaults.DialTimeout)
	}

	sessions := cfg.Sessions(nil)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	cam1, cam2 := sessions[0], sessions[1]
	if cam1.ID != "cam1" || cam1.Framing != session.FramingRaw || !cam1.Captions {
		t.Errorf("cam1 = %+v", cam1)
	}
	if cam1.Queue.MaxPackets != 50 || cam1.NegotiationTimeout != 2*time.Second {
		t.Errorf("cam1 defaults not applied: %+v", cam1)
	}
	if cam2.Framing != session.FramingProtocol || !cam2.DisableAudio {
		t.Errorf("cam2 = %+v", cam2)
	}
	if cam2.Queue.MaxPackets != 10 || cam2.Queue.MaxBytes != 4096 {
		t.Errorf("cam2 queue = %+v", cam2.Queue)
	}
	if cam1.Dial == nil || cam2.Dial == nil {
		t.Error("sessions should carry a dialer")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad level", "logging: {level: loud}", "log level"},
		{"bad default framing", "defaults: {framing: mp4}", "framing"},
		{"negative timeout", "defaults: {negotiation_timeout: -1s}", "negotiation_timeout"},
		{"negative queue", "defaults: {queue: {max_bytes: -1}}", "non-negative"},
		{"missing url", "streams: [{id: a}]", "url is required"},
		{"bad scheme", "streams: [{url: 'http://x'}]", "unsupported scheme"},
		{"duplicate id", "streams: [{id: a, url: 'ws://x'}, {id: a, url: 'ws://y'}]", "duplicate"},
		{"bad stream framing", "streams: [{url: 'ws://x', framing: ts}]", "framing"},
		{"bad fingerprint", "streams: [{url: 'quic://x:1', fingerprint: zz}]", "fingerprint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("streams: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playout.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIAddr, ":7000")
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvURL, "srt://10.0.0.1:6000?streamid=live")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Addr != ":7000" {
		t.Errorf("api addr = %q, want env override", cfg.API.Addr)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.SlogLevel())
	}
	if len(cfg.Streams) != 3 || cfg.Streams[2].URL != "srt://10.0.0.1:6000?streamid=live" {
		t.Errorf("streams = %+v", cfg.Streams)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvAPIAddr, "")
	t.Setenv(EnvDebug, "")
	t.Setenv(EnvURL, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Addr != ":4444" || len(cfg.Streams) != 0 {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestStreamTLSConfig(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	fp := cert.FingerprintBase64()

	tests := []struct {
		name       string
		stream     StreamConfig
		wantNil    bool
		wantALPN   bool
		wantPinned bool
	}{
		{"plain ws", StreamConfig{URL: "ws://x/live"}, true, false, false},
		{"srt", StreamConfig{URL: "srt://x:1"}, true, false, false},
		{"wss defaults", StreamConfig{URL: "wss://x/live"}, true, false, false},
		{"quic roots", StreamConfig{URL: "quic://x:1"}, false, true, false},
		{"quic pinned", StreamConfig{URL: "quic://x:1", Fingerprint: fp}, false, true, true},
		{"wss pinned", StreamConfig{URL: "wss://x/live", Fingerprint: fp}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tc := tt.stream.TLSConfig()
			if tt.wantNil {
				if tc != nil {
					t.Fatalf("got %+v, want nil", tc)
				}
				return
			}
			if tc == nil {
				t.Fatal("got nil config")
			}
			if got := len(tc.NextProtos) > 0 && tc.NextProtos[0] == certs.ALPN; got != tt.wantALPN {
				t.Errorf("ALPN = %v, want %v", tc.NextProtos, tt.wantALPN)
			}
			if got := tc.VerifyPeerCertificate != nil; got != tt.wantPinned {
				t.Errorf("pinned = %v, want %v", got, tt.wantPinned)
			}
		})
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile("../../configs/playout.example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Streams) != 3 {
		t.Errorf("got %d streams, want 3", len(cfg.Streams))
	}
}
