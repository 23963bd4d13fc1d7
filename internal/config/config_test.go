package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("SweepInterval=%v, want 30s", cfg.SweepInterval)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("IdleTimeout=%v, want 90s", cfg.IdleTimeout)
	}
	if cfg.WSPingInterval != DefaultWSPingInterval || cfg.WSPongTimeout != DefaultWSPongTimeout {
		t.Fatalf("ping/pong=%v/%v, want %v/%v", cfg.WSPingInterval, cfg.WSPongTimeout, DefaultWSPingInterval, DefaultWSPongTimeout)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Fatalf("MaxMessagesPerSecond=%d, want %d", cfg.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	}
	if cfg.SendQueueSize != DefaultSendQueueSize {
		t.Fatalf("SendQueueSize=%d, want %d", cfg.SendQueueSize, DefaultSendQueueSize)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST enabled by default")
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError=%v", err)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestListenAddr_PortFallback(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarPort: "9000"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, ":9000")
	}

	cfg, err = load(lookupMap(map[string]string{
		envVarPort:       "9000",
		envVarListenAddr: "127.0.0.1:7000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("ListenAddr=%q, want explicit listen addr to win", cfg.ListenAddr)
	}

	cfg, err = load(lookupMap(map[string]string{envVarPort: "9000"}), []string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:0" {
		t.Fatalf("ListenAddr=%q, want flag to win", cfg.ListenAddr)
	}
}

func TestListenAddr_InvalidPort(t *testing.T) {
	for _, port := range []string{"nope", "0", "70000"} {
		if _, err := load(lookupMap(map[string]string{envVarPort: port}), nil); err == nil {
			t.Fatalf("PORT=%q: expected error, got nil", port)
		}
	}
}

func TestLivenessDurations_EnvOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSweepInterval: "5s",
		envVarIdleTimeout:   "15s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("SweepInterval=%v, want 5s", cfg.SweepInterval)
	}
	if cfg.IdleTimeout != 15*time.Second {
		t.Fatalf("IdleTimeout=%v, want 15s", cfg.IdleTimeout)
	}
}

func TestLivenessDurations_Invalid(t *testing.T) {
	cases := []map[string]string{
		{envVarSweepInterval: "0s"},
		{envVarIdleTimeout: "-1s"},
		{envVarSweepInterval: "soon"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("env=%v: expected error, got nil", env)
		}
	}
}

func TestWSPingMustBeLessThanPongTimeout(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarWSPingInterval: "30s",
		envVarWSPongTimeout:  "30s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), envVarWSPingInterval) {
		t.Fatalf("err=%v, expected mention of %s", err, envVarWSPingInterval)
	}
}

func TestTransportLimits_Validation(t *testing.T) {
	cases := []map[string]string{
		{envVarMaxMessageBytes: "0"},
		{envVarMaxMessagesPerSecond: "-1"},
		{envVarSendQueueSize: "0"},
		{envVarSendQueueSize: "many"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("env=%v: expected error, got nil", env)
		}
	}

	cfg, err := load(lookupMap(map[string]string{envVarMaxMessagesPerSecond: "0"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxMessagesPerSecond != 0 {
		t.Fatalf("MaxMessagesPerSecond=%d, want 0 (unlimited)", cfg.MaxMessagesPerSecond)
	}
}

func TestAllowedOrigins_Normalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: " HTTPS://Example.COM:443 , http://localhost:5173,*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestAllowedOrigins_Invalid(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "example.com",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestTURNREST_Config(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
		envTurnURLs:                "turn:turn.example.com:3478?transport=udp",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("expected TURN REST enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("TTLSeconds=%d, want %d", cfg.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("UsernamePrefix=%q, want %q", cfg.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix)
	}
	// TURN without static creds is fine when credentials are minted per request.
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError=%v", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%v, want 1 entry", cfg.ICEServers)
	}
}

func TestTURNREST_InvalidPrefixAndTTL(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "s3cret",
		envVarTURNRESTUsernamePrefix: "bad:prefix",
	}), nil)
	if err == nil {
		t.Fatalf("expected prefix error, got nil")
	}

	_, err = load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
		envVarTURNRESTTTLSeconds:   "0",
	}), nil)
	if err == nil {
		t.Fatalf("expected ttl error, got nil")
	}
}

func TestICEConfigErrorDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error for TURN without credentials")
	}
	if cfg.ICEServers != nil {
		t.Fatalf("ICEServers=%v, want nil on config error", cfg.ICEServers)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%q) returned nil logger", format)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
