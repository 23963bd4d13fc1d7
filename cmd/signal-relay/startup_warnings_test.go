package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func quietConfig() config.Config {
	return config.Config{
		Mode:                 config.ModeDev,
		SweepInterval:        30 * time.Second,
		IdleTimeout:          90 * time.Second,
		MaxMessageBytes:      64 * 1024,
		MaxMessagesPerSecond: 50,
	}
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_QuietByDefault(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, quietConfig())

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.AllowedOrigins = []string{"*"}
	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupWarnings_TURNWithoutCredentials(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}}}
	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["turn_without_credentials"]; !ok {
		t.Fatalf("expected warning_code=turn_without_credentials, got %#v", records())
	}
}

func TestStartupWarnings_TURNRESTSuppressesMissingCredentials(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}}}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "signal"}
	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["turn_without_credentials"]; ok {
		t.Fatalf("unexpected turn_without_credentials warning with TURN REST enabled")
	}
}

func TestStartupWarnings_RateLimitDisabledInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.Mode = config.ModeProd
	cfg.MaxMessagesPerSecond = 0
	logStartupWarnings(logger, cfg)

	r, ok := warningCodes(records())["rate_limit_disabled_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=rate_limit_disabled_in_prod, got %#v", records())
	}
	if r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
	}
}

func TestStartupWarnings_IdleTimeoutBelowSweep(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.IdleTimeout = 10 * time.Second
	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["idle_timeout_below_sweep_interval"]; !ok {
		t.Fatalf("expected warning_code=idle_timeout_below_sweep_interval, got %#v", records())
	}
}
