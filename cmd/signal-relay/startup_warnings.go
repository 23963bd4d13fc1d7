package main

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/origin"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if (origin.Policy{Allowed: cfg.AllowedOrigins}).Wildcard() {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail and /webrtc/ice will return 503",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}

	if !cfg.TURNREST.Enabled() && hasTURNWithoutCredentials(cfg.ICEServers) {
		logger.Warn("startup warning: TURN server configured without credentials",
			"warning_code", "turn_without_credentials",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "rate_limit_disabled_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (every peer's inbound frame may allocate this much)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.IdleTimeout < cfg.SweepInterval {
		logger.Warn("startup warning: IDLE_TIMEOUT is shorter than SWEEP_INTERVAL; idle peers are only evicted once per sweep",
			"warning_code", "idle_timeout_below_sweep_interval",
			"idle_timeout", cfg.IdleTimeout,
			"sweep_interval", cfg.SweepInterval,
		)
	}
}

func hasTURNWithoutCredentials(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		if !config.IsTURN(s) {
			continue
		}
		cred, _ := s.Credential.(string)
		if s.Username == "" || cred == "" {
			return true
		}
	}
	return false
}
