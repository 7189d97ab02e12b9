// Package config handles configuration loading for almanac.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ALMANAC_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/almanac/almanac.yaml
//  3. ~/.config/almanac/almanac.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	frontends:
//	  slack:
//	    bot_token: "${SLACK_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	conversation:
//	  reply_timeout: "5m"
//	  settings_timeout: "15m"
//
// Supported units: ns, us, ms, s, m, h. A zero or absent duration means
// the conversation waits forever.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"  # Web surface (settings form, webhooks, chat)
//	  base_url: ""               # External URL for settings links (derived if empty)
//
// Database:
//
//	database:
//	  path: "/var/lib/almanac/almanac.db"
//
// Intent classification:
//
//	nlp:
//	  wit_token: "${WIT_TOKEN}"  # Empty selects the offline keyword classifier
//
// Frontends:
//
//	frontends:
//	  terminal:
//	    enabled: true
//	  slack:
//	    enabled: false
//	    signing_secret: "${SLACK_SIGNING_SECRET}"
//	    bot_token: "${SLACK_BOT_TOKEN}"
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@almanac:matrix.org"
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
//	  webchat:
//	    enabled: true
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "almanac"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - HTTP address presence (unless Tailscale provides the listener)
//   - Database path presence
//   - Per-frontend required credentials when a frontend is enabled
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
