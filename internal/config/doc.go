// Package config handles configuration loading for funis-gateway.
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
//  1. Path from FUNIS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/funis/gateway.yaml
//  3. ~/.config/funis/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	relay:
//	  token: "${RELAY_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	turns:
//	  wait_timeout: "120s"
//	  poll_interval: "1s"
//	cache:
//	  thread_ttl: "2500ms"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8099"
//
// Upstream relay:
//
//	relay:
//	  url: "http://127.0.0.1:8765"
//	  token: "${RELAY_TOKEN}"
//
// Turn submission:
//
//	turns:
//	  default_wait: true
//	  wait_timeout: "120s"
//	  poll_interval: "1s"
//
// Database:
//
//	database:
//	  path: "/data/funis.db"
//
// Notifications:
//
//	notify:
//	  webhook_id: "velox_funis_webhook"
//	  text_max_chars: 4000
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
