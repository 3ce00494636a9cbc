// Package config handles HCL configuration parsing, validation and the
// generation of a default configuration file.
//
// # Overview
//
// Warden reads a single HCL file (warden.hcl). A missing file is not an
// error: every field has a default. Durations are strings accepted by
// time.ParseDuration.
//
// # Example
//
//	log_level     = "info"
//	poll_interval = "5s"
//
//	firewall {
//	  backend         = "firewalld"
//	  command_timeout = "5s"
//	}
//
//	stats {
//	  history         = 60
//	  persist_max_age = "1h"
//
//	  kind "traffic" {
//	    freshness = "1s"
//	  }
//	}
//
//	metrics {
//	  listen = "127.0.0.1:9469"
//	}
//
// # Environment
//
// WARDEN_LOG_LEVEL and WARDEN_STATE_DIR override the corresponding fields.
package config
