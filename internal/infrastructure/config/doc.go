// Package config handles loading and validating MeterLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with METERLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set
// via environment variables, and the config file kept at 0600.
//
// The display offset (site.display_utc_offset) fixes the zone in which
// aggregation buckets are cut and labelled. It is a fixed offset, not a
// named zone, so bucket boundaries never move with daylight saving rules.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loc := cfg.DisplayLocation()
package config
